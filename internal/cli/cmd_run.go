package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/hilo/internal/api"
	"github.com/randalmurphal/hilo/internal/config"
	"github.com/randalmurphal/hilo/internal/events"
	"github.com/randalmurphal/hilo/internal/executor"
	"github.com/randalmurphal/hilo/internal/experiment"
	"github.com/randalmurphal/hilo/internal/lock"
	"github.com/randalmurphal/hilo/internal/orchestrator"
	"github.com/randalmurphal/hilo/internal/progress"
	"github.com/randalmurphal/hilo/internal/state"
	"github.com/randalmurphal/hilo/internal/tui"
)

// displayRefresh is how often the plain progress line is redrawn.
const displayRefresh = 500 * time.Millisecond

// runFlagPaths maps run flags onto the config keys they override.
var runFlagPaths = map[string]string{
	"serve":        "server.enabled",
	"port":         "server.port",
	"target":       "hardware.target",
	"seed":         "hardware.sim.seed",
	"stop-on-fail": "execution.stop_on_fail",
	"plans":        "plans.dir",
}

type runOptions struct {
	runID string
	noTUI bool
}

// newRunCmd creates the run command.
func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [plan-file...]",
		Short: "Run experiment plans against the target",
		Long: `Run one or more experiment plans as a single queue.

With no arguments every plan under plans/ (plans.dir) is loaded in lexical
order. The probe is locked for the duration of the run.

On a terminal the control panel is shown:
  p pause   r resume   c cancel   e end   q quit

Elsewhere events are printed line by line; with --no-tui on a terminal,
type p, r, c, or e (optionally followed by a reason) and Enter. Ctrl+C
cancels at the next checkpoint; a second Ctrl+C stops immediately.

Examples:
  hilo run
  hilo run plans/ia-bringup.yaml
  hilo run --serve --port 9000      # also expose the control API
  hilo run --target sim --seed 7    # run against the simulator`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig()
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, tc, runFlagPaths); err != nil {
				return err
			}
			if err := tc.Config.Validate(); err != nil {
				return err
			}
			if err := setupLogging(tc.Config); err != nil {
				return err
			}
			return executeRun(cmd.Context(), cmd, tc.Config, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run identifier (default: generated)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "print events instead of showing the control panel")
	cmd.Flags().Bool("serve", false, "expose the control API while running")
	cmd.Flags().Int("port", 0, "control API port")
	cmd.Flags().String("target", "", "hardware target (sim, command)")
	cmd.Flags().Int64("seed", 0, "simulator seed")
	cmd.Flags().Bool("stop-on-fail", false, "end the run at the first failed experiment")
	cmd.Flags().String("plans", "", "plans directory")

	return cmd
}

// executeRun wires one run: probe lock, history store, publisher, target,
// orchestrator, and the control surfaces. The worker, the API server, and
// the UI run in one errgroup.
func executeRun(ctx context.Context, cmd *cobra.Command, cfg *config.Config, files []string, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := slog.Default()
	out := cmd.OutOrStdout()

	plans, err := loadPlans(cfg, files)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if err := experiment.ValidateQueue(plans...); err != nil {
		return err
	}
	exps := experiment.Queue(plans...)
	if cfg.Execution.StopOnFail {
		forceStopOnFail(exps)
	}

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	probe := lock.New(cfg.Hardware.LockFile)
	if err := probe.Acquire(runID); err != nil {
		return err
	}
	defer func() {
		if err := probe.Release(); err != nil {
			logger.Warn("release probe lock", "error", err)
		}
	}()

	store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pub := events.NewPersistentPublisher(store, "worker", logger)
	defer pub.Close()

	target, err := newTarget(cfg.Hardware, logger)
	if err != nil {
		return err
	}

	orch := orchestrator.New(exps, target,
		orchestrator.WithRunID(runID),
		orchestrator.WithPlanName(planName(plans)),
		orchestrator.WithPublisher(pub),
		orchestrator.WithStore(store),
		orchestrator.WithSummaryDir(cfg.Execution.SummaryDir),
		orchestrator.WithExecutorConfig(executor.ConfigFromHilo(cfg)),
		orchestrator.WithProgressOptions(cfg.Progress.Options()),
		orchestrator.WithLogger(logger),
	)

	// Subscribe before the worker starts so no event is missed.
	ch := pub.Subscribe(runID)
	defer pub.Unsubscribe(runID, ch)

	runCtx, hardStop := context.WithCancel(ctx)
	defer hardStop()
	stopWatching := watchInterrupts(orch.State(), hardStop, cmd.ErrOrStderr())
	defer stopWatching()

	g, gctx := errgroup.WithContext(runCtx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	var summary *orchestrator.Summary
	g.Go(func() error {
		defer stopServe()
		s, err := orch.Run(gctx)
		summary = s
		return err
	})

	if cfg.Server.Enabled {
		srv := api.New(
			api.WithRun(orch),
			api.WithHistory(store),
			api.WithPublisher(pub),
			api.WithAckTimeout(cfg.Execution.AckTimeout),
			api.WithLogger(logger),
		)
		g.Go(func() error {
			return srv.Serve(serveCtx, cfg.Server.Addr())
		})
	}

	g.Go(func() error {
		return watchRun(gctx, cmd.InOrStdin(), out, orch, ch, cfg, opts)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return reportRun(out, summary, cfg.Execution.SummaryDir)
}

// watchRun shows the run until its terminal event. The control panel is
// used on a terminal; if the operator detaches from it, the rest of the
// run is printed as plain lines and commands are read from stdin.
func watchRun(ctx context.Context, in io.Reader, out io.Writer, orch *orchestrator.Orchestrator, ch <-chan events.Event, cfg *config.Config, opts runOptions) error {
	if !opts.noTUI && !quiet && !jsonOut && isTerminal(out) {
		terminal, err := tui.RunPanel(ctx, orch, ch,
			tui.WithAckTimeout(cfg.Execution.AckTimeout),
			tui.WithVerbose(verbose),
		)
		if err != nil {
			return err
		}
		if terminal != nil {
			return nil
		}
	}
	if !jsonOut && isTerminal(in) {
		go readCommands(in, orch.State(), out)
	}
	watchPlain(ctx, out, orch, ch)
	return nil
}

// watchPlain prints events as lines under a rewritten progress line.
func watchPlain(ctx context.Context, out io.Writer, orch *orchestrator.Orchestrator, ch <-chan events.Event) {
	silent := quiet || jsonOut
	printer := events.NewPrinter(out, events.WithVerbose(verbose))
	display := progress.NewDisplay(out, silent || !isTerminal(out))
	defer display.Clear()

	ticker := time.NewTicker(displayRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			display.Update(orch.State().Snapshot(), orch.Progress())
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !silent || (e.Type == events.EventError && !jsonOut) {
				display.Clear()
				printer.Print(e)
			}
			if e.Type.IsTerminal() {
				return
			}
			display.Update(orch.State().Snapshot(), orch.Progress())
		}
	}
}

// reportRun prints the final summary. Failed experiments make the command
// fail; a cancel or end requested by the operator does not.
func reportRun(out io.Writer, s *orchestrator.Summary, summaryDir string) error {
	if s == nil {
		return fmt.Errorf("run produced no summary")
	}

	if jsonOut {
		if err := writeJSON(out, s); err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
	} else {
		printSummary(out, s, summaryDir)
	}

	if s.Failed > 0 {
		return fmt.Errorf("%d of %d experiments failed", s.Failed, s.Total)
	}
	return nil
}

func printSummary(out io.Writer, s *orchestrator.Summary, summaryDir string) {
	_, _ = fmt.Fprintf(out, "\n%s Run %s %s in %s\n", finalIcon(s.FinalState), s.RunID, s.FinalState, events.FormatDuration(s.Duration))
	if s.Plan != "" {
		_, _ = fmt.Fprintf(out, "   Plan:        %s\n", s.Plan)
	}
	_, _ = fmt.Fprintf(out, "   Experiments: %d/%d completed (%d succeeded, %d failed, %d not started)\n",
		s.Completed, s.Total, s.Succeeded, s.Failed, s.NotStarted)
	_, _ = fmt.Fprintf(out, "   Iterations:  %d\n", s.IterationsDone)
	if s.StoppedEarly {
		_, _ = fmt.Fprintln(out, "   Stopped on failure")
	}
	if s.Reason != "" {
		_, _ = fmt.Fprintf(out, "   Reason:      %s\n", s.Reason)
	}
	if summaryDir != "" {
		_, _ = fmt.Fprintf(out, "   Summary:     %s\n", filepath.Join(summaryDir, s.RunID+".json"))
	}

	if len(s.Experiments) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "  #\tEXPERIMENT\tOUTCOME\tITERATIONS\tRECOVERIES\tNUDGES")
	for _, r := range s.Experiments {
		_, _ = fmt.Fprintf(w, "  %d\t%s\t%s\t%d/%d\t%d\t%d\n",
			r.Index, r.Name, r.Outcome, r.CompletedIterations, r.TotalIterations, r.Recoveries, r.Nudges)
	}
	_ = w.Flush()
}

func finalIcon(s state.RunState) string {
	switch s {
	case state.RunCompleted:
		return "🏁"
	case state.RunEnded:
		return "⏹"
	case state.RunCancelled:
		return "🛑"
	default:
		return "•"
	}
}
