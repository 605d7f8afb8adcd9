package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/hilo/internal/db"
	"github.com/randalmurphal/hilo/internal/events"
)

// newHistoryCmd creates the history command.
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded in the history database, newest first.

Examples:
  hilo history
  hilo history --limit 5
  hilo history show <run-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "RUN ID\tSTATUS\tPLAN\tEXPERIMENTS\tFAILED\tSTARTED\tDURATION")
			for _, r := range runs {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
					r.ID, r.Status, dash(r.Plan), r.CompletedExperiments, r.TotalExperiments,
					r.Failed, r.StartedAt.Local().Format(time.DateTime), runDuration(r))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	cmd.AddCommand(newHistoryShowCmd())
	return cmd
}

// newHistoryShowCmd creates the 'history show' subcommand.
func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			r, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, r)
			}
			printRun(out, r)
			return nil
		},
	}
}

// newEventsCmd creates the events command.
func newEventsCmd() *cobra.Command {
	var (
		types    []string
		afterSeq uint64
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the recorded event log of a run",
		Long: `Show the status events a run published, in order.

Examples:
  hilo events <run-id>
  hilo events <run-id> --type execution_halted --type execution_resumed
  hilo events <run-id> --after 40 --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rows, err := store.QueryEvents(cmd.Context(), db.QueryEventsOptions{
				RunID:      args[0],
				EventTypes: types,
				AfterSeq:   afterSeq,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, rows)
			}
			if len(rows) == 0 {
				_, _ = fmt.Fprintf(out, "No events recorded for %s.\n", args[0])
				return nil
			}
			return printEvents(out, rows)
		},
	}

	cmd.Flags().StringSliceVar(&types, "type", nil, "only show these event types")
	cmd.Flags().Uint64Var(&afterSeq, "after", 0, "only show events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events")
	return cmd
}

// openHistory opens the configured history database.
func openHistory() (*db.DB, error) {
	tc, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(tc.Config.Database)
}

func printRun(out io.Writer, r *db.Run) {
	_, _ = fmt.Fprintf(out, "Run:         %s\n", r.ID)
	_, _ = fmt.Fprintf(out, "Status:      %s\n", r.Status)
	_, _ = fmt.Fprintf(out, "Plan:        %s\n", dash(r.Plan))
	_, _ = fmt.Fprintf(out, "Experiments: %d/%d completed (%d succeeded, %d failed)\n",
		r.CompletedExperiments, r.TotalExperiments, r.Succeeded, r.Failed)
	if r.StopIndex > 0 {
		_, _ = fmt.Fprintf(out, "Stopped at:  experiment %d\n", r.StopIndex)
	}
	if r.Reason != "" {
		_, _ = fmt.Fprintf(out, "Reason:      %s\n", r.Reason)
	}
	_, _ = fmt.Fprintf(out, "Started:     %s\n", r.StartedAt.Local().Format(time.DateTime))
	_, _ = fmt.Fprintf(out, "Duration:    %s\n", runDuration(r))
}

func printEvents(out io.Writer, rows []db.EventLog) error {
	for _, row := range rows {
		e, err := events.FromLog(row)
		if err != nil {
			return err
		}
		line := events.Format(e)
		if line == "" {
			line = string(e.Type)
		}
		_, _ = fmt.Fprintf(out, "%4d  %s  %s\n", e.Seq, e.Time.Local().Format(time.TimeOnly), line)
	}
	return nil
}

func runDuration(r *db.Run) string {
	if r.FinishedAt == nil {
		return "running"
	}
	return events.FormatDuration(r.FinishedAt.Sub(r.StartedAt))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
