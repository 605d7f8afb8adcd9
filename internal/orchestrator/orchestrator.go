// Package orchestrator runs a queue of experiments on one worker goroutine
// and reports exactly one terminal event per run.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/hilo/internal/events"
	"github.com/randalmurphal/hilo/internal/executor"
	"github.com/randalmurphal/hilo/internal/experiment"
	"github.com/randalmurphal/hilo/internal/hardware"
	"github.com/randalmurphal/hilo/internal/progress"
	"github.com/randalmurphal/hilo/internal/retry"
	"github.com/randalmurphal/hilo/internal/state"
)

// Orchestrator sequences executor calls over an immutable experiment queue.
//
// Lifecycle: Idle -> Running -> {Halted <-> Running} -> {Cancelled | Ended | Completed}.
// Run is valid once.
type Orchestrator struct {
	runID       string
	plan        string
	experiments []experiment.Experiment

	state     *state.ExecutionState
	estimator *progress.Estimator
	exec      *executor.Executor
	events    *events.PublishHelper

	store      RunStore
	summaryDir string
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	runID      string
	plan       string
	publisher  events.Publisher
	store      RunStore
	summaryDir string
	execCfg    executor.Config
	progress   progress.Options
	logger     *slog.Logger
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithPlanName records where the queue came from.
func WithPlanName(name string) Option {
	return func(o *options) { o.plan = name }
}

// WithPublisher sets the status channel.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithStore persists the run record and summary.
func WithStore(s RunStore) Option {
	return func(o *options) { o.store = s }
}

// WithSummaryDir writes <dir>/<run-id>.json when the run finishes.
func WithSummaryDir(dir string) Option {
	return func(o *options) { o.summaryDir = dir }
}

// WithExecutorConfig sets the retry policy and pause behavior.
func WithExecutorConfig(cfg executor.Config) Option {
	return func(o *options) { o.execCfg = cfg }
}

// WithProgressOptions configures the progress estimator.
func WithProgressOptions(p progress.Options) Option {
	return func(o *options) { o.progress = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an orchestrator for one run over exps. The queue is copied and
// never modified afterwards. Only the worker calling Run touches target.
func New(exps []experiment.Experiment, target hardware.Target, opts ...Option) *Orchestrator {
	o := options{
		execCfg:  executor.DefaultConfig(),
		progress: progress.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	queue := make([]experiment.Experiment, len(exps))
	copy(queue, exps)

	estimates := make([]int, len(queue))
	for i := range queue {
		estimates[i] = queue[i].EstimatedIterations()
	}
	est := progress.NewEstimator(o.progress)
	est.SetPlan(estimates)

	logger := o.logger.With("run_id", o.runID)
	st := state.New(len(queue))
	helper := events.NewPublishHelper(o.publisher, o.runID)

	return &Orchestrator{
		runID:       o.runID,
		plan:        o.plan,
		experiments: queue,
		state:       st,
		estimator:   est,
		exec: executor.New(st, retry.New(target, logger),
			executor.WithConfig(o.execCfg),
			executor.WithPublisher(helper),
			executor.WithEstimator(est),
			executor.WithLogger(logger),
		),
		events:     helper,
		store:      o.store,
		summaryDir: o.summaryDir,
		logger:     logger,
		now:        time.Now,
	}
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string { return o.runID }

// State returns the shared execution state. Control surfaces use it to
// issue commands and read snapshots.
func (o *Orchestrator) State() *state.ExecutionState { return o.state }

// Progress returns the current progress estimate.
func (o *Orchestrator) Progress() progress.Estimate {
	return o.estimator.Estimate(o.state.Snapshot())
}

// Experiments returns a copy of the queue.
func (o *Orchestrator) Experiments() []experiment.Experiment {
	out := make([]experiment.Experiment, len(o.experiments))
	copy(out, o.experiments)
	return out
}

// Run executes the queue. Cancelled and Ended are outcomes, not errors: the
// returned error is non-nil only when the run could not start.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	if err := o.state.Start(); err != nil {
		return nil, err
	}
	startedAt := o.state.Snapshot().StartedAt
	o.estimator.Start(startedAt)
	o.logger.Info("run started", "plan", o.plan, "experiments", len(o.experiments))
	o.persistStart(ctx, startedAt)

	var (
		results []executor.Result
		stop    *executor.Result
		stopped bool
	)

	for i := range o.experiments {
		exp := &o.experiments[i]
		res := o.exec.Run(ctx, i+1, exp)
		results = append(results, res)

		if !res.Outcome.Finished() {
			stop = &res
			break
		}
		if res.Outcome == executor.OutcomeFailed && exp.ShouldStopOnFail() {
			o.logger.Warn("stopping on failure", "index", i+1, "experiment", exp.ID)
			stopped = true
			break
		}
	}

	for i := len(results); i < len(o.experiments); i++ {
		exp := &o.experiments[i]
		results = append(results, executor.Result{
			Index:           i + 1,
			ExperimentID:    exp.ID,
			Name:            exp.Label(),
			Outcome:         executor.OutcomeNotStarted,
			TotalIterations: exp.EstimatedIterations(),
		})
	}

	snap := o.state.Snapshot()
	final := state.RunCompleted
	if stop != nil {
		final = state.RunCancelled
		if stop.Stop == state.CommandEnd {
			final = state.RunEnded
		}
	}
	o.state.Finish(final)

	finishedAt := o.now()
	summary := newSummary(o.runID, o.plan, final, results, stopped, startedAt, finishedAt)
	summary.IterationsDone = snap.IterationsDone
	summary.Commands = o.state.Commands()
	if stop != nil {
		summary.StopIndex = stop.Index
		summary.Reason = stop.Reason
	}

	o.publishTerminal(summary, stop, snap)
	o.logger.Info("run finished",
		"state", final,
		"completed", summary.Completed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.Duration,
	)

	o.persistFinish(ctx, summary)
	return summary, nil
}

// publishTerminal emits the single terminal event of the run.
func (o *Orchestrator) publishTerminal(s *Summary, stop *executor.Result, snap state.Snapshot) {
	switch s.FinalState {
	case state.RunCancelled, state.RunEnded:
		d := events.StopData{
			AtIndex:              stop.Index,
			CompletedExperiments: snap.CompletedExperiments,
			CompletedIterations:  stop.CompletedIterations,
			Reason:               stop.Reason,
		}
		if s.FinalState == state.RunEnded {
			o.events.Ended(d)
		} else {
			o.events.Cancelled(d)
		}
	default:
		o.events.AllComplete(events.CompleteData{
			Total:        s.Total,
			Completed:    s.Completed,
			Succeeded:    s.Succeeded,
			Failed:       s.Failed,
			StoppedEarly: s.StoppedEarly,
			Duration:     events.FormatDuration(s.Duration),
		})
	}
}
