// Package executor runs the iterations of one experiment against the
// hardware target, honoring control commands at iteration checkpoints.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/hilo/internal/events"
	"github.com/randalmurphal/hilo/internal/experiment"
	"github.com/randalmurphal/hilo/internal/progress"
	"github.com/randalmurphal/hilo/internal/retry"
	"github.com/randalmurphal/hilo/internal/state"
)

// Outcome is how an experiment ended.
type Outcome string

const (
	OutcomeNotStarted Outcome = "not_started"
	OutcomeSuccess    Outcome = "success"
	OutcomeFailed     Outcome = "failed"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeEnded      Outcome = "ended"
)

// Finished reports whether the experiment reached success or failure on its
// own terms.
func (o Outcome) Finished() bool {
	return o == OutcomeSuccess || o == OutcomeFailed
}

// Result represents the result of one experiment.
type Result struct {
	Index        int     `json:"index"`
	ExperimentID string  `json:"experiment_id"`
	Name         string  `json:"name"`
	Outcome      Outcome `json:"outcome"`

	CompletedIterations int `json:"completed_iterations"`
	TotalIterations     int `json:"total_iterations"`

	Attempts   int `json:"attempts"`
	Recoveries int `json:"recoveries"`
	Nudges     int `json:"nudges"`

	// Stop is the command that stopped the run: Cancel or End. It is
	// CommandNone for Success and Failed.
	Stop   state.Command `json:"-"`
	Reason string        `json:"reason,omitempty"`
	// Err is the failure cause, a PAUSE_TIMEOUT, or the context error.
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Executor runs experiments one at a time on the worker goroutine.
type Executor struct {
	state     *state.ExecutionState
	engine    *retry.Engine
	events    *events.PublishHelper
	estimator *progress.Estimator
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithConfig sets the executor configuration.
func WithConfig(cfg Config) Option {
	return func(e *Executor) { e.cfg = cfg }
}

// WithPublisher sets the event helper used for status events.
func WithPublisher(h *events.PublishHelper) Option {
	return func(e *Executor) { e.events = h }
}

// WithEstimator shares a progress estimator with the caller.
func WithEstimator(est *progress.Estimator) Option {
	return func(e *Executor) { e.estimator = est }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor for one run.
func New(st *state.ExecutionState, engine *retry.Engine, opts ...Option) *Executor {
	e := &Executor{
		state:  st,
		engine: engine,
		cfg:    DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.estimator == nil {
		e.estimator = progress.NewEstimator(progress.DefaultOptions())
	}
	if e.cfg.PausePollInterval <= 0 {
		e.cfg.PausePollInterval = DefaultPausePollInterval
	}
	if e.cfg.PauseTimeout <= 0 {
		e.cfg.PauseTimeout = DefaultPauseTimeout
	}
	return e
}

// Run executes exp as the experiment at the 1-based index. Commands are
// honored only at checkpoints before each iteration; an iteration in flight
// always finishes on its own terms. There is no checkpoint after the last
// iteration, so a command arriving then waits for the next experiment, or is
// rejected if this was the last one.
func (e *Executor) Run(ctx context.Context, index int, exp *experiment.Experiment) Result {
	started := e.now()
	res := e.run(ctx, index, exp)
	res.Duration = e.now().Sub(started)
	return res
}

func (e *Executor) run(ctx context.Context, index int, exp *experiment.Experiment) Result {
	res := Result{
		Index:        index,
		ExperimentID: exp.ID,
		Name:         exp.Label(),
		Outcome:      OutcomeNotStarted,
	}

	its, err := exp.Iterations()
	if err != nil {
		// Plans are validated before a run, so this is a programming error
		// in the plan source rather than a hardware failure.
		return e.fail(&res, err)
	}
	res.TotalIterations = len(its)

	// Pre-start checkpoint.
	if stop := e.checkpoint(ctx, index, 1); stop.cmd != state.CommandNone {
		return e.stopped(&res, stop)
	}

	e.state.BeginExperiment(index, len(its))
	e.events.ExperimentStarted(events.ExperimentStartedData{
		Index:               index,
		Total:               e.state.Snapshot().TotalExperiments,
		ExperimentID:        exp.ID,
		Name:                exp.Label(),
		EstimatedIterations: len(its),
	})
	e.logger.Info("experiment started", "index", index, "experiment", exp.ID, "iterations", len(its))

	for i, it := range its {
		if i > 0 {
			if stop := e.checkpoint(ctx, index, it.Number); stop.cmd != state.CommandNone {
				return e.stopped(&res, stop)
			}
		}

		steps, err := exp.StepsFor(it)
		if err != nil {
			return e.fail(&res, err)
		}

		e.state.BeginIteration(it.Number)
		iter := e.runIteration(ctx, index, steps)
		res.Attempts += iter.Attempts
		res.Recoveries += iter.Recoveries
		res.Nudges += iter.Nudges

		if iter.Err != nil {
			if ctx.Err() != nil {
				return e.stopped(&res, interrupted(ctx))
			}
			e.publishIteration(index, it, iter, false)
			return e.fail(&res, iter.Err)
		}

		e.state.CompleteIteration()
		e.estimator.ObserveIteration(e.now())
		res.CompletedIterations++
		e.publishIteration(index, it, iter, true)
	}

	res.Outcome = OutcomeSuccess
	e.state.CompleteExperiment()
	e.events.ExperimentFinished(events.ExperimentFinishedData{
		Index:               index,
		ExperimentID:        exp.ID,
		Success:             true,
		Outcome:             string(OutcomeSuccess),
		CompletedIterations: res.CompletedIterations,
	})
	e.logger.Info("experiment succeeded",
		"index", index,
		"experiment", exp.ID,
		"iterations", res.CompletedIterations,
		"recoveries", res.Recoveries,
	)
	return res
}

// runIteration executes every step of one iteration in order and stops at
// the first step that fails. The counts in the returned result are summed
// over the steps that ran.
func (e *Executor) runIteration(ctx context.Context, index int, steps []retry.Step) retry.Result {
	var total retry.Result
	for i, step := range steps {
		obs := e.observer(index, i, len(steps))
		r := e.engine.Execute(ctx, step, e.cfg.Policy, obs)
		total.Attempts += r.Attempts
		total.Recoveries += r.Recoveries
		total.Nudges += r.Nudges
		total.SoftTimeout = total.SoftTimeout || r.SoftTimeout
		if r.Err != nil {
			total.Err = r.Err
			return total
		}
		e.state.SetIterationFraction(float64(i+1) / float64(len(steps)))
	}
	return total
}

// observer advances the iteration fraction with completed actions and relays
// every engine report as a hardware event.
func (e *Executor) observer(index, stepIdx, nSteps int) retry.Observer {
	return func(r retry.Report) {
		if r.Kind == retry.ReportActionDone && nSteps > 0 {
			e.state.SetIterationFraction((float64(stepIdx) + r.Fraction()) / float64(nSteps))
		}
		d := events.HardwareData{
			Index:   index,
			Step:    r.Step,
			Kind:    string(r.Kind),
			Attempt: r.Attempt,
			Signal:  r.Signal,
		}
		if r.Err != nil {
			d.Message = r.Err.Error()
		}
		e.events.Hardware(d)
	}
}

func (e *Executor) publishIteration(index int, it experiment.Iteration, r retry.Result, success bool) {
	snap := e.state.Snapshot()
	est := e.estimator.Estimate(snap)
	e.events.IterationCompleted(events.IterationData{
		Index:      index,
		Iteration:  it.Number,
		Completed:  snap.CompletedIterations,
		Total:      snap.TotalIterations,
		Label:      it.Label(),
		Overall:    est.Overall,
		Current:    est.Current,
		ETASeconds: est.ETA.Seconds(),
		Attempts:   r.Attempts,
		Recoveries: r.Recoveries,
		Nudges:     r.Nudges,
		Success:    success,
	})
}

// fail finishes the experiment as Failed. A failed experiment still counts
// as completed for progress.
func (e *Executor) fail(res *Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Reason = err.Error()
	e.state.CompleteExperiment()
	e.events.ExperimentFinished(events.ExperimentFinishedData{
		Index:               res.Index,
		ExperimentID:        res.ExperimentID,
		Outcome:             string(OutcomeFailed),
		CompletedIterations: res.CompletedIterations,
		Reason:              res.Reason,
	})
	e.logger.Error("experiment failed",
		"index", res.Index,
		"experiment", res.ExperimentID,
		"completed_iterations", res.CompletedIterations,
		"error", err,
	)
	return *res
}

// stopped finishes the experiment because of a Cancel or End.
func (e *Executor) stopped(res *Result, stop stopRequest) Result {
	res.Stop = stop.cmd
	res.Reason = stop.reason
	res.Err = stop.err

	switch {
	case res.CompletedIterations == 0 && !e.started(res.Index):
		res.Outcome = OutcomeNotStarted
	case stop.cmd == state.CommandEnd:
		res.Outcome = OutcomeEnded
	default:
		res.Outcome = OutcomeCancelled
	}

	e.logger.Info("experiment stopped",
		"index", res.Index,
		"experiment", res.ExperimentID,
		"command", stop.cmd.String(),
		"outcome", res.Outcome,
		"completed_iterations", res.CompletedIterations,
	)
	return *res
}

// started reports whether the experiment passed its pre-start checkpoint.
func (e *Executor) started(index int) bool {
	return e.state.Snapshot().CurrentExperiment == index
}

// interrupted converts a cancelled context into a cancel request.
func interrupted(ctx context.Context) stopRequest {
	reason := "interrupted"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "deadline exceeded"
	}
	return stopRequest{cmd: state.CommandCancel, reason: reason, err: ctx.Err()}
}
