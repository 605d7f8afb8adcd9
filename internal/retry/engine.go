package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
	"github.com/randalmurphal/hilo/internal/hardware"
)

// Confirmation is the signal that proves a step took effect. The step is
// confirmed once the reading at Path is at least Target.
type Confirmation struct {
	Path   string `yaml:"path" json:"path"`
	Target uint64 `yaml:"target" json:"target"`
}

// Step is one retryable unit of hardware work.
type Step struct {
	Name    string
	Actions []hardware.Action
	Confirm *Confirmation
}

// ReportKind classifies an engine report.
type ReportKind string

const (
	ReportAttemptStarted ReportKind = "attempt_started"
	ReportActionDone     ReportKind = "action_done"
	ReportAttemptFailed  ReportKind = "attempt_failed"
	ReportRecovery       ReportKind = "recovery"
	ReportRecoveryFailed ReportKind = "recovery_failed"
	ReportPollReading    ReportKind = "poll_reading"
	ReportPollReadFailed ReportKind = "poll_read_failed"
	ReportNudge          ReportKind = "nudge"
	ReportConfirmed      ReportKind = "confirmed"
	ReportSoftTimeout    ReportKind = "soft_timeout"
	ReportStepSucceeded  ReportKind = "step_succeeded"
	ReportStepFailed     ReportKind = "step_failed"
)

// Report describes something the engine did. Reports are informational;
// they never change the control flow of Execute.
type Report struct {
	Step    string     `json:"step"`
	Kind    ReportKind `json:"kind"`
	Attempt int        `json:"attempt"`
	// Done and Total count completed units of the current attempt: each
	// action is one unit and the confirmation poll is the last.
	Done   int    `json:"done,omitempty"`
	Total  int    `json:"total,omitempty"`
	Signal uint64 `json:"signal,omitempty"`
	Err    error  `json:"-"`
}

// Fraction returns Done/Total clamped to [0,1].
func (r Report) Fraction() float64 {
	if r.Total <= 0 {
		return 0
	}
	f := float64(r.Done) / float64(r.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Observer receives reports synchronously on the worker goroutine.
type Observer func(Report)

// Result is the outcome of Execute.
type Result struct {
	Attempts    int
	Recoveries  int
	Nudges      int
	SoftTimeout bool
	// Err is nil on success, a FATAL_BOOT_FAILURE once attempts are
	// exhausted, or the context error when the caller gave up.
	Err error
}

// OK reports whether the step succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Engine runs steps against one hardware target.
type Engine struct {
	target hardware.Target
	logger *slog.Logger
}

// New creates an engine. A nil logger uses slog.Default().
func New(target hardware.Target, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{target: target, logger: logger}
}

// Execute runs step under policy. Only exhausting MaxAttempts is fatal;
// every other failure is reported to obs and retried.
func (e *Engine) Execute(ctx context.Context, step Step, policy Policy, obs Observer) Result {
	if obs == nil {
		obs = func(Report) {}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var res Result
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		obs(Report{Step: step.Name, Kind: ReportAttemptStarted, Attempt: attempt})

		err := e.attempt(ctx, step, policy, attempt, &res, obs)
		if err == nil {
			obs(Report{Step: step.Name, Kind: ReportStepSucceeded, Attempt: attempt})
			return res
		}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}

		transient := hiloerrors.TransientHardware(step.Name, attempt, err)
		e.logger.Warn("step attempt failed",
			"step", step.Name,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"error", err,
		)
		obs(Report{Step: step.Name, Kind: ReportAttemptFailed, Attempt: attempt, Err: transient})

		if attempt >= policy.MaxAttempts {
			res.Err = hiloerrors.FatalBoot(step.Name, attempt, err)
			obs(Report{Step: step.Name, Kind: ReportStepFailed, Attempt: attempt, Err: res.Err})
			return res
		}

		if policy.Recovery == RecoveryPowerCycle {
			res.Recoveries++
			if rerr := e.target.Recover(ctx); rerr != nil {
				e.logger.Warn("recovery failed", "step", step.Name, "attempt", attempt, "error", rerr)
				obs(Report{Step: step.Name, Kind: ReportRecoveryFailed, Attempt: attempt, Err: rerr})
			} else {
				obs(Report{Step: step.Name, Kind: ReportRecovery, Attempt: attempt})
			}
		}

		if err := sleep(ctx, policy.InterAttemptDelay); err != nil {
			res.Err = err
			return res
		}
	}
}

func (e *Engine) attempt(ctx context.Context, step Step, policy Policy, attempt int, res *Result, obs Observer) error {
	total := len(step.Actions)
	if step.Confirm != nil {
		total++
	}

	for i, a := range step.Actions {
		if err := e.target.Perform(ctx, a); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		obs(Report{Step: step.Name, Kind: ReportActionDone, Attempt: attempt, Done: i + 1, Total: total})
	}

	if step.Confirm == nil {
		return nil
	}
	if err := e.confirm(ctx, step, policy, attempt, res, obs); err != nil {
		return err
	}
	obs(Report{Step: step.Name, Kind: ReportActionDone, Attempt: attempt, Done: total, Total: total})
	return nil
}

// confirm polls the confirmation signal until it reaches the target or the
// timeout elapses. Two equal consecutive readings trigger one nudge; the
// nudge re-arms only after the reading changes.
func (e *Engine) confirm(ctx context.Context, step Step, policy Policy, attempt int, res *Result, obs Observer) error {
	c := step.Confirm
	deadline := time.Now().Add(policy.ConfirmationTimeout)

	var last uint64
	haveLast := false
	nudged := false

	for {
		v, err := e.target.ReadSignal(ctx, c.Path)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			obs(Report{Step: step.Name, Kind: ReportPollReadFailed, Attempt: attempt, Err: err})
		default:
			obs(Report{Step: step.Name, Kind: ReportPollReading, Attempt: attempt, Signal: v})
			if v >= c.Target {
				obs(Report{Step: step.Name, Kind: ReportConfirmed, Attempt: attempt, Signal: v})
				return nil
			}
			if haveLast && v == last {
				if !nudged {
					nudged = true
					res.Nudges++
					if nerr := e.target.Perform(ctx, hardware.Nudge); nerr != nil {
						e.logger.Debug("nudge failed", "step", step.Name, "error", nerr)
					}
					obs(Report{Step: step.Name, Kind: ReportNudge, Attempt: attempt, Signal: v})
				}
			} else {
				nudged = false
			}
			last, haveLast = v, true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := sleep(ctx, min(policy.PollInterval, remaining)); err != nil {
			return err
		}
	}

	timeoutErr := hiloerrors.PollTimeout(c.Path, c.Target, last, policy.ConfirmationTimeout)
	if policy.TreatPollTimeoutAsFatal {
		return timeoutErr
	}

	res.SoftTimeout = true
	e.logger.Warn("confirmation timed out, accepting attempt",
		"step", step.Name,
		"path", c.Path,
		"target", fmt.Sprintf("%#x", c.Target),
		"last", fmt.Sprintf("%#x", last),
	)
	obs(Report{Step: step.Name, Kind: ReportSoftTimeout, Attempt: attempt, Signal: last, Err: timeoutErr})
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
