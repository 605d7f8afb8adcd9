package executor

import (
	"context"
	"time"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
	"github.com/randalmurphal/hilo/internal/state"
)

// stopRequest is a Cancel or End the worker has acknowledged.
type stopRequest struct {
	cmd    state.Command
	reason string
	err    error
}

// checkpoint consults the execution state before iteration n of the
// experiment at index. It blocks while the run is halted and returns the
// stop to honor, or a zero stopRequest to carry on.
func (e *Executor) checkpoint(ctx context.Context, index, n int) stopRequest {
	if ctx.Err() != nil {
		return interrupted(ctx)
	}

	cmd := e.state.Checkpoint()
	switch cmd {
	case state.CommandNone:
		return stopRequest{}

	case state.CommandResume:
		// Resume while running has nothing to undo.
		e.state.Acknowledge(cmd)
		e.logger.Debug("resume while running acknowledged", "index", index, "iteration", n)
		return stopRequest{}

	case state.CommandCancel, state.CommandEnd:
		reason := e.state.PendingReason()
		if !e.state.Acknowledge(cmd) {
			// Replaced between the read and the ack; look again.
			return e.checkpoint(ctx, index, n)
		}
		return stopRequest{cmd: cmd, reason: reason}

	case state.CommandPause:
		return e.halt(ctx, index, n)
	}
	return stopRequest{}
}

// halt parks the worker until Resume, Cancel, or End arrives, the pause
// outlasts PauseTimeout, or ctx is cancelled. No hardware work starts while
// halted.
func (e *Executor) halt(ctx context.Context, index, n int) stopRequest {
	reason := e.state.PendingReason()
	e.state.Acknowledge(state.CommandPause)
	e.state.SetHalted(true)
	e.events.Halted(index, n, reason)
	e.logger.Info("execution halted", "index", index, "iteration", n, "reason", reason)

	deadline := e.now().Add(e.cfg.PauseTimeout)
	ticker := time.NewTicker(e.cfg.PausePollInterval)
	defer ticker.Stop()

	for {
		switch cmd := e.state.Checkpoint(); cmd {
		case state.CommandResume:
			reason := e.state.PendingReason()
			if e.state.Acknowledge(cmd) {
				e.state.SetHalted(false)
				e.events.Resumed(index, n, reason)
				e.logger.Info("execution resumed", "index", index, "iteration", n)
				return stopRequest{}
			}

		case state.CommandCancel, state.CommandEnd:
			reason := e.state.PendingReason()
			if e.state.Acknowledge(cmd) {
				e.state.SetHalted(false)
				return stopRequest{cmd: cmd, reason: reason}
			}

		case state.CommandPause:
			// Pausing an already halted run only needs an acknowledgment.
			e.state.Acknowledge(cmd)
		}

		if !e.now().Before(deadline) {
			err := hiloerrors.PauseTimeout(e.cfg.PauseTimeout)
			e.state.SetHalted(false)
			e.events.Error("pause_timeout", err.Error(), index)
			e.logger.Warn("pause timed out, ending run", "index", index, "limit", e.cfg.PauseTimeout)
			return stopRequest{cmd: state.CommandEnd, reason: "pause timeout", err: err}
		}

		select {
		case <-ctx.Done():
			e.state.SetHalted(false)
			return interrupted(ctx)
		case <-ticker.C:
		}
	}
}
