package api

import (
	"context"

	"github.com/randalmurphal/hilo/internal/state"
)

// sendCommand records cmd on the run state. With wait set it blocks until
// the worker acknowledges, the ack timeout passes, or the command is
// superseded or rejected.
func (s *Server) sendCommand(ctx context.Context, cmd state.Command, reason string, wait bool) (CommandResponse, error) {
	st := s.run.State()
	seq := st.RequestCommand(cmd, reason)
	s.logger.Info("command requested", "command", cmd.String(), "seq", seq, "reason", reason)

	resp := CommandResponse{Seq: seq, Command: cmd.String(), Reason: reason}
	if !wait {
		return resp, nil
	}
	if err := st.AwaitAck(ctx, seq, s.ackTimeout); err != nil {
		s.logger.Warn("command not acknowledged", "command", cmd.String(), "seq", seq, "error", err)
		return resp, err
	}
	resp.Acknowledged = true
	return resp, nil
}
