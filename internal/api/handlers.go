package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/hilo/internal/db"
	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
	"github.com/randalmurphal/hilo/internal/progress"
	"github.com/randalmurphal/hilo/internal/state"
)

// maxBodySize caps command request bodies.
const maxBodySize = 64 * 1024

// StatusResponse is the live view of the run.
type StatusResponse struct {
	RunID    string            `json:"run_id"`
	State    state.Snapshot    `json:"state"`
	Progress progress.Estimate `json:"progress"`
	ETA      string            `json:"eta"`
}

// ExperimentInfo describes one queued experiment.
type ExperimentInfo struct {
	Index               int    `json:"index"`
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Kind                string `json:"kind"`
	EstimatedIterations int    `json:"estimated_iterations"`
}

// CommandResponse reports an issued command.
type CommandResponse struct {
	Seq          uint64 `json:"seq"`
	Command      string `json:"command"`
	Reason       string `json:"reason,omitempty"`
	Acknowledged bool   `json:"acknowledged"`
}

// RunResponse is a persisted run.
type RunResponse struct {
	ID                   string          `json:"id"`
	Status               string          `json:"status"`
	Plan                 string          `json:"plan,omitempty"`
	TotalExperiments     int             `json:"total_experiments"`
	CompletedExperiments int             `json:"completed_experiments"`
	Succeeded            int             `json:"succeeded"`
	Failed               int             `json:"failed"`
	StopIndex            int             `json:"stop_index,omitempty"`
	Reason               string          `json:"reason,omitempty"`
	StartedAt            time.Time       `json:"started_at"`
	FinishedAt           *time.Time      `json:"finished_at,omitempty"`
	Summary              json.RawMessage `json:"summary,omitempty"`
}

// EventResponse is one persisted event.
type EventResponse struct {
	Seq    uint64          `json:"seq"`
	Type   string          `json:"type"`
	Source string          `json:"source,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Time   time.Time       `json:"time"`
}

func (s *Server) health(c echo.Context) error {
	resp := map[string]any{"status": "ok"}
	if s.run != nil {
		resp["run_id"] = s.run.RunID()
		resp["run_state"] = s.run.State().RunState()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) requireRun() error {
	if s.run == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active run")
	}
	return nil
}

func (s *Server) statusResponse() StatusResponse {
	est := s.run.Progress()
	return StatusResponse{
		RunID:    s.run.RunID(),
		State:    s.run.State().Snapshot(),
		Progress: est,
		ETA:      progress.FormatETA(est),
	}
}

func (s *Server) status(c echo.Context) error {
	if err := s.requireRun(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.statusResponse())
}

func (s *Server) experiments(c echo.Context) error {
	if err := s.requireRun(); err != nil {
		return err
	}
	exps := s.run.Experiments()
	out := make([]ExperimentInfo, len(exps))
	for i := range exps {
		out[i] = ExperimentInfo{
			Index:               i + 1,
			ID:                  exps[i].ID,
			Name:                exps[i].Label(),
			Kind:                string(exps[i].Kind),
			EstimatedIterations: exps[i].EstimatedIterations(),
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) commandHistory(c echo.Context) error {
	if err := s.requireRun(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.run.State().Commands())
}

// issueCommand records the command and, unless ?wait=false, blocks until
// the worker acknowledges it or the ack timeout passes.
func (s *Server) issueCommand(c echo.Context) error {
	if err := s.requireRun(); err != nil {
		return err
	}
	cmd, err := state.ParseCommand(c.Param("command"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be JSON")
	}
	reason := gjson.GetBytes(body, "reason").String()
	if reason == "" {
		reason = c.QueryParam("reason")
	}

	resp, err := s.sendCommand(c.Request().Context(), cmd, reason, c.QueryParam("wait") != "false")
	if err != nil {
		return err
	}
	status := http.StatusOK
	if !resp.Acknowledged {
		status = http.StatusAccepted
	}
	return c.JSON(status, resp)
}

func (s *Server) listRuns(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history not configured")
	}
	limit, err := intParam(c, "limit", 20)
	if err != nil {
		return err
	}
	runs, err := s.history.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		resp := toRunResponse(r)
		resp.Summary = nil
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getRun(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history not configured")
	}
	r, err := s.history.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRunResponse(r))
}

func (s *Server) runEvents(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history not configured")
	}
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return err
	}
	opts := db.QueryEventsOptions{
		RunID:      c.Param("id"),
		EventTypes: c.QueryParams()["type"],
		Limit:      limit,
	}
	if v := c.QueryParam("after_seq"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "after_seq must be a non-negative integer")
		}
		opts.AfterSeq = seq
	}

	logs, err := s.history.QueryEvents(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	out := make([]EventResponse, 0, len(logs))
	for _, l := range logs {
		ev := EventResponse{Seq: l.Seq, Type: l.EventType, Source: l.Source, Time: l.CreatedAt}
		if raw, ok := l.Data.(json.RawMessage); ok {
			ev.Data = raw
		}
		out = append(out, ev)
	}
	return c.JSON(http.StatusOK, out)
}

func toRunResponse(r *db.Run) RunResponse {
	return RunResponse{
		ID:                   r.ID,
		Status:               r.Status,
		Plan:                 r.Plan,
		TotalExperiments:     r.TotalExperiments,
		CompletedExperiments: r.CompletedExperiments,
		Succeeded:            r.Succeeded,
		Failed:               r.Failed,
		StopIndex:            r.StopIndex,
		Reason:               r.Reason,
		StartedAt:            r.StartedAt,
		FinishedAt:           r.FinishedAt,
		Summary:              r.Summary,
	}
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return n, nil
}

// handleError renders hilo errors with their category status and echo
// errors as-is.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	var body any = map[string]any{"error": map[string]string{"what": err.Error()}}

	var he *hiloerrors.HiloError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.HTTPStatus()
		body = map[string]any{"error": he}
	case errors.As(err, &httpErr):
		status = httpErr.Code
		body = map[string]any{"error": map[string]any{"what": httpErr.Message}}
	default:
		s.logger.Error("api request failed", "path", c.Path(), "error", err)
	}

	if err := c.JSON(status, body); err != nil {
		s.logger.Warn("failed to write error response", "error", err)
	}
}
