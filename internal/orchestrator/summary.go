package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/randalmurphal/hilo/internal/db"
	"github.com/randalmurphal/hilo/internal/executor"
	"github.com/randalmurphal/hilo/internal/state"
	"github.com/randalmurphal/hilo/internal/util"
)

// persistTimeout bounds each write to the run store.
const persistTimeout = 10 * time.Second

// RunStore persists run records.
type RunStore interface {
	SaveRun(ctx context.Context, r *db.Run) error
}

// Summary is the final report of a run. Every terminal state produces one,
// including partial progress.
type Summary struct {
	RunID      string         `json:"run_id"`
	Plan       string         `json:"plan,omitempty"`
	FinalState state.RunState `json:"final_state"`

	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	NotStarted int `json:"not_started"`

	// StoppedEarly is set when a failure with stop-on-fail ended the queue.
	StoppedEarly bool `json:"stopped_early,omitempty"`
	// StopIndex is the 1-based experiment a cancel or end took effect at.
	StopIndex int    `json:"stop_index,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`

	IterationsDone int                   `json:"iterations_done"`
	Experiments    []executor.Result     `json:"experiments"`
	Commands       []state.CommandRecord `json:"commands,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

func newSummary(runID, plan string, final state.RunState, results []executor.Result, stoppedEarly bool, started, finished time.Time) *Summary {
	s := &Summary{
		RunID:        runID,
		Plan:         plan,
		FinalState:   final,
		Total:        len(results),
		StoppedEarly: stoppedEarly,
		Experiments:  results,
		StartedAt:    started,
		FinishedAt:   finished,
		Duration:     finished.Sub(started),
	}
	for _, r := range results {
		switch r.Outcome {
		case executor.OutcomeSuccess:
			s.Succeeded++
		case executor.OutcomeFailed:
			s.Failed++
		case executor.OutcomeNotStarted:
			s.NotStarted++
		}
		if r.Err != nil && !r.Outcome.Finished() {
			s.Error = r.Err.Error()
		}
	}
	s.Completed = s.Succeeded + s.Failed
	return s
}

// Record converts the summary into a database row.
func (s *Summary) Record() (*db.Run, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	finished := s.FinishedAt
	return &db.Run{
		ID:                   s.RunID,
		Status:               string(s.FinalState),
		Plan:                 s.Plan,
		TotalExperiments:     s.Total,
		CompletedExperiments: s.Completed,
		Succeeded:            s.Succeeded,
		Failed:               s.Failed,
		StopIndex:            s.StopIndex,
		Reason:               s.Reason,
		Summary:              data,
		StartedAt:            s.StartedAt,
		FinishedAt:           &finished,
	}, nil
}

// WriteFile writes the summary as indented JSON to dir/<run-id>.json.
func (s *Summary) WriteFile(dir string) (string, error) {
	path := filepath.Join(dir, s.RunID+".json")
	if err := util.AtomicWriteJSON(path, s, 0644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// persistStart records the run as running. Failures are logged; the
// hardware session matters more than the bookkeeping.
func (o *Orchestrator) persistStart(ctx context.Context, startedAt time.Time) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := o.store.SaveRun(ctx, &db.Run{
		ID:               o.runID,
		Status:           string(state.RunRunning),
		Plan:             o.plan,
		TotalExperiments: len(o.experiments),
		StartedAt:        startedAt,
	})
	if err != nil {
		o.logger.Warn("failed to save run", "error", err)
	}
}

// persistFinish stores the summary in the run store and the summary dir.
// It runs even when ctx was cancelled, since an interrupted run still
// needs its record.
func (o *Orchestrator) persistFinish(ctx context.Context, s *Summary) {
	if o.store != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()

		rec, err := s.Record()
		if err == nil {
			err = o.store.SaveRun(ctx, rec)
		}
		if err != nil {
			o.logger.Warn("failed to save run summary", "error", err)
		}
	}

	if o.summaryDir != "" {
		path, err := s.WriteFile(o.summaryDir)
		if err != nil {
			o.logger.Warn("failed to write run summary", "error", err)
			return
		}
		o.logger.Debug("run summary written", "path", path)
	}
}
