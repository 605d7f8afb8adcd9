// Package events provides the status channel from the hilo worker to its
// control surfaces.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventExperimentStarted indicates an experiment passed its pre-start checkpoint.
	EventExperimentStarted EventType = "experiment_started"
	// EventExperimentFinished indicates an experiment reached success or failure.
	EventExperimentFinished EventType = "experiment_finished"
	// EventExecutionHalted indicates the worker honored a pause.
	EventExecutionHalted EventType = "execution_halted"
	// EventExecutionResumed indicates the worker left the halted state.
	EventExecutionResumed EventType = "execution_resumed"
	// EventExecutionCancelled indicates the run stopped on a cancel.
	EventExecutionCancelled EventType = "execution_cancelled"
	// EventExecutionEnded indicates the run stopped on an end request.
	EventExecutionEnded EventType = "execution_ended"
	// EventAllComplete indicates the queue finished.
	EventAllComplete EventType = "all_complete"
	// EventError indicates an error the operator should see.
	EventError EventType = "error"

	// EventIterationCompleted carries a progress snapshot after each iteration.
	EventIterationCompleted EventType = "iteration_completed"
	// EventHardwareActivity relays informational retry engine reports.
	EventHardwareActivity EventType = "hardware_activity"
)

// IsTerminal reports whether the event ends a run.
func (t EventType) IsTerminal() bool {
	return t == EventExecutionCancelled || t == EventExecutionEnded || t == EventAllComplete
}

// Event represents a published event.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	// Seq is assigned by the publisher and increases with every event.
	Seq  uint64    `json:"seq"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, runID string, data any) Event {
	return Event{
		Type:  eventType,
		RunID: runID,
		Data:  data,
		Time:  time.Now(),
	}
}

// ExperimentStartedData describes an experiment about to run its first iteration.
type ExperimentStartedData struct {
	Index               int    `json:"index"`
	Total               int    `json:"total"`
	ExperimentID        string `json:"experiment_id"`
	Name                string `json:"name"`
	EstimatedIterations int    `json:"estimated_iterations"`
}

// ExperimentFinishedData describes an experiment outcome.
type ExperimentFinishedData struct {
	Index               int    `json:"index"`
	ExperimentID        string `json:"experiment_id"`
	Success             bool   `json:"success"`
	Outcome             string `json:"outcome"`
	CompletedIterations int    `json:"completed_iterations"`
	Reason              string `json:"reason,omitempty"`
}

// HaltData describes a pause or resume.
type HaltData struct {
	Index     int    `json:"index"`
	Iteration int    `json:"iteration"`
	Reason    string `json:"reason,omitempty"`
}

// StopData describes a cancel or end. AtIndex is the 1-based experiment the
// run stopped at.
type StopData struct {
	AtIndex              int    `json:"at_index"`
	CompletedExperiments int    `json:"completed_experiments"`
	CompletedIterations  int    `json:"completed_iterations"`
	Reason               string `json:"reason,omitempty"`
}

// CompleteData summarizes a finished queue.
type CompleteData struct {
	Total        int    `json:"total"`
	Completed    int    `json:"completed"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	StoppedEarly bool   `json:"stopped_early"`
	Duration     string `json:"duration"`
}

// ErrorData represents error information.
type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Index   int    `json:"index,omitempty"`
}

// IterationData is the progress snapshot sent after each iteration.
type IterationData struct {
	Index      int     `json:"index"`
	Iteration  int     `json:"iteration"`
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Label      string  `json:"label,omitempty"`
	Overall    float64 `json:"overall"`
	Current    float64 `json:"current"`
	ETASeconds float64 `json:"eta_seconds"`
	Attempts   int     `json:"attempts"`
	Recoveries int     `json:"recoveries"`
	Nudges     int     `json:"nudges"`
	Success    bool    `json:"success"`
}

// HardwareData relays one retry engine report.
type HardwareData struct {
	Index   int    `json:"index"`
	Step    string `json:"step"`
	Kind    string `json:"kind"`
	Attempt int    `json:"attempt"`
	Signal  uint64 `json:"signal,omitempty"`
	Message string `json:"message,omitempty"`
}
