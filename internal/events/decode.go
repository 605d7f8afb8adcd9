package events

import (
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/hilo/internal/db"
)

// FromLog rebuilds an event from its stored form. The payload is decoded
// into the typed data struct for its event type so Format can render it.
// Unknown types keep the raw JSON.
func FromLog(l db.EventLog) (Event, error) {
	e := Event{
		Type:  EventType(l.EventType),
		RunID: l.RunID,
		Seq:   l.Seq,
		Time:  l.CreatedAt,
		Data:  l.Data,
	}
	raw, ok := l.Data.(json.RawMessage)
	if !ok || len(raw) == 0 {
		return e, nil
	}

	var err error
	switch e.Type {
	case EventExperimentStarted:
		e.Data, err = decodeAs[ExperimentStartedData](raw)
	case EventExperimentFinished:
		e.Data, err = decodeAs[ExperimentFinishedData](raw)
	case EventExecutionHalted, EventExecutionResumed:
		e.Data, err = decodeAs[HaltData](raw)
	case EventExecutionCancelled, EventExecutionEnded:
		e.Data, err = decodeAs[StopData](raw)
	case EventAllComplete:
		e.Data, err = decodeAs[CompleteData](raw)
	case EventError:
		e.Data, err = decodeAs[ErrorData](raw)
	case EventIterationCompleted:
		e.Data, err = decodeAs[IterationData](raw)
	case EventHardwareActivity:
		e.Data, err = decodeAs[HardwareData](raw)
	}
	if err != nil {
		return e, fmt.Errorf("decode %s event %d: %w", e.Type, e.Seq, err)
	}
	return e, nil
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
