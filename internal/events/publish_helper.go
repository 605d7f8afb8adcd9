package events

// PublishHelper wraps event publishing for one run with nil-safety and
// convenience methods. All methods are safe to call even when the underlying
// publisher is nil.
type PublishHelper struct {
	publisher Publisher
	runID     string
}

// NewPublishHelper creates a new PublishHelper for runID.
// If p is nil, all publish operations become no-ops.
func NewPublishHelper(p Publisher, runID string) *PublishHelper {
	return &PublishHelper{publisher: p, runID: runID}
}

// RunID returns the run the helper publishes for.
func (ep *PublishHelper) RunID() string {
	if ep == nil {
		return ""
	}
	return ep.runID
}

// Publish sends an event to the underlying publisher.
// Safe to call with nil publisher (no-op).
func (ep *PublishHelper) Publish(ev Event) {
	if ep == nil || ep.publisher == nil {
		return
	}
	ep.publisher.Publish(ev)
}

func (ep *PublishHelper) emit(t EventType, data any) {
	if ep == nil {
		return
	}
	ep.Publish(NewEvent(t, ep.runID, data))
}

// ExperimentStarted publishes an experiment start.
func (ep *PublishHelper) ExperimentStarted(d ExperimentStartedData) {
	ep.emit(EventExperimentStarted, d)
}

// ExperimentFinished publishes an experiment outcome.
func (ep *PublishHelper) ExperimentFinished(d ExperimentFinishedData) {
	ep.emit(EventExperimentFinished, d)
}

// Halted publishes a pause taking effect.
func (ep *PublishHelper) Halted(index, iteration int, reason string) {
	ep.emit(EventExecutionHalted, HaltData{Index: index, Iteration: iteration, Reason: reason})
}

// Resumed publishes the end of a pause.
func (ep *PublishHelper) Resumed(index, iteration int, reason string) {
	ep.emit(EventExecutionResumed, HaltData{Index: index, Iteration: iteration, Reason: reason})
}

// Cancelled publishes the terminal cancel event.
func (ep *PublishHelper) Cancelled(d StopData) {
	ep.emit(EventExecutionCancelled, d)
}

// Ended publishes the terminal end event.
func (ep *PublishHelper) Ended(d StopData) {
	ep.emit(EventExecutionEnded, d)
}

// AllComplete publishes the terminal completion event.
func (ep *PublishHelper) AllComplete(d CompleteData) {
	ep.emit(EventAllComplete, d)
}

// Error publishes an operator-visible error.
func (ep *PublishHelper) Error(kind, message string, index int) {
	ep.emit(EventError, ErrorData{Kind: kind, Message: message, Index: index})
}

// IterationCompleted publishes a progress snapshot.
func (ep *PublishHelper) IterationCompleted(d IterationData) {
	ep.emit(EventIterationCompleted, d)
}

// Hardware relays a retry engine report.
func (ep *PublishHelper) Hardware(d HardwareData) {
	ep.emit(EventHardwareActivity, d)
}
