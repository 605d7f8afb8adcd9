package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/hilo/internal/db"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now()
	event := NewEvent(EventExperimentStarted, "run-1", ExperimentStartedData{Index: 1})
	after := time.Now()

	assert.Equal(t, EventExperimentStarted, event.Type)
	assert.Equal(t, "run-1", event.RunID)
	assert.Zero(t, event.Seq, "sequence is assigned on publish")
	assert.False(t, event.Time.Before(before) || event.Time.After(after))
}

func TestEventTypeIsTerminal(t *testing.T) {
	assert.True(t, EventExecutionCancelled.IsTerminal())
	assert.True(t, EventExecutionEnded.IsTerminal())
	assert.True(t, EventAllComplete.IsTerminal())
	assert.False(t, EventExecutionHalted.IsTerminal())
	assert.False(t, EventError.IsTerminal())
}

func TestMemoryPublisher_PublishAndSubscribe(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Subscribe("run-1")
	pub.Publish(NewEvent(EventExecutionHalted, "run-1", HaltData{Index: 2}))

	got := receive(t, ch)
	assert.Equal(t, EventExecutionHalted, got.Type)
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, 2, got.Data.(HaltData).Index)
}

func TestMemoryPublisher_SequenceMonotonic(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Subscribe(GlobalRunID)
	for i := 0; i < 50; i++ {
		pub.Publish(NewEvent(EventIterationCompleted, "run-1", nil))
	}

	var last uint64
	for i := 0; i < 50; i++ {
		e := receive(t, ch)
		assert.Greater(t, e.Seq, last)
		last = e.Seq
	}
	assert.Equal(t, uint64(50), pub.LastSeq())
}

func TestMemoryPublisher_UnboundedNeverDrops(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Subscribe("run-1")

	// Nobody reads while the worker publishes far more than any buffer.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			pub.Publish(NewEvent(EventHardwareActivity, "run-1", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	for i := 0; i < 5000; i++ {
		e := receive(t, ch)
		require.Equal(t, i, e.Data)
	}
}

func TestMemoryPublisher_GlobalAndScoped(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	scoped := pub.Subscribe("run-1")
	global := pub.Subscribe(GlobalRunID)

	pub.Publish(NewEvent(EventAllComplete, "run-2", nil))
	pub.Publish(NewEvent(EventAllComplete, "run-1", nil))

	assert.Equal(t, "run-2", receive(t, global).RunID)
	assert.Equal(t, "run-1", receive(t, global).RunID)
	assert.Equal(t, "run-1", receive(t, scoped).RunID)
}

func TestMemoryPublisher_CloseDeliversQueued(t *testing.T) {
	pub := NewMemoryPublisher()
	ch := pub.Subscribe("run-1")

	pub.Publish(NewEvent(EventExperimentStarted, "run-1", nil))
	pub.Publish(NewEvent(EventAllComplete, "run-1", nil))
	pub.Close()

	assert.Equal(t, EventExperimentStarted, receive(t, ch).Type)
	assert.Equal(t, EventAllComplete, receive(t, ch).Type)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closes after the queue drains")
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// Publishing after close is a no-op; subscribing returns a closed channel.
	pub.Publish(NewEvent(EventError, "run-1", nil))
	_, ok := <-pub.Subscribe("run-1")
	assert.False(t, ok)
}

func TestMemoryPublisher_Unsubscribe(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Subscribe("run-1")
	assert.Equal(t, 1, pub.SubscriberCount("run-1"))

	pub.Publish(NewEvent(EventError, "run-1", nil))
	pub.Unsubscribe("run-1", ch)
	assert.Equal(t, 0, pub.SubscriberCount("run-1"))

	// The channel is closed without requiring the reader to drain it.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestPublishHelper_NilSafe(t *testing.T) {
	var helper *PublishHelper
	helper.Halted(1, 1, "")
	helper.AllComplete(CompleteData{})
	assert.Equal(t, "", helper.RunID())

	NewPublishHelper(nil, "run-1").Error("x", "y", 0)
}

func TestPublishHelper_EmitsTypedEvents(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()
	ch := pub.Subscribe("run-1")

	h := NewPublishHelper(pub, "run-1")
	h.ExperimentStarted(ExperimentStartedData{Index: 1, Total: 2, Name: "a"})
	h.Halted(1, 3, "lunch")
	h.Resumed(1, 3, "")
	h.Cancelled(StopData{AtIndex: 1})
	h.Ended(StopData{AtIndex: 1})
	h.AllComplete(CompleteData{})
	h.Error("pause_timeout", "too long", 1)
	h.IterationCompleted(IterationData{})
	h.Hardware(HardwareData{})
	h.ExperimentFinished(ExperimentFinishedData{})

	want := []EventType{
		EventExperimentStarted, EventExecutionHalted, EventExecutionResumed,
		EventExecutionCancelled, EventExecutionEnded, EventAllComplete,
		EventError, EventIterationCompleted, EventHardwareActivity, EventExperimentFinished,
	}
	for _, w := range want {
		e := receive(t, ch)
		assert.Equal(t, w, e.Type)
		assert.Equal(t, "run-1", e.RunID)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "started",
			event: NewEvent(EventExperimentStarted, "r", ExperimentStartedData{Index: 2, Total: 5, Name: "sweep", EstimatedIterations: 3}),
			want:  "▶ [2/5] sweep (3 iterations)",
		},
		{
			name:  "halted",
			event: NewEvent(EventExecutionHalted, "r", HaltData{Index: 1, Iteration: 4, Reason: "probe swap"}),
			want:  "⏸ halted at experiment 1 before iteration 4 - probe swap",
		},
		{
			name:  "resumed",
			event: NewEvent(EventExecutionResumed, "r", HaltData{Index: 1, Iteration: 4}),
			want:  "▶ resumed at experiment 1 iteration 4",
		},
		{
			name:  "ended",
			event: NewEvent(EventExecutionEnded, "r", StopData{AtIndex: 3, CompletedExperiments: 2, CompletedIterations: 1}),
			want:  "⏹ ended at experiment 3 (2 experiments completed, 1 iterations in current)",
		},
		{
			name:  "failed",
			event: NewEvent(EventExperimentFinished, "r", ExperimentFinishedData{ExperimentID: "b", Outcome: "failed", Reason: "no boot"}),
			want:  "❌ b failed: no boot",
		},
		{
			name:  "unknown payload",
			event: NewEvent(EventError, "r", "raw"),
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.event))
		})
	}
}

func TestPrinter_Consume(t *testing.T) {
	pub := NewMemoryPublisher()
	ch := pub.Subscribe("r")

	var buf bytes.Buffer
	printer := NewPrinter(&buf)

	pub.Publish(NewEvent(EventHardwareActivity, "r", HardwareData{Step: "boot", Kind: "nudge"}))
	pub.Publish(NewEvent(EventAllComplete, "r", CompleteData{Total: 1, Completed: 1, Succeeded: 1, Duration: "3s"}))
	pub.Close()

	printer.Consume(context.Background(), ch)

	out := buf.String()
	assert.NotContains(t, out, "nudge", "hardware activity needs verbose")
	assert.Contains(t, out, "🏁 all complete: 1/1 experiments (1 succeeded, 0 failed) in 3s")

	buf.Reset()
	NewPrinter(&buf, WithVerbose(true)).Print(NewEvent(EventHardwareActivity, "r", HardwareData{Step: "boot", Attempt: 2, Kind: "nudge", Signal: 0x10}))
	assert.Equal(t, "  🔧 boot attempt 2: nudge 0x10", strings.TrimRight(buf.String(), "\n"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(-time.Second))
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m5s", FormatDuration(125*time.Second))
	assert.Equal(t, "1h30m", FormatDuration(90*time.Minute))
}

type memStore struct {
	mu     sync.Mutex
	events []*db.EventLog
	err    error
	delay  time.Duration
}

func (m *memStore) SaveEvents(_ context.Context, events []*db.EventLog) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestPersistentPublisher_TerminalFlushesEarly(t *testing.T) {
	store := &memStore{}
	pub := NewPersistentPublisher(store, "worker", nil)
	defer pub.Close()

	ch := pub.Subscribe("r")
	pub.Publish(NewEvent(EventExperimentStarted, "r", ExperimentStartedData{Index: 1}))
	assert.Equal(t, 0, store.count(), "non-terminal events are batched")

	pub.Publish(NewEvent(EventAllComplete, "r", CompleteData{}))
	require.Eventually(t, func() bool { return store.count() == 2 }, time.Second, 5*time.Millisecond,
		"terminal event should flush before the ticker fires")

	store.mu.Lock()
	defer store.mu.Unlock()

	assert.Equal(t, uint64(1), store.events[0].Seq)
	assert.Equal(t, uint64(2), store.events[1].Seq)
	assert.Equal(t, "worker", store.events[1].Source)
	assert.Equal(t, "all_complete", store.events[1].EventType)

	// Live subscribers see the same sequence numbers.
	assert.Equal(t, uint64(1), receive(t, ch).Seq)
	assert.Equal(t, uint64(2), receive(t, ch).Seq)
}

func TestPersistentPublisher_CloseFlushes(t *testing.T) {
	store := &memStore{}
	pub := NewPersistentPublisher(store, "worker", nil)

	pub.Publish(NewEvent(EventExecutionHalted, "r", nil))
	pub.Close()
	pub.Close()

	assert.Equal(t, 1, store.count())
}

func TestPersistentPublisher_StoreErrorDoesNotBlock(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	pub := NewPersistentPublisher(store, "worker", nil)
	defer pub.Close()

	ch := pub.Subscribe("r")
	pub.Publish(NewEvent(EventAllComplete, "r", nil))
	assert.Equal(t, EventAllComplete, receive(t, ch).Type)
}

func TestPersistentPublisher_SlowStoreDoesNotBlockPublish(t *testing.T) {
	store := &memStore{delay: 500 * time.Millisecond}
	pub := NewPersistentPublisher(store, "worker", nil)

	ch := pub.Subscribe("r")
	start := time.Now()
	for range bufferSizeThreshold * 2 {
		pub.Publish(NewEvent(EventHardwareActivity, "r", nil))
	}
	pub.Publish(NewEvent(EventAllComplete, "r", nil))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Publish waited on the database")

	for range bufferSizeThreshold * 2 {
		receive(t, ch)
	}
	assert.Equal(t, EventAllComplete, receive(t, ch).Type)

	pub.Close()
	assert.Equal(t, bufferSizeThreshold*2+1, store.count(), "Close persists everything")
}

func TestPersistentPublisher_WithDatabase(t *testing.T) {
	d := db.NewTestDB(t)
	pub := NewPersistentPublisher(d, "worker", nil)

	pub.Publish(NewEvent(EventExperimentStarted, "run-db", ExperimentStartedData{Index: 1, Name: "a"}))
	pub.Publish(NewEvent(EventExecutionCancelled, "run-db", StopData{AtIndex: 1}))
	pub.Close()

	rows, err := d.QueryEvents(context.Background(), db.QueryEventsOptions{RunID: "run-db"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "execution_cancelled", rows[1].EventType)
}
