package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/hilo/internal/db"
)

const (
	// Buffer flushes when it reaches this size
	bufferSizeThreshold = 20
	// Buffer flushes automatically on this interval
	flushInterval = 2 * time.Second
)

// EventStore persists batches of events.
type EventStore interface {
	SaveEvents(ctx context.Context, events []*db.EventLog) error
}

// PersistentPublisher wraps MemoryPublisher and writes every event to the
// event_log table. Live subscribers are served first. Database writes happen
// only on the flush goroutine or in Close, never in Publish; a full buffer or
// a terminal event just wakes the flusher early.
type PersistentPublisher struct {
	inner       *MemoryPublisher
	store       EventStore
	source      string
	buffer      []*db.EventLog
	bufferMu    sync.Mutex
	flushMu     sync.Mutex
	flushTicker *time.Ticker
	flushNow    chan struct{}
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewPersistentPublisher creates a new persistent event publisher.
// The source parameter identifies where events originate (e.g. "worker").
func NewPersistentPublisher(store EventStore, source string, logger *slog.Logger) *PersistentPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &PersistentPublisher{
		inner:    NewMemoryPublisher(),
		store:    store,
		source:   source,
		buffer:   make([]*db.EventLog, 0, bufferSizeThreshold),
		logger:   logger,
		stopCh:   make(chan struct{}),
		flushNow: make(chan struct{}, 1),
	}

	p.flushTicker = time.NewTicker(flushInterval)
	p.wg.Add(1)
	go p.flushLoop()

	return p
}

// Publish sends an event to subscribers and buffers it for the database.
func (p *PersistentPublisher) Publish(event Event) {
	event, ok := p.inner.publish(event)
	if !ok {
		return
	}

	if p.store == nil {
		return
	}

	p.bufferMu.Lock()
	p.buffer = append(p.buffer, &db.EventLog{
		RunID:     event.RunID,
		Seq:       event.Seq,
		EventType: string(event.Type),
		Data:      event.Data,
		Source:    p.source,
		CreatedAt: event.Time,
	})
	shouldFlush := len(p.buffer) >= bufferSizeThreshold
	p.bufferMu.Unlock()

	if shouldFlush || event.Type.IsTerminal() {
		select {
		case p.flushNow <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that receives events for the given run.
func (p *PersistentPublisher) Subscribe(runID string) <-chan Event {
	return p.inner.Subscribe(runID)
}

// Unsubscribe removes a subscription channel.
func (p *PersistentPublisher) Unsubscribe(runID string, ch <-chan Event) {
	p.inner.Unsubscribe(runID, ch)
}

// Close flushes remaining events and shuts down the publisher.
// Close is idempotent and safe to call multiple times.
func (p *PersistentPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.flushTicker.Stop()
		p.wg.Wait()
		p.flush()
		p.inner.Close()
	})
}

func (p *PersistentPublisher) flushLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.flushTicker.C:
			p.flush()
		case <-p.flushNow:
			p.flush()
		case <-p.stopCh:
			return
		}
	}
}

// flush writes buffered events to the database in a single batch. Batches
// are written one at a time so rows land in sequence order.
func (p *PersistentPublisher) flush() {
	if p.store == nil {
		return
	}

	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.bufferMu.Lock()
	if len(p.buffer) == 0 {
		p.bufferMu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]*db.EventLog, 0, bufferSizeThreshold)
	p.bufferMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.SaveEvents(ctx, toFlush); err != nil {
		// Dropped rather than retried so a dead database cannot grow memory.
		p.logger.Error("failed to persist events", "error", err, "count", len(toFlush))
	}
}
