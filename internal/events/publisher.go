package events

import (
	"sync"
)

// GlobalRunID is the special run ID for subscribing to all run events.
const GlobalRunID = "*"

// Publisher defines the interface for event publishing.
type Publisher interface {
	// Publish sends an event to all subscribers of the run. It never blocks.
	Publish(event Event)
	// Subscribe returns a channel that receives events for the given run.
	// Use GlobalRunID ("*") to receive events for all runs.
	Subscribe(runID string) <-chan Event
	// Unsubscribe removes a subscription channel.
	Unsubscribe(runID string, ch <-chan Event)
	// Close shuts down the publisher. Subscribers still receive events that
	// were queued before Close, then their channel is closed.
	Close()
}

// subscription is an unbounded queue drained into out by its own goroutine.
type subscription struct {
	out  chan Event
	done chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closing bool
}

func newSubscription() *subscription {
	s := &subscription{
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *subscription) push(e Event) {
	s.mu.Lock()
	if !s.closing {
		s.queue = append(s.queue, e)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// finish stops accepting events and closes out once the queue drains.
func (s *subscription) finish() {
	s.mu.Lock()
	s.closing = true
	s.cond.Signal()
	s.mu.Unlock()
}

// abandon drops the queue immediately.
func (s *subscription) abandon() {
	s.finish()
	close(s.done)
}

func (s *subscription) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closing {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}

// MemoryPublisher is an in-memory implementation of Publisher. Every
// subscriber has its own unbounded queue, so a slow reader never blocks
// the worker and never loses events.
type MemoryPublisher struct {
	subscribers map[string][]*subscription
	mu          sync.Mutex
	seq         uint64
	closed      bool
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		subscribers: make(map[string][]*subscription),
	}
}

// Publish assigns the next sequence number and queues the event for every
// subscriber of the run and every global subscriber.
func (p *MemoryPublisher) Publish(event Event) {
	p.publish(event)
}

// publish fans out the event and returns it stamped with its sequence
// number. It reports false once the publisher is closed.
func (p *MemoryPublisher) publish(event Event) (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return event, false
	}

	p.seq++
	event.Seq = p.seq

	for _, sub := range p.subscribers[event.RunID] {
		sub.push(event)
	}
	if event.RunID != GlobalRunID {
		for _, sub := range p.subscribers[GlobalRunID] {
			sub.push(event)
		}
	}
	return event, true
}

// Subscribe returns a channel that receives events for the given run.
func (p *MemoryPublisher) Subscribe(runID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := newSubscription()
	p.subscribers[runID] = append(p.subscribers[runID], sub)
	return sub.out
}

// Unsubscribe removes a subscription channel and discards anything queued
// for it.
func (p *MemoryPublisher) Unsubscribe(runID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[runID]
	for i, sub := range subs {
		if sub.out == ch {
			p.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			sub.abandon()
			break
		}
	}

	if len(p.subscribers[runID]) == 0 {
		delete(p.subscribers, runID)
	}
}

// Close shuts down the publisher. Queued events are still delivered.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for runID, subs := range p.subscribers {
		for _, sub := range subs {
			sub.finish()
		}
		delete(p.subscribers, runID)
	}
}

// SubscriberCount returns the number of subscribers for a run.
func (p *MemoryPublisher) SubscriberCount(runID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers[runID])
}

// Pending returns the number of undelivered events across all subscribers.
func (p *MemoryPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, subs := range p.subscribers {
		for _, sub := range subs {
			n += sub.pending()
		}
	}
	return n
}

// LastSeq returns the sequence number of the most recent event.
func (p *MemoryPublisher) LastSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// NopPublisher is a no-op publisher for testing or when events are disabled.
type NopPublisher struct{}

// Publish does nothing.
func (p *NopPublisher) Publish(event Event) {}

// Subscribe returns a closed channel.
func (p *NopPublisher) Subscribe(runID string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe does nothing.
func (p *NopPublisher) Unsubscribe(runID string, ch <-chan Event) {}

// Close does nothing.
func (p *NopPublisher) Close() {}

// NewNopPublisher creates a no-op publisher.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}
