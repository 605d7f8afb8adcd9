// Package hardware defines the narrow debug-probe interface hilo drives and
// the typed actions sent through it.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ActionKind identifies what a hardware action does.
type ActionKind string

const (
	// ActionWrite writes Value into the register at Path.
	ActionWrite ActionKind = "write"
	// ActionBoot starts the boot sequence.
	ActionBoot ActionKind = "boot"
	// ActionResume releases a target stopped at a breakpoint.
	ActionResume ActionKind = "resume"
	// ActionReset issues a warm reset.
	ActionReset ActionKind = "reset"
)

// ValidKinds returns every action kind understood by the dispatcher.
func ValidKinds() []ActionKind {
	return []ActionKind{ActionWrite, ActionBoot, ActionResume, ActionReset}
}

// IsValid reports whether the kind is known.
func (k ActionKind) IsValid() bool {
	return slices.Contains(ValidKinds(), k)
}

// Action is one typed command sent to the target.
type Action struct {
	Kind  ActionKind `yaml:"kind" json:"kind"`
	Path  string     `yaml:"path,omitempty" json:"path,omitempty"`
	Value uint64     `yaml:"value,omitempty" json:"value,omitempty"`
}

func (a Action) String() string {
	switch a.Kind {
	case ActionWrite:
		return fmt.Sprintf("write %s=%#x", a.Path, a.Value)
	default:
		return string(a.Kind)
	}
}

// Nudge is the resume pulse sent when a confirmation signal stalls.
var Nudge = Action{Kind: ActionResume}

// Target is the debug-probe session. Only the worker goroutine calls it.
type Target interface {
	// Perform executes one action. Errors are transient from the caller's
	// point of view.
	Perform(ctx context.Context, a Action) error
	// ReadSignal reads the register at path.
	ReadSignal(ctx context.Context, path string) (uint64, error)
	// Recover power-cycles the target.
	Recover(ctx context.Context) error
}

// ErrUnsupportedAction is returned when no handler is registered for a kind.
var ErrUnsupportedAction = errors.New("unsupported action")

// Handler executes one kind of action.
type Handler func(ctx context.Context, a Action) error

// Dispatcher routes actions to handlers by kind.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[ActionKind]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[ActionKind]Handler)}
}

// Register installs the handler for kind, replacing any previous one.
func (d *Dispatcher) Register(kind ActionKind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Dispatch runs the handler registered for a.Kind.
func (d *Dispatcher) Dispatch(ctx context.Context, a Action) error {
	d.mu.RLock()
	h, ok := d.handlers[a.Kind]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, a.Kind)
	}
	return h(ctx, a)
}

// Kinds lists the registered kinds in a stable order.
func (d *Dispatcher) Kinds() []ActionKind {
	d.mu.RLock()
	defer d.mu.RUnlock()

	kinds := make([]ActionKind, 0, len(d.handlers))
	for k := range d.handlers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
