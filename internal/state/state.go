// Package state provides the execution state shared between the worker and
// the control surface of a hilo run.
//
// The worker owns every counter. The control surface only issues commands and
// reads snapshots. All fields live behind a single mutex; nothing is read
// lock-free.
package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
)

// Command is a control-surface request to the worker.
type Command int

const (
	CommandNone Command = iota
	CommandPause
	CommandResume
	CommandCancel
	CommandEnd
)

var commandNames = map[Command]string{
	CommandNone:   "none",
	CommandPause:  "pause",
	CommandResume: "resume",
	CommandCancel: "cancel",
	CommandEnd:    "end",
}

// String returns the lowercase command name.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// Stops reports whether the command terminates the run.
func (c Command) Stops() bool {
	return c == CommandCancel || c == CommandEnd
}

// ParseCommand parses a command name as typed by an operator.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pause", "halt", "p":
		return CommandPause, nil
	case "resume", "continue", "r":
		return CommandResume, nil
	case "cancel", "c":
		return CommandCancel, nil
	case "end", "e":
		return CommandEnd, nil
	default:
		return CommandNone, fmt.Errorf("unknown command %q", s)
	}
}

// RunState is the lifecycle state of a run.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunHalted    RunState = "halted"
	RunCancelled RunState = "cancelled"
	RunEnded     RunState = "ended"
	RunCompleted RunState = "completed"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunState) IsTerminal() bool {
	return s == RunCancelled || s == RunEnded || s == RunCompleted
}

// DefaultMaxHistory bounds the command history.
const DefaultMaxHistory = 100

// DefaultAckPollInterval is how often AwaitAck re-reads the state.
const DefaultAckPollInterval = 25 * time.Millisecond

// CommandRecord is one entry of the command history.
type CommandRecord struct {
	Seq        uint64     `json:"seq"`
	Command    Command    `json:"-"`
	Name       string     `json:"command"`
	Reason     string     `json:"reason,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	AckedAt    *time.Time `json:"acked_at,omitempty"`
	Superseded bool       `json:"superseded,omitempty"`
}

// Snapshot is a consistent copy of the execution state.
type Snapshot struct {
	RunState     RunState `json:"run_state"`
	Pending      Command  `json:"-"`
	PendingName  string   `json:"pending_command"`
	Acknowledged bool     `json:"command_acknowledged"`
	CommandSeq   uint64   `json:"command_seq"`

	CurrentExperiment    int `json:"current_experiment"`
	TotalExperiments     int `json:"total_experiments"`
	CompletedExperiments int `json:"completed_experiments"`

	CurrentIteration    int     `json:"current_iteration"`
	CompletedIterations int     `json:"completed_iterations"`
	TotalIterations     int     `json:"total_iterations_estimate"`
	IterationFraction   float64 `json:"iteration_fraction"`

	// IterationsDone counts iterations completed across the whole run.
	IterationsDone int       `json:"iterations_done"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExecutionState is the only mutable object shared across the worker and
// the control surface. Create one per run.
type ExecutionState struct {
	mu sync.Mutex

	runState      RunState
	pending       Command
	pendingReason string
	acknowledged  bool
	seq           uint64

	currentExperiment    int
	totalExperiments     int
	completedExperiments int

	currentIteration    int
	completedIterations int
	totalIterations     int
	iterationFraction   float64
	iterationsDone      int

	startedAt time.Time
	updatedAt time.Time

	history    []CommandRecord
	maxHistory int
	now        func() time.Time
}

// New creates a fresh execution state for a run over totalExperiments.
func New(totalExperiments int) *ExecutionState {
	if totalExperiments < 0 {
		totalExperiments = 0
	}
	return &ExecutionState{
		runState:         RunIdle,
		totalExperiments: totalExperiments,
		maxHistory:       DefaultMaxHistory,
		now:              time.Now,
	}
}

// --- control surface side ---

// RequestCommand records cmd as the pending command and clears the
// acknowledgment flag. It never blocks. The returned sequence number
// identifies this request for AwaitAck.
func (s *ExecutionState) RequestCommand(cmd Command, reason string) uint64 {
	if cmd == CommandNone {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != CommandNone && !s.acknowledged {
		s.markSuperseded(s.seq)
	}

	s.seq++
	s.pending = cmd
	s.pendingReason = reason
	s.acknowledged = false

	s.history = append(s.history, CommandRecord{
		Seq:      s.seq,
		Command:  cmd,
		Name:     cmd.String(),
		Reason:   reason,
		IssuedAt: s.now(),
	})
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	return s.seq
}

// Acknowledged reports whether the most recent command was acknowledged.
func (s *ExecutionState) Acknowledged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acknowledged
}

// AwaitAck waits up to timeout for the command with the given sequence
// number to be acknowledged by the worker. It returns a COMMAND_TIMEOUT error
// when the wait expires and COMMAND_REJECTED when the command was replaced by
// a newer one or the run finished without honoring it.
func (s *ExecutionState) AwaitAck(ctx context.Context, seq uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := s.ackStatus(seq)
		if done {
			return err
		}
		if !time.Now().Before(deadline) {
			return hiloerrors.CommandTimeout(s.commandName(seq), timeout)
		}

		wait := DefaultAckPollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// ackStatus reports whether the wait for seq is over and with what result.
func (s *ExecutionState) ackStatus(seq uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(seq)
	if rec == nil {
		return true, hiloerrors.CommandRejected(fmt.Sprintf("command #%d", seq), "unknown command")
	}
	if rec.AckedAt != nil {
		return true, nil
	}
	if rec.Superseded {
		return true, hiloerrors.CommandRejected(rec.Name, "superseded by a newer command")
	}
	if s.runState.IsTerminal() {
		return true, hiloerrors.CommandRejected(rec.Name, string(s.runState))
	}
	return false, nil
}

// Commands returns a copy of the command history, oldest first.
func (s *ExecutionState) Commands() []CommandRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CommandRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot returns a consistent copy of every field.
func (s *ExecutionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		RunState:             s.runState,
		Pending:              s.pending,
		PendingName:          s.pending.String(),
		Acknowledged:         s.acknowledged,
		CommandSeq:           s.seq,
		CurrentExperiment:    s.currentExperiment,
		TotalExperiments:     s.totalExperiments,
		CompletedExperiments: s.completedExperiments,
		CurrentIteration:     s.currentIteration,
		CompletedIterations:  s.completedIterations,
		TotalIterations:      s.totalIterations,
		IterationFraction:    s.iterationFraction,
		IterationsDone:       s.iterationsDone,
		StartedAt:            s.startedAt,
		UpdatedAt:            s.updatedAt,
	}
}

// RunState returns the current lifecycle state.
func (s *ExecutionState) RunState() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runState
}

// --- worker side ---

// Checkpoint returns the pending command without clearing it.
func (s *ExecutionState) Checkpoint() Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// PendingReason returns the operator-supplied reason of the pending command.
func (s *ExecutionState) PendingReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingReason
}

// Acknowledge confirms the worker honored cmd and clears it. It returns
// false when cmd is no longer the pending command, which happens if the
// control surface issued a newer command since the checkpoint.
func (s *ExecutionState) Acknowledge(cmd Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd == CommandNone || s.pending != cmd {
		return false
	}
	s.acknowledged = true
	s.pending = CommandNone
	s.pendingReason = ""
	if rec := s.record(s.seq); rec != nil {
		at := s.now()
		rec.AckedAt = &at
	}
	return true
}

// Start moves the run from idle to running.
func (s *ExecutionState) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runState != RunIdle {
		return hiloerrors.RunInvalidState(string(s.runState), string(RunIdle))
	}
	s.runState = RunRunning
	s.startedAt = s.now()
	s.updatedAt = s.startedAt
	return nil
}

// SetHalted toggles between running and halted.
func (s *ExecutionState) SetHalted(halted bool) {
	s.mutate(func() {
		if halted {
			s.runState = RunHalted
		} else {
			s.runState = RunRunning
		}
	})
}

// Finish moves the run into a terminal state. Later mutations are ignored.
func (s *ExecutionState) Finish(final RunState) {
	if !final.IsTerminal() {
		return
	}
	s.mutate(func() {
		s.runState = final
	})
}

// BeginExperiment records that the experiment at the 1-based index started.
func (s *ExecutionState) BeginExperiment(index, totalIterations int) {
	s.mutate(func() {
		s.currentExperiment = clampInt(index, 0, s.totalExperiments)
		s.currentIteration = 0
		s.completedIterations = 0
		s.totalIterations = max(totalIterations, 0)
		s.iterationFraction = 0
	})
}

// BeginIteration records that the 1-based iteration n is in flight.
func (s *ExecutionState) BeginIteration(n int) {
	s.mutate(func() {
		s.currentIteration = n
		s.iterationFraction = 0
	})
}

// SetIterationFraction advances progress within the current iteration.
// The fraction is clamped to [0,1] and never moves backwards until the next
// BeginIteration.
func (s *ExecutionState) SetIterationFraction(f float64) {
	s.mutate(func() {
		f = clampFloat(f, 0, 1)
		if f > s.iterationFraction {
			s.iterationFraction = f
		}
	})
}

// CompleteIteration records that the current iteration finished.
func (s *ExecutionState) CompleteIteration() {
	s.mutate(func() {
		s.completedIterations++
		s.iterationsDone++
		s.iterationFraction = 0
	})
}

// CompleteExperiment records that the current experiment reached an outcome.
func (s *ExecutionState) CompleteExperiment() {
	s.mutate(func() {
		s.completedExperiments = clampInt(s.completedExperiments+1, 0, s.totalExperiments)
	})
}

// mutate applies fn under the lock unless the run is terminal.
func (s *ExecutionState) mutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runState.IsTerminal() {
		return
	}
	fn()
	s.updatedAt = s.now()
}

// record finds a history entry by sequence number. Caller holds the lock.
func (s *ExecutionState) record(seq uint64) *CommandRecord {
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Seq == seq {
			return &s.history[i]
		}
	}
	return nil
}

func (s *ExecutionState) markSuperseded(seq uint64) {
	if rec := s.record(seq); rec != nil {
		rec.Superseded = true
	}
}

func (s *ExecutionState) commandName(seq uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.record(seq); rec != nil {
		return rec.Name
	}
	return fmt.Sprintf("command #%d", seq)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
