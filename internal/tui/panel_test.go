package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/hilo/internal/events"
	"github.com/randalmurphal/hilo/internal/experiment"
	"github.com/randalmurphal/hilo/internal/progress"
	"github.com/randalmurphal/hilo/internal/state"
)

type fakeRun struct {
	st  *state.ExecutionState
	est progress.Estimate
}

func (r *fakeRun) RunID() string                { return "run-7" }
func (r *fakeRun) State() *state.ExecutionState { return r.st }
func (r *fakeRun) Progress() progress.Estimate  { return r.est }
func (r *fakeRun) Experiments() []experiment.Experiment {
	return []experiment.Experiment{
		{ID: "cold-boot", Name: "Cold boot", Kind: experiment.KindLoop, Loops: 3},
		{ID: "warm-boot", Kind: experiment.KindLoop, Loops: 3},
	}
}

func newRun(t *testing.T) *fakeRun {
	t.Helper()
	st := state.New(2)
	require.NoError(t, st.Start())
	st.BeginExperiment(1, 3)
	st.BeginIteration(2)
	return &fakeRun{st: st, est: progress.Estimate{Overall: 0.2, Current: 0.4, ETA: time.Minute, Measured: true}}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func ackNext(st *state.ExecutionState) {
	go func() {
		for i := 0; i < 500; i++ {
			if cmd := st.Checkpoint(); cmd != state.CommandNone {
				st.Acknowledge(cmd)
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
}

func TestView(t *testing.T) {
	m := New(newRun(t), make(chan events.Event))
	view := m.View()

	assert.Contains(t, view, "run-7")
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "1/2 Cold boot")
	assert.Contains(t, view, "2/3")
	assert.Contains(t, view, "1m0s")
	assert.Contains(t, view, "p pause")
}

func TestKeyIssuesCommand(t *testing.T) {
	run := newRun(t)
	m := New(run, make(chan events.Event), WithAckTimeout(time.Second))

	ackNext(run.st)
	next, cmd := m.Update(key("p"))
	require.NotNil(t, cmd)
	assert.Contains(t, next.(Model).View(), "pause requested")

	msg := cmd()
	res, ok := msg.(commandResultMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, state.CommandPause, res.cmd)
	assert.NoError(t, res.err)

	next, _ = next.Update(res)
	assert.Contains(t, next.(Model).View(), "pause acknowledged")

	history := run.st.Commands()
	require.Len(t, history, 1)
	assert.Equal(t, "operator", history[0].Reason)
}

func TestKeyCommandTimeout(t *testing.T) {
	run := newRun(t)
	m := New(run, make(chan events.Event), WithAckTimeout(10*time.Millisecond))

	_, cmd := m.Update(key("e"))
	res := cmd().(commandResultMsg)
	assert.Equal(t, state.CommandEnd, res.cmd)
	assert.Error(t, res.err)
}

func TestKeyMapping(t *testing.T) {
	tests := map[string]state.Command{
		"r": state.CommandResume,
		"c": state.CommandCancel,
		"e": state.CommandEnd,
	}
	for k, want := range tests {
		run := newRun(t)
		m := New(run, make(chan events.Event), WithAckTimeout(10*time.Millisecond))
		_, cmd := m.Update(key(k))
		require.NotNil(t, cmd, k)
		go cmd()
		require.Eventually(t, func() bool { return run.st.Checkpoint() == want },
			time.Second, 2*time.Millisecond, k)
	}

	_, cmd := New(newRun(t), make(chan events.Event)).Update(key("x"))
	assert.Nil(t, cmd)
}

func TestQuitCancelsThenDetaches(t *testing.T) {
	run := newRun(t)
	m := New(run, make(chan events.Event), WithAckTimeout(10*time.Millisecond))

	next, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	go cmd()
	require.Eventually(t, func() bool { return run.st.Checkpoint() == state.CommandCancel },
		time.Second, 2*time.Millisecond)
	assert.Equal(t, "quit from panel", run.st.PendingReason())

	_, cmd = next.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestEventsFeedLogAndQuitOnTerminal(t *testing.T) {
	ch := make(chan events.Event, 4)
	run := newRun(t)
	m := New(run, ch)

	next, cmd := m.Update(eventMsg(events.NewEvent(events.EventExecutionHalted, "run-7",
		events.HaltData{Index: 1, Iteration: 2, Reason: "scope"})))
	require.NotNil(t, cmd)
	assert.Contains(t, next.(Model).View(), "halted at experiment 1 before iteration 2")

	next, _ = next.Update(eventMsg(events.NewEvent(events.EventHardwareActivity, "run-7",
		events.HardwareData{Step: "boot", Attempt: 1, Kind: "nudge"})))
	assert.NotContains(t, next.(Model).View(), "🔧", "hardware lines need verbose")

	run.st.Finish(state.RunCompleted)
	final := events.NewEvent(events.EventAllComplete, "run-7", events.CompleteData{Total: 2, Completed: 2, Succeeded: 2, Duration: "1m"})
	next, cmd = next.Update(eventMsg(final))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	got := next.(Model)
	require.NotNil(t, got.Terminal())
	assert.Equal(t, events.EventAllComplete, got.Terminal().Type)
	assert.Contains(t, got.View(), "completed")
}

func TestVerboseShowsHardware(t *testing.T) {
	m := New(newRun(t), make(chan events.Event), WithVerbose(true))
	next, _ := m.Update(eventMsg(events.NewEvent(events.EventHardwareActivity, "run-7",
		events.HardwareData{Step: "boot", Attempt: 2, Kind: "nudge"})))
	assert.Contains(t, next.(Model).View(), "boot attempt 2: nudge")
}

func TestLogKeepsRecentLines(t *testing.T) {
	m := New(newRun(t), make(chan events.Event))
	var next tea.Model = m
	for i := 1; i <= logLines+3; i++ {
		next, _ = next.Update(eventMsg(events.NewEvent(events.EventError, "run-7",
			events.ErrorData{Kind: "k", Message: strings.Repeat("x", i)})))
	}
	assert.Len(t, next.(Model).log, logLines)
}

func TestEventsClosedQuits(t *testing.T) {
	ch := make(chan events.Event)
	close(ch)
	m := New(newRun(t), ch)
	msg := waitForEvent(ch)()
	_, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestHaltedBadge(t *testing.T) {
	run := newRun(t)
	run.st.SetHalted(true)
	m := New(run, make(chan events.Event))
	assert.Contains(t, m.View(), "halted")
}
