// Package tui is the interactive control panel for a run: progress bars,
// the recent event log, and single-key pause/resume/cancel/end.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/randalmurphal/hilo/internal/events"
	"github.com/randalmurphal/hilo/internal/experiment"
	"github.com/randalmurphal/hilo/internal/progress"
	"github.com/randalmurphal/hilo/internal/state"
)

const (
	// refreshInterval is how often the panel re-reads the snapshot.
	refreshInterval = 200 * time.Millisecond
	// logLines is how many recent event lines are kept.
	logLines = 8
	// DefaultAckTimeout bounds the wait for a key-issued command.
	DefaultAckTimeout = 5 * time.Second
)

// Run is the live run the panel controls.
type Run interface {
	RunID() string
	State() *state.ExecutionState
	Progress() progress.Estimate
	Experiments() []experiment.Experiment
}

type tickMsg time.Time

type eventMsg events.Event

type eventsClosedMsg struct{}

type commandResultMsg struct {
	cmd state.Command
	err error
}

// Model is the bubbletea model of the control panel.
type Model struct {
	run        Run
	events     <-chan events.Event
	ackTimeout time.Duration
	verbose    bool
	styles     Styles

	overall bprogress.Model
	current bprogress.Model
	spinner spinner.Model

	snap     state.Snapshot
	est      progress.Estimate
	names    []string
	log      []string
	status   string
	quitting bool
	terminal *events.Event
	width    int
}

// Option configures a Model.
type Option func(*Model)

// WithAckTimeout sets how long key commands wait for acknowledgment.
func WithAckTimeout(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.ackTimeout = d
		}
	}
}

// WithVerbose shows hardware activity in the event log.
func WithVerbose(v bool) Option {
	return func(m *Model) { m.verbose = v }
}

// WithStyles sets custom styling.
func WithStyles(s Styles) Option {
	return func(m *Model) { m.styles = s }
}

// New creates a panel for run fed by ch, which should be a subscription
// to the run's events.
func New(run Run, ch <-chan events.Event, opts ...Option) Model {
	exps := run.Experiments()
	names := make([]string, len(exps))
	for i := range exps {
		names[i] = exps[i].Label()
	}

	m := Model{
		run:        run,
		events:     ch,
		ackTimeout: DefaultAckTimeout,
		styles:     DefaultStyles(),
		overall:    bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(40)),
		current:    bprogress.New(bprogress.WithSolidFill("39"), bprogress.WithWidth(40)),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		names:      names,
		width:      80,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(), waitForEvent(m.events))
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// issue runs RequestCommand and AwaitAck off the UI goroutine.
func (m Model) issue(cmd state.Command, reason string) tea.Cmd {
	st := m.run.State()
	timeout := m.ackTimeout
	return func() tea.Msg {
		seq := st.RequestCommand(cmd, reason)
		err := st.AwaitAck(context.Background(), seq, timeout)
		return commandResultMsg{cmd: cmd, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := max(msg.Width-20, 10)
		m.overall.Width = w
		m.current.Width = w
		return m, nil

	case tickMsg:
		m.refresh()
		if m.terminal != nil {
			return m, nil
		}
		return m, tick()

	case eventMsg:
		ev := events.Event(msg)
		m.appendEvent(ev)
		m.refresh()
		if ev.Type.IsTerminal() {
			m.terminal = &ev
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		return m, tea.Quit

	case commandResultMsg:
		if msg.err != nil {
			m.status = m.styles.Error.Render(fmt.Sprintf("%s: %v", msg.cmd, msg.err))
		} else {
			m.status = fmt.Sprintf("%s acknowledged", msg.cmd)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd state.Command
	reason := "operator"

	switch msg.String() {
	case "p":
		cmd = state.CommandPause
	case "r":
		cmd = state.CommandResume
	case "c":
		cmd = state.CommandCancel
	case "e":
		cmd = state.CommandEnd
	case "q", "ctrl+c":
		// The first quit cancels the run and waits for its terminal event;
		// a second one detaches immediately.
		if m.quitting || m.snap.RunState.IsTerminal() {
			return m, tea.Quit
		}
		m.quitting = true
		cmd = state.CommandCancel
		reason = "quit from panel"
	default:
		return m, nil
	}

	m.status = fmt.Sprintf("%s requested...", cmd)
	return m, m.issue(cmd, reason)
}

func (m *Model) refresh() {
	m.snap = m.run.State().Snapshot()
	m.est = m.run.Progress()
}

func (m *Model) appendEvent(ev events.Event) {
	if ev.Type == events.EventHardwareActivity && !m.verbose {
		return
	}
	line := events.Format(ev)
	if line == "" {
		return
	}
	m.log = append(m.log, line)
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

// Terminal returns the terminal event once the run has finished.
func (m Model) Terminal() *events.Event {
	return m.terminal
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("hilo") + " " + m.styles.Subtle.Render(m.run.RunID()) + "  " + m.stateBadge() + "\n\n")

	name := ""
	if i := m.snap.CurrentExperiment; i >= 1 && i <= len(m.names) {
		name = m.names[i-1]
	}
	b.WriteString(m.row("experiment", fmt.Sprintf("%d/%d %s", m.snap.CurrentExperiment, m.snap.TotalExperiments, name)))
	b.WriteString(m.row("iteration", fmt.Sprintf("%d/%d", m.snap.CurrentIteration, m.snap.TotalIterations)))
	b.WriteString(m.row("current", m.current.ViewAs(m.est.Current)))
	b.WriteString(m.row("overall", m.overall.ViewAs(m.est.Overall)))
	eta := progress.FormatETA(m.est)
	if m.est.Rate > 0 {
		eta += fmt.Sprintf("  (%.2f it/min)", m.est.Rate*60)
	}
	b.WriteString(m.row("eta", eta))

	if len(m.log) > 0 {
		b.WriteString("\n" + m.styles.Box.Render(strings.Join(m.log, "\n")) + "\n")
	}
	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}

	b.WriteString(m.styles.Help.Render("p pause • r resume • c cancel • e end • q quit"))
	return b.String() + "\n"
}

func (m Model) row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, m.styles.Label.Render(label), value) + "\n"
}

func (m Model) stateBadge() string {
	switch s := m.snap.RunState; s {
	case state.RunRunning:
		return m.spinner.View() + m.styles.Running.Render("running")
	case state.RunHalted:
		return m.styles.Halted.Render("⏸ halted")
	case state.RunCancelled, state.RunEnded:
		return m.styles.Stopped.Render(string(s))
	case state.RunCompleted:
		return m.styles.Done.Render("completed")
	default:
		return m.styles.Subtle.Render(string(s))
	}
}

// RunPanel runs the panel until the run's terminal event arrives, the
// operator detaches, or ctx is cancelled.
func RunPanel(ctx context.Context, run Run, ch <-chan events.Event, opts ...Option) (*events.Event, error) {
	p := tea.NewProgram(New(run, ch, opts...), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("control panel: %w", err)
	}
	if m, ok := final.(Model); ok {
		return m.Terminal(), nil
	}
	return nil, nil
}
