package events

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Printer renders events as plain text lines. It runs on the control
// surface's goroutine, never the worker's.
type Printer struct {
	out     io.Writer
	mu      sync.Mutex
	verbose bool
}

// PrinterOption configures a Printer.
type PrinterOption func(*Printer)

// WithVerbose includes hardware activity lines.
func WithVerbose(enabled bool) PrinterOption {
	return func(p *Printer) {
		p.verbose = enabled
	}
}

// NewPrinter creates a printer that writes events to the given writer.
func NewPrinter(out io.Writer, opts ...PrinterOption) *Printer {
	p := &Printer{out: out}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Print writes one event. Events with nothing to show are skipped.
func (p *Printer) Print(e Event) {
	if e.Type == EventHardwareActivity && !p.verbose {
		return
	}
	line := Format(e)
	if line == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

// Consume prints events from ch until it closes or ctx is done.
func (p *Printer) Consume(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.Print(e)
		}
	}
}

// Format renders an event as a single human-readable line.
func Format(e Event) string {
	switch d := e.Data.(type) {
	case ExperimentStartedData:
		return fmt.Sprintf("▶ [%d/%d] %s (%d iterations)", d.Index, d.Total, d.Name, d.EstimatedIterations)

	case IterationData:
		mark := "✓"
		if !d.Success {
			mark = "✗"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "  %s iteration %d/%d", mark, d.Iteration, d.Total)
		if d.Label != "" {
			fmt.Fprintf(&b, " %s", d.Label)
		}
		fmt.Fprintf(&b, "  overall %.1f%%  eta %s", d.Overall*100, FormatDuration(time.Duration(d.ETASeconds*float64(time.Second))))
		if d.Recoveries > 0 || d.Nudges > 0 {
			fmt.Fprintf(&b, "  (attempts %d, recoveries %d, nudges %d)", d.Attempts, d.Recoveries, d.Nudges)
		}
		return b.String()

	case ExperimentFinishedData:
		if d.Success {
			return fmt.Sprintf("✅ %s succeeded (%d iterations)", d.ExperimentID, d.CompletedIterations)
		}
		if d.Reason != "" {
			return fmt.Sprintf("❌ %s %s: %s", d.ExperimentID, d.Outcome, d.Reason)
		}
		return fmt.Sprintf("❌ %s %s", d.ExperimentID, d.Outcome)

	case HaltData:
		if e.Type == EventExecutionResumed {
			return fmt.Sprintf("▶ resumed at experiment %d iteration %d", d.Index, d.Iteration)
		}
		return fmt.Sprintf("⏸ halted at experiment %d before iteration %d%s", d.Index, d.Iteration, reasonSuffix(d.Reason))

	case StopData:
		verb := "🛑 cancelled"
		if e.Type == EventExecutionEnded {
			verb = "⏹ ended"
		}
		return fmt.Sprintf("%s at experiment %d (%d experiments completed, %d iterations in current)%s",
			verb, d.AtIndex, d.CompletedExperiments, d.CompletedIterations, reasonSuffix(d.Reason))

	case CompleteData:
		stopped := ""
		if d.StoppedEarly {
			stopped = ", stopped on failure"
		}
		return fmt.Sprintf("🏁 all complete: %d/%d experiments (%d succeeded, %d failed%s) in %s",
			d.Completed, d.Total, d.Succeeded, d.Failed, stopped, d.Duration)

	case ErrorData:
		return fmt.Sprintf("❌ Error [%s]: %s", d.Kind, d.Message)

	case HardwareData:
		line := fmt.Sprintf("  🔧 %s attempt %d: %s", d.Step, d.Attempt, d.Kind)
		if d.Signal != 0 {
			line += fmt.Sprintf(" %#x", d.Signal)
		}
		if d.Message != "" {
			line += " (" + d.Message + ")"
		}
		return line

	default:
		return ""
	}
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " - " + reason
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
