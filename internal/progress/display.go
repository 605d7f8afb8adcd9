package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/randalmurphal/hilo/internal/state"
)

// fallbackWidth is used when the output is not a terminal.
const fallbackWidth = 80

// Display renders a single, continuously rewritten progress line for plain
// terminals. Event lines printed in between should call Clear first.
type Display struct {
	out   io.Writer
	quiet bool
	width func() int

	mu       sync.Mutex
	lastLen  int
	lastLine string
}

// NewDisplay creates a progress display writing to out.
func NewDisplay(out io.Writer, quiet bool) *Display {
	return &Display{
		out:   out,
		quiet: quiet,
		width: widthOf(out),
	}
}

// widthOf returns a function reporting the terminal width of out.
func widthOf(out io.Writer) func() int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() int { return fallbackWidth }
	}
	fd := int(f.Fd())
	return func() int {
		w, _, err := term.GetSize(fd)
		if err != nil || w <= 0 {
			return fallbackWidth
		}
		return w
	}
}

// Update rewrites the progress line.
func (d *Display) Update(snap state.Snapshot, est Estimate) {
	if d.quiet {
		return
	}

	line := Line(snap, est, d.width())

	d.mu.Lock()
	defer d.mu.Unlock()
	if line == d.lastLine {
		return
	}
	pad := ""
	if n := d.lastLen - len([]rune(line)); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(d.out, "\r"+line+pad)
	d.lastLen = len([]rune(line))
	d.lastLine = line
}

// Clear erases the progress line so a full line can be printed.
func (d *Display) Clear() {
	if d.quiet {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastLen == 0 {
		return
	}
	fmt.Fprint(d.out, "\r"+strings.Repeat(" ", d.lastLen)+"\r")
	d.lastLen = 0
	d.lastLine = ""
}

// Line formats the progress line, truncated to width runes.
func Line(snap state.Snapshot, est Estimate, width int) string {
	icon := "⏳"
	if snap.RunState == state.RunHalted {
		icon = "⏸"
	}

	line := fmt.Sprintf("%s [%d/%d] iter %d/%d %s %5.1f%% | overall %s %5.1f%% | ETA %s",
		icon,
		snap.CurrentExperiment, snap.TotalExperiments,
		snap.CurrentIteration, snap.TotalIterations,
		Bar(est.Current, 10), est.Current*100,
		Bar(est.Overall, 20), est.Overall*100,
		FormatETA(est),
	)
	if width > 0 {
		if r := []rune(line); len(r) > width-1 {
			line = string(r[:max(width-1, 0)])
		}
	}
	return line
}

// FormatETA renders the estimate's ETA: "--" when unknown, with a "~"
// prefix while it still rests on configured defaults.
func FormatETA(est Estimate) string {
	if est.ETA <= 0 {
		return "--"
	}
	eta := formatDuration(est.ETA)
	if !est.Measured {
		eta = "~" + eta
	}
	return eta
}

// Bar renders fraction as a fixed-width text bar.
func Bar(fraction float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(clamp(fraction)*float64(width) + 0.5)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
