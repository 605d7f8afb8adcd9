// Package logger builds the process slog.Logger on top of charmbracelet/log.
//
// Packages take a *slog.Logger and fall back to slog.Default(); only the
// CLI calls into here.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Formats accepted by New.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatLogfmt = "logfmt"
)

// Options configures New.
type Options struct {
	Level  string
	Format string
	// Prefix is shown before every text line, e.g. "hilo".
	Prefix string
	// Timestamps adds a time column. Off for interactive runs, where the
	// status line already shows elapsed time.
	Timestamps bool
}

// New returns a slog.Logger writing to w through a charmbracelet handler.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := parseFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	h := log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.Timestamps || formatter != log.TextFormatter,
		TimeFormat:      time.RFC3339,
	})
	return slog.New(h), nil
}

// Setup builds a logger with New and installs it as slog.Default.
func Setup(w io.Writer, opts Options) (*slog.Logger, error) {
	l, err := New(w, opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return l, nil
}

// ParseLevel maps debug|info|warn|error onto a log level. Empty means info.
func ParseLevel(s string) (log.Level, error) {
	if s == "" {
		return log.InfoLevel, nil
	}
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "error":
		return log.ParseLevel(strings.ToLower(s))
	case "warning":
		return log.WarnLevel, nil
	}
	return log.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

func parseFormat(s string) (log.Formatter, error) {
	switch strings.ToLower(s) {
	case "", FormatText:
		return log.TextFormatter, nil
	case FormatJSON:
		return log.JSONFormatter, nil
	case FormatLogfmt:
		return log.LogfmtFormatter, nil
	}
	return log.TextFormatter, fmt.Errorf("unknown log format %q", s)
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *slog.Logger {
	return slog.New(log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel}))
}
