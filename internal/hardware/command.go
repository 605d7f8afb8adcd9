package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandConfig maps probe operations to an external CLI.
//
// Argument templates may contain {kind}, {path} and {value} placeholders;
// {value} expands to hex.
type CommandConfig struct {
	Binary  string                  `yaml:"binary" json:"binary"`
	Actions map[ActionKind][]string `yaml:"actions" json:"actions"`
	Read    []string                `yaml:"read" json:"read"`
	Recover []string                `yaml:"recover" json:"recover"`
	Timeout time.Duration           `yaml:"timeout" json:"timeout"`
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// CommandTarget drives a probe through an external CLI.
type CommandTarget struct {
	cfg        CommandConfig
	run        Runner
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// CommandOption configures a CommandTarget.
type CommandOption func(*CommandTarget)

// WithRunner replaces the process runner.
func WithRunner(r Runner) CommandOption {
	return func(t *CommandTarget) { t.run = r }
}

// WithCommandLogger sets the logger.
func WithCommandLogger(l *slog.Logger) CommandOption {
	return func(t *CommandTarget) { t.logger = l }
}

// NewCommandTarget creates a target that shells out for every operation.
// Only action kinds with a configured template are dispatchable.
func NewCommandTarget(cfg CommandConfig, opts ...CommandOption) (*CommandTarget, error) {
	if cfg.Binary == "" {
		return nil, errors.New("probe binary is required")
	}
	if len(cfg.Read) == 0 {
		return nil, errors.New("probe read template is required")
	}

	t := &CommandTarget{
		cfg:        cfg,
		run:        ExecRunner,
		dispatcher: NewDispatcher(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	for kind, tmpl := range cfg.Actions {
		if !kind.IsValid() {
			return nil, fmt.Errorf("unknown action kind %q in probe templates", kind)
		}
		t.dispatcher.Register(kind, func(ctx context.Context, a Action) error {
			_, err := t.exec(ctx, tmpl, a)
			return err
		})
	}
	return t, nil
}

// Perform implements Target.
func (t *CommandTarget) Perform(ctx context.Context, a Action) error {
	return t.dispatcher.Dispatch(ctx, a)
}

// ReadSignal implements Target. The CLI must print the value on stdout in
// any base strconv.ParseUint accepts with base 0.
func (t *CommandTarget) ReadSignal(ctx context.Context, path string) (uint64, error) {
	out, err := t.exec(ctx, t.cfg.Read, Action{Path: path})
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(out)), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s reading: %w", path, err)
	}
	return v, nil
}

// Recover implements Target.
func (t *CommandTarget) Recover(ctx context.Context) error {
	if len(t.cfg.Recover) == 0 {
		return fmt.Errorf("%w: recover", ErrUnsupportedAction)
	}
	_, err := t.exec(ctx, t.cfg.Recover, Action{})
	return err
}

func (t *CommandTarget) exec(ctx context.Context, tmpl []string, a Action) ([]byte, error) {
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	args := ExpandArgs(tmpl, a)
	t.logger.Debug("probe command", "binary", t.cfg.Binary, "args", args)
	return t.run(ctx, t.cfg.Binary, args...)
}

// ExpandArgs substitutes action fields into an argument template.
func ExpandArgs(tmpl []string, a Action) []string {
	r := strings.NewReplacer(
		"{kind}", string(a.Kind),
		"{path}", a.Path,
		"{value}", fmt.Sprintf("%#x", a.Value),
	)
	args := make([]string, len(tmpl))
	for i, arg := range tmpl {
		args[i] = r.Replace(arg)
	}
	return args
}
