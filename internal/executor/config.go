package executor

import (
	"time"

	"github.com/randalmurphal/hilo/internal/config"
	"github.com/randalmurphal/hilo/internal/retry"
)

const (
	// DefaultPausePollInterval is how often a halted worker re-reads the state.
	DefaultPausePollInterval = 250 * time.Millisecond
	// DefaultPauseTimeout bounds how long a run may stay halted.
	DefaultPauseTimeout = 12 * time.Hour
)

// Config holds executor configuration.
type Config struct {
	// Policy is passed by value to every retry engine invocation.
	Policy retry.Policy

	// PausePollInterval is the halted wait loop period.
	PausePollInterval time.Duration
	// PauseTimeout ends the run if no command arrives while halted.
	PauseTimeout time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Policy:            retry.DefaultPolicy(),
		PausePollInterval: DefaultPausePollInterval,
		PauseTimeout:      DefaultPauseTimeout,
	}
}

// ConfigFromHilo creates an executor config from hilo config.
func ConfigFromHilo(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	out.Policy = cfg.Retry.Policy()
	if cfg.Execution.PausePollInterval > 0 {
		out.PausePollInterval = cfg.Execution.PausePollInterval
	}
	if cfg.Execution.PauseTimeout > 0 {
		out.PauseTimeout = cfg.Execution.PauseTimeout
	}
	return out
}
