package config

import (
	"fmt"
	"strings"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
)

// Validate reports the first invalid field as a CONFIG_INVALID error.
func (c *Config) Validate() error {
	if err := c.Retry.Policy().Validate(); err != nil {
		return err
	}

	if c.Execution.PausePollInterval <= 0 {
		return hiloerrors.ConfigInvalid("execution.pause_poll_interval", "must be positive")
	}
	if c.Execution.PauseTimeout < c.Execution.PausePollInterval {
		return hiloerrors.ConfigInvalid("execution.pause_timeout",
			fmt.Sprintf("must be at least pause_poll_interval (%s)", c.Execution.PausePollInterval))
	}
	if c.Execution.AckTimeout <= 0 {
		return hiloerrors.ConfigInvalid("execution.ack_timeout", "must be positive")
	}

	if c.Progress.DefaultIterationsPerExperiment < 0 {
		return hiloerrors.ConfigInvalid("progress.default_iterations_per_experiment", "must not be negative")
	}
	if c.Progress.DefaultIterationDuration < 0 {
		return hiloerrors.ConfigInvalid("progress.default_iteration_duration", "must not be negative")
	}
	if c.Progress.RateWindow < 0 {
		return hiloerrors.ConfigInvalid("progress.rate_window", "must not be negative")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return hiloerrors.ConfigInvalid("database.path", "required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return hiloerrors.ConfigInvalid("database.dsn", "required for the postgres driver")
		}
	default:
		return hiloerrors.ConfigInvalid("database.driver",
			fmt.Sprintf("unknown driver %q (want sqlite or postgres)", c.Database.Driver))
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return hiloerrors.ConfigInvalid("server.port", fmt.Sprintf("out of range: %d", c.Server.Port))
	}

	switch c.Hardware.Target {
	case TargetSim:
		if r := c.Hardware.Sim.BootFailureRate; r < 0 || r > 1 {
			return hiloerrors.ConfigInvalid("hardware.sim.boot_failure_rate", "must be within [0,1]")
		}
		if r := c.Hardware.Sim.StallRate; r < 0 || r > 1 {
			return hiloerrors.ConfigInvalid("hardware.sim.stall_rate", "must be within [0,1]")
		}
	case TargetCommand:
		if c.Hardware.Command.Binary == "" {
			return hiloerrors.ConfigInvalid("hardware.command.binary", "required for the command target")
		}
		if len(c.Hardware.Command.Read) == 0 {
			return hiloerrors.ConfigInvalid("hardware.command.read", "required for the command target")
		}
	default:
		return hiloerrors.ConfigInvalid("hardware.target",
			fmt.Sprintf("unknown target %q (want sim or command)", c.Hardware.Target))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return hiloerrors.ConfigInvalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
	default:
		return hiloerrors.ConfigInvalid("log.format",
			fmt.Sprintf("unknown format %q (want text, json or logfmt)", c.Log.Format))
	}
	return nil
}
