package config

import (
	"log/slog"
	"os"
	"sort"
	"strings"
)

// EnvVarMapping defines the mapping between environment variables and config paths.
var EnvVarMapping = map[string]string{
	// Retry policy
	"HILO_MAX_ATTEMPTS":         "retry.max_attempts",
	"HILO_INTER_ATTEMPT_DELAY":  "retry.inter_attempt_delay",
	"HILO_RECOVERY":             "retry.recovery",
	"HILO_CONFIRMATION_TIMEOUT": "retry.confirmation_timeout",
	"HILO_POLL_INTERVAL":        "retry.poll_interval",
	"HILO_POLL_TIMEOUT_FATAL":   "retry.treat_poll_timeout_as_fatal",
	// Execution
	"HILO_PAUSE_TIMEOUT": "execution.pause_timeout",
	"HILO_ACK_TIMEOUT":   "execution.ack_timeout",
	"HILO_STOP_ON_FAIL":  "execution.stop_on_fail",
	"HILO_SUMMARY_DIR":   "execution.summary_dir",
	// Plans
	"HILO_PLANS_DIR": "plans.dir",
	// Database
	"HILO_DB_DRIVER": "database.driver",
	"HILO_DB_PATH":   "database.path",
	"HILO_DB_DSN":    "database.dsn",
	// Server
	"HILO_SERVER": "server.enabled",
	"HILO_HOST":   "server.host",
	"HILO_PORT":   "server.port",
	// Hardware
	"HILO_TARGET":       "hardware.target",
	"HILO_LOCK_FILE":    "hardware.lock_file",
	"HILO_SIM_SEED":     "hardware.sim.seed",
	"HILO_PROBE_BINARY": "hardware.command.binary",
	// Logging
	"HILO_LOG_LEVEL":  "log.level",
	"HILO_LOG_FORMAT": "log.format",
}

// ApplyEnvVars applies environment variable overrides to a TrackedConfig.
// Returns the paths that were overridden, sorted.
func ApplyEnvVars(tc *TrackedConfig) []string {
	var overridden []string

	for envVar, configPath := range EnvVarMapping {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}

		if err := tc.Config.SetValue(configPath, value); err != nil {
			slog.Warn("ignoring environment override", "var", envVar, "error", err)
			continue
		}
		tc.SetSourceWithPath(configPath, SourceEnv, envVar)
		overridden = append(overridden, configPath)
	}

	sort.Strings(overridden)
	return overridden
}

// parseBool parses a boolean from common string representations.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
