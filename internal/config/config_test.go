package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
	"github.com/randalmurphal/hilo/internal/retry"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.InterAttemptDelay != 60*time.Second {
		t.Errorf("Retry.InterAttemptDelay = %v, want 60s", cfg.Retry.InterAttemptDelay)
	}
	if cfg.Retry.PollInterval != 30*time.Second {
		t.Errorf("Retry.PollInterval = %v, want 30s", cfg.Retry.PollInterval)
	}
	if cfg.Retry.ConfirmationTimeout != 5*time.Minute {
		t.Errorf("Retry.ConfirmationTimeout = %v, want 5m", cfg.Retry.ConfirmationTimeout)
	}
	if cfg.Execution.AckTimeout != 5*time.Second {
		t.Errorf("Execution.AckTimeout = %v, want 5s", cfg.Execution.AckTimeout)
	}
	if cfg.Execution.PauseTimeout != 12*time.Hour {
		t.Errorf("Execution.PauseTimeout = %v, want 12h", cfg.Execution.PauseTimeout)
	}
	if cfg.Progress.DefaultIterationsPerExperiment != 10 {
		t.Errorf("Progress.DefaultIterationsPerExperiment = %d, want 10", cfg.Progress.DefaultIterationsPerExperiment)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Hardware.Target != TargetSim {
		t.Errorf("Hardware.Target = %q, want sim", cfg.Hardware.Target)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestRetryConfig_Policy(t *testing.T) {
	cfg := Default()
	if got, want := cfg.Retry.Policy(), retry.DefaultPolicy(); got != want {
		t.Errorf("Policy() = %+v, want %+v", got, want)
	}

	cfg.Retry.Recovery = "none"
	cfg.Retry.TreatPollTimeoutAsFatal = false
	p := cfg.Retry.Policy()
	if p.Recovery != retry.RecoveryNone {
		t.Errorf("Recovery = %q, want none", p.Recovery)
	}
	if p.TreatPollTimeoutAsFatal {
		t.Error("TreatPollTimeoutAsFatal should be false")
	}
}

func TestProgressConfig_Options(t *testing.T) {
	cfg := Default()
	cfg.Progress.RateWindow = 4
	opts := cfg.Progress.Options()
	if opts.RateWindow != 4 {
		t.Errorf("RateWindow = %d, want 4", opts.RateWindow)
	}
	if opts.DefaultIterationDuration != cfg.Progress.DefaultIterationDuration {
		t.Errorf("DefaultIterationDuration = %v", opts.DefaultIterationDuration)
	}
}

func TestDatabaseConfig_Source(t *testing.T) {
	db := DatabaseConfig{Driver: DriverSQLite, Path: ".hilo/hilo.db", DSN: "postgres://lab"}
	if got := db.Source(); got != ".hilo/hilo.db" {
		t.Errorf("sqlite Source() = %q", got)
	}
	db.Driver = DriverPostgres
	if got := db.Source(); got != "postgres://lab" {
		t.Errorf("postgres Source() = %q", got)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 9000}
	if got := s.Addr(); got != "0.0.0.0:9000" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), HiloDir, ConfigFileName)

	cfg := Default()
	cfg.Retry.MaxAttempts = 5
	cfg.Hardware.Sim.BootFailureRate = 0.25
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if loaded.Retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", loaded.Retry.MaxAttempts)
	}
	if loaded.Hardware.Sim.BootFailureRate != 0.25 {
		t.Errorf("BootFailureRate = %v, want 0.25", loaded.Hardware.Sim.BootFailureRate)
	}
	if loaded.Execution.PauseTimeout != 12*time.Hour {
		t.Errorf("PauseTimeout = %v, want 12h", loaded.Execution.PauseTimeout)
	}
}

func TestLoadFrom_NonExistent(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom should not fail for a missing file: %v", err)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected defaults, got MaxAttempts = %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("retry: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestInit(t *testing.T) {
	t.Chdir(t.TempDir())

	if IsInitialized() {
		t.Fatal("fresh directory should not be initialized")
	}
	if err := Init(false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !IsInitialized() {
		t.Error("expected initialized after Init")
	}
	for _, p := range []string{filepath.Join(HiloDir, ConfigFileName), filepath.Join(HiloDir, RunsDir), "plans"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if err := Init(false); err == nil {
		t.Error("second Init without force should fail")
	}
	if err := Init(true); err != nil {
		t.Errorf("Init with force failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"unknown recovery", func(c *Config) { c.Retry.Recovery = "reboot" }, "retry.recovery"},
		{"zero pause poll", func(c *Config) { c.Execution.PausePollInterval = 0 }, "execution.pause_poll_interval"},
		{"pause timeout below poll", func(c *Config) { c.Execution.PauseTimeout = time.Millisecond }, "execution.pause_timeout"},
		{"zero ack timeout", func(c *Config) { c.Execution.AckTimeout = 0 }, "execution.ack_timeout"},
		{"negative window", func(c *Config) { c.Progress.RateWindow = -1 }, "progress.rate_window"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad port", func(c *Config) { c.Server.Enabled = true; c.Server.Port = 0 }, "server.port"},
		{"unknown target", func(c *Config) { c.Hardware.Target = "jtag" }, "hardware.target"},
		{"bad failure rate", func(c *Config) { c.Hardware.Sim.BootFailureRate = 1.5 }, "hardware.sim.boot_failure_rate"},
		{"command without binary", func(c *Config) { c.Hardware.Target = TargetCommand }, "hardware.command.binary"},
		{"unknown level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, &hiloerrors.HiloError{Code: hiloerrors.CodeConfigInvalid}) {
				t.Errorf("expected CONFIG_INVALID, got %v", err)
			}
			var he *hiloerrors.HiloError
			if errors.As(err, &he) && he.What != "invalid configuration: "+tt.field {
				t.Errorf("What = %q, want field %s", he.What, tt.field)
			}
		})
	}
}

func TestValidate_CommandTarget(t *testing.T) {
	cfg := Default()
	cfg.Hardware.Target = TargetCommand
	cfg.Hardware.Command.Binary = "probectl"
	cfg.Hardware.Command.Read = []string{"read", "{path}"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("configured command target should validate: %v", err)
	}
}
