// Package config provides configuration management for hilo.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/hilo/internal/hardware"
	"github.com/randalmurphal/hilo/internal/progress"
	"github.com/randalmurphal/hilo/internal/retry"
	"github.com/randalmurphal/hilo/internal/util"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// HiloDir is the hilo project directory
	HiloDir = ".hilo"
	// DatabaseFileName is the SQLite file inside HiloDir
	DatabaseFileName = "hilo.db"
	// RunsDir holds run summaries inside HiloDir
	RunsDir = "runs"
)

// Target kinds.
const (
	TargetSim     = "sim"
	TargetCommand = "command"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Log formats.
const (
	LogFormatText   = "text"
	LogFormatJSON   = "json"
	LogFormatLogfmt = "logfmt"
)

// Config is the complete hilo configuration.
type Config struct {
	// Version is the config schema version
	Version int `yaml:"version"`

	Retry     RetryConfig     `yaml:"retry"`
	Execution ExecutionConfig `yaml:"execution"`
	Progress  ProgressConfig  `yaml:"progress"`
	Plans     PlansConfig     `yaml:"plans"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	Log       LogConfig       `yaml:"log"`
}

// RetryConfig holds the boot retry policy.
type RetryConfig struct {
	// MaxAttempts per hardware step (default: 3)
	MaxAttempts int `yaml:"max_attempts"`
	// InterAttemptDelay is waited after a failed attempt (default: 60s)
	InterAttemptDelay time.Duration `yaml:"inter_attempt_delay"`
	// Recovery between attempts: power_cycle or none
	Recovery string `yaml:"recovery"`
	// ConfirmationTimeout bounds the postcode poll (default: 5m)
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	// PollInterval between postcode reads (default: 30s)
	PollInterval time.Duration `yaml:"poll_interval"`
	// TreatPollTimeoutAsFatal stops retrying when the poll times out
	TreatPollTimeoutAsFatal bool `yaml:"treat_poll_timeout_as_fatal"`
}

// Policy converts the section into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:             r.MaxAttempts,
		InterAttemptDelay:       r.InterAttemptDelay,
		Recovery:                retry.Recovery(r.Recovery),
		ConfirmationTimeout:     r.ConfirmationTimeout,
		PollInterval:            r.PollInterval,
		TreatPollTimeoutAsFatal: r.TreatPollTimeoutAsFatal,
	}
}

// ExecutionConfig controls checkpoints and commands.
type ExecutionConfig struct {
	// PausePollInterval is how often a halted worker checks for commands
	PausePollInterval time.Duration `yaml:"pause_poll_interval"`
	// PauseTimeout ends a run that stays halted this long
	PauseTimeout time.Duration `yaml:"pause_timeout"`
	// AckTimeout bounds how long a control surface waits for the worker
	AckTimeout time.Duration `yaml:"ack_timeout"`
	// StopOnFail applies to experiments that don't set their own value
	StopOnFail bool `yaml:"stop_on_fail"`
	// SummaryDir receives <run-id>.json after every run
	SummaryDir string `yaml:"summary_dir"`
}

// ProgressConfig tunes the estimator.
type ProgressConfig struct {
	DefaultIterationsPerExperiment int           `yaml:"default_iterations_per_experiment"`
	DefaultIterationDuration       time.Duration `yaml:"default_iteration_duration"`
	RateWindow                     int           `yaml:"rate_window"`
}

// Options converts the section into estimator options.
func (p ProgressConfig) Options() progress.Options {
	return progress.Options{
		DefaultIterationsPerExperiment: p.DefaultIterationsPerExperiment,
		DefaultIterationDuration:       p.DefaultIterationDuration,
		RateWindow:                     p.RateWindow,
	}
}

// PlansConfig locates plan files.
type PlansConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
}

// DatabaseConfig selects the run store.
type DatabaseConfig struct {
	// Driver is sqlite or postgres
	Driver string `yaml:"driver"`
	// Path is the SQLite file
	Path string `yaml:"path"`
	// DSN is the PostgreSQL connection string
	DSN string `yaml:"dsn"`
}

// Source returns the connection string for the configured driver.
func (d DatabaseConfig) Source() string {
	if d.Driver == DriverPostgres {
		return d.DSN
	}
	return d.Path
}

// ServerConfig is the remote control API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HardwareConfig selects and configures the probe.
type HardwareConfig struct {
	// Target is sim or command
	Target string `yaml:"target"`
	// LockFile guards the probe session against a second run
	LockFile string                 `yaml:"lock_file"`
	Sim      hardware.SimConfig     `yaml:"sim"`
	Command  hardware.CommandConfig `yaml:"command"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
	// Format is text, json or logfmt
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	p := retry.DefaultPolicy()
	return &Config{
		Version: 1,
		Retry: RetryConfig{
			MaxAttempts:             p.MaxAttempts,
			InterAttemptDelay:       p.InterAttemptDelay,
			Recovery:                string(p.Recovery),
			ConfirmationTimeout:     p.ConfirmationTimeout,
			PollInterval:            p.PollInterval,
			TreatPollTimeoutAsFatal: p.TreatPollTimeoutAsFatal,
		},
		Execution: ExecutionConfig{
			PausePollInterval: 250 * time.Millisecond,
			PauseTimeout:      12 * time.Hour,
			AckTimeout:        5 * time.Second,
			StopOnFail:        false,
			SummaryDir:        filepath.Join(HiloDir, RunsDir),
		},
		Progress: ProgressConfig{
			DefaultIterationsPerExperiment: progress.DefaultIterationsPerExperiment,
			DefaultIterationDuration:       progress.DefaultIterationDuration,
			RateWindow:                     progress.DefaultRateWindow,
		},
		Plans: PlansConfig{
			Dir:     "plans",
			Pattern: "**/*.yaml",
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(HiloDir, DatabaseFileName),
		},
		Server: ServerConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8470,
		},
		Hardware: HardwareConfig{
			Target:   TargetSim,
			LockFile: filepath.Join(HiloDir, "probe.lock"),
			Sim:      hardware.DefaultSimConfig(),
			Command: hardware.CommandConfig{
				Timeout: 30 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// Load loads the project config from .hilo/config.yaml.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(HiloDir, ConfigFileName))
}

// LoadFrom loads the config from a specific path over the defaults.
// A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save saves the config to the default location.
func (c *Config) Save() error {
	return c.SaveTo(filepath.Join(HiloDir, ConfigFileName))
}

// SaveTo saves the config to a specific path.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Init creates .hilo/ with a default config and a plans directory.
func Init(force bool) error {
	if !force && IsInitialized() {
		return fmt.Errorf("hilo already initialized (use --force to overwrite)")
	}

	cfg := Default()
	for _, dir := range []string{HiloDir, cfg.Execution.SummaryDir, cfg.Plans.Dir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// IsInitialized returns true if hilo is initialized in the current directory.
func IsInitialized() bool {
	_, err := os.Stat(HiloDir)
	return err == nil
}
