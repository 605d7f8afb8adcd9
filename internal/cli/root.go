// Package cli implements the hilo command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/hilo/internal/config"
	"github.com/randalmurphal/hilo/internal/logger"
)

// Version is set at build time with -ldflags.
var Version = "0.1.0-dev"

var (
	cfgFile string
	envFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

// newRootCmd builds the command tree. Global flags can also be set from
// HILO_* environment variables, including ones loaded from a .env file.
func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "hilo",
		Short: "Hardware-in-the-loop experiment orchestrator",
		Long: `hilo runs queues of boot experiments against a probe-attached target.

Experiments are loops, single-axis sweeps, or two-axis shmoos. Each
iteration drives the target through retryable boot steps with postcode
confirmation. A run can be paused, resumed, cancelled, or ended from the
terminal panel or the control API while it executes.

Quick start:
  hilo init                  Create .hilo/ and an example plan
  hilo validate              Check config and plans
  hilo run                   Run every plan under plans/
  hilo run --serve           Also expose the control API
  hilo history               List finished runs`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initGlobals(cmd, v)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "extra config file merged over .hilo/config.yaml")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading HILO_* variables")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	pf.BoolVar(&jsonOut, "json", false, "output as JSON")

	cmd.AddCommand(
		newInitCmd(),
		newRunCmd(),
		newValidateCmd(),
		newStatusCmd(),
		newCommandCmd(),
		newHistoryCmd(),
		newEventsCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// initGlobals loads the dotenv file and resolves global flags against
// HILO_* variables. Flags given on the command line win.
func initGlobals(cmd *cobra.Command, v *viper.Viper) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	v.SetEnvPrefix("HILO")
	v.AutomaticEnv()
	for _, name := range []string{"config", "verbose", "quiet", "json"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	cfgFile = v.GetString("config")
	verbose = v.GetBool("verbose")
	quiet = v.GetBool("quiet")
	jsonOut = v.GetBool("json")
	return nil
}

// loadConfig resolves the layered configuration. A --config file sits
// above the project file and below environment overrides.
func loadConfig() (*config.TrackedConfig, error) {
	tc, err := config.LoadWithSources()
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		if err := tc.MergeFile(cfgFile, config.SourceFlag); err != nil {
			return nil, err
		}
		config.ApplyEnvVars(tc)
	}
	return tc, nil
}

// applyFlagOverrides copies changed flags onto their config paths and
// records them as flag-sourced.
func applyFlagOverrides(cmd *cobra.Command, tc *config.TrackedConfig, paths map[string]string) error {
	for name, path := range paths {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := tc.Config.SetValue(path, f.Value.String()); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
		tc.SetSourceWithPath(path, config.SourceFlag, "--"+name)
	}
	return nil
}

// setupLogging installs the process logger on stderr.
func setupLogging(cfg *config.Config) error {
	level := cfg.Log.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "warn"
	}
	_, err := logger.Setup(os.Stderr, logger.Options{
		Level:  level,
		Format: cfg.Log.Format,
		Prefix: "hilo",
	})
	return err
}
