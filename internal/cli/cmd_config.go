package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/hilo/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
		Long: `View and manage hilo configuration.

Later layers win:
  1. Built-in defaults
  2. ~/.hilo/config.yaml
  3. .hilo/config.yaml
  4. --config file
  5. HILO_* environment variables
  6. Command flags

Examples:
  hilo config show                       # merged config as YAML
  hilo config show retry --source        # one section, with sources
  hilo config get retry.max_attempts
  hilo config set retry.max_attempts 5   # in .hilo/config.yaml
  hilo config set --user log.level debug # in ~/.hilo/config.yaml
  hilo config paths                      # every settable key`,
	}
	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigPathsCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var withSource bool

	cmd := &cobra.Command{
		Use:   "show [section]",
		Short: "Show merged configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig()
			if err != nil {
				return err
			}
			section := ""
			if len(args) == 1 {
				section = args[0]
			}

			out := cmd.OutOrStdout()
			if withSource {
				return printSources(out, tc, section)
			}
			return printYAML(out, tc.Config, section)
		},
	}
	cmd.Flags().BoolVar(&withSource, "source", false, "list every key with the layer that set it")
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	var withSource bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig()
			if err != nil {
				return err
			}
			value, err := tc.Config.GetValue(args[0])
			if err != nil {
				return err
			}
			if withSource {
				value = fmt.Sprintf("%s (from %s)", value, tc.GetTrackedSource(args[0]))
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSource, "source", false, "also print the layer that set it")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	var user bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a config value",
		Long: `Write one value to .hilo/config.yaml, or to ~/.hilo/config.yaml with
--user. The file is only saved if the result validates.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configFile(user)
			if err != nil {
				return err
			}
			cfg, err := config.LoadFrom(path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			if err := cfg.SetValue(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.SaveTo(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", args[0], args[1], path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "write ~/.hilo/config.yaml instead of the project file")
	return cmd
}

// configFile is the file 'config set' writes.
func configFile(user bool) (string, error) {
	if !user {
		return filepath.Join(config.HiloDir, config.ConfigFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, config.HiloDir, config.ConfigFileName), nil
}

func newConfigPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List every settable key and its environment variable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			envByPath := make(map[string]string, len(config.EnvVarMapping))
			for env, path := range config.EnvVarMapping {
				envByPath[path] = env
			}
			out := cmd.OutOrStdout()
			for _, path := range config.AllConfigPaths() {
				if env := envByPath[path]; env != "" {
					path += " (" + env + ")"
				}
				_, _ = fmt.Fprintln(out, path)
			}
			return nil
		},
	}
}

// printYAML writes cfg, or one top-level section of it, as YAML.
func printYAML(out io.Writer, cfg *config.Config, section string) error {
	var doc any = cfg
	if section != "" {
		var all map[string]any
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &all); err != nil {
			return err
		}
		sub, ok := all[section]
		if !ok {
			return fmt.Errorf("unknown config section: %s", section)
		}
		doc = map[string]any{section: sub}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// printSources lists every leaf key under section with its value and layer.
func printSources(out io.Writer, tc *config.TrackedConfig, section string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
	n := 0
	for _, path := range config.AllConfigPaths() {
		if section != "" && !strings.HasPrefix(path, section+".") {
			continue
		}
		value, err := tc.Config.GetValue(path)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", path, dash(value), tc.GetTrackedSource(path))
		n++
	}
	if n == 0 {
		return fmt.Errorf("unknown config section: %s", section)
	}
	return w.Flush()
}
