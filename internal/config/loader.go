package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
)

// LoadWithSources loads configuration with source tracking for the
// current directory.
func LoadWithSources() (*TrackedConfig, error) {
	return LoadWithSourcesFrom(".")
}

// LoadWithSourcesFrom loads configuration with source tracking.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. User config (~/.hilo/config.yaml) - optional
//  3. Project config (<projectDir>/.hilo/config.yaml) - optional
//  4. Environment variables (HILO_*)
func LoadWithSourcesFrom(projectDir string) (*TrackedConfig, error) {
	tc := NewTrackedConfig()

	// User config errors are not fatal; a broken bench-wide file should
	// not block a project that overrides it.
	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, HiloDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := tc.MergeFile(userPath, SourceUser); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	projectPath := filepath.Join(projectDir, HiloDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := tc.MergeFile(projectPath, SourceProject); err != nil {
			return nil, err
		}
	}

	ApplyEnvVars(tc)
	return tc, nil
}

// MergeFile overlays the keys set in a YAML file onto tc.Config and
// records their source. Unknown keys are rejected.
func (tc *TrackedConfig) MergeFile(path string, source ConfigSource) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	// The raw map tells which keys the file actually sets.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return hiloerrors.ConfigInvalid(path, err.Error())
	}
	if len(raw) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(tc.Config); err != nil && !errors.Is(err, io.EOF) {
		return hiloerrors.ConfigInvalid(path, err.Error())
	}

	recordSources(tc, raw, "", source, path)
	return nil
}

// recordSources marks every leaf key of raw as coming from source.
// Map-valued settings such as hardware.command.actions are leaves.
func recordSources(tc *TrackedConfig, raw map[string]any, prefix string, source ConfigSource, origin string) {
	for key, v := range raw {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := v.(map[string]any); ok && !isLeafPath(path) {
			recordSources(tc, nested, path, source, origin)
			continue
		}
		tc.SetSourceWithPath(path, source, origin)
	}
}
