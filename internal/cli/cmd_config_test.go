package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/hilo/internal/config"
)

func TestConfigShowCmd(t *testing.T) {
	setupProject(t)

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "retry:")
	assert.Contains(t, out, "poll_interval: 1ms")

	out, err = execute(t, "config", "show", "--source")
	require.NoError(t, err)
	assert.Regexp(t, `retry\.poll_interval\s+1ms\s+project: `, out)
	assert.Regexp(t, `retry\.max_attempts\s+3\s+default\n`, out)
	assert.Contains(t, out, "log.level")

	out, err = execute(t, "config", "show", "retry")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "retry:\n"), out)
	assert.NotContains(t, out, "database:")

	out, err = execute(t, "config", "show", "retry", "--source")
	require.NoError(t, err)
	assert.NotContains(t, out, "log.level")

	_, err = execute(t, "config", "show", "nope")
	require.Error(t, err)
}

func TestConfigGetCmd_EnvOverride(t *testing.T) {
	setupProject(t)
	t.Setenv("HILO_MAX_ATTEMPTS", "7")

	out, err := execute(t, "config", "get", "retry.max_attempts")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)

	out, err = execute(t, "config", "get", "retry.max_attempts", "--source")
	require.NoError(t, err)
	assert.Equal(t, "7 (from env: HILO_MAX_ATTEMPTS)\n", out)

	_, err = execute(t, "config", "get", "retry.no_such_key")
	require.Error(t, err)
}

func TestConfigGetCmd_ConfigFlag(t *testing.T) {
	setupProject(t)
	writeFile(t, "bench.yaml", "retry:\n  max_attempts: 9\n")

	out, err := execute(t, "--config", "bench.yaml", "config", "get", "retry.max_attempts", "--source")
	require.NoError(t, err)
	assert.Contains(t, out, "9 (from flag")

	// Environment variables still win over the --config file.
	t.Setenv("HILO_MAX_ATTEMPTS", "4")
	out, err = execute(t, "--config", "bench.yaml", "config", "get", "retry.max_attempts")
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)
}

func TestConfigSetCmd(t *testing.T) {
	dir := setupProject(t)

	out, err := execute(t, "config", "set", "retry.max_attempts", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Set retry.max_attempts = 5 in "+filepath.Join(config.HiloDir, config.ConfigFileName))

	out, err = execute(t, "config", "get", "retry.max_attempts")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)

	// Values from the existing file survive the rewrite.
	out, err = execute(t, "config", "get", "retry.poll_interval")
	require.NoError(t, err)
	assert.Equal(t, "1ms\n", out)

	_, err = execute(t, "config", "set", "--user", "log.level", "debug")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "home", config.HiloDir, config.ConfigFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "level: debug")
}

func TestConfigSetCmd_RejectsInvalid(t *testing.T) {
	setupProject(t)
	before, err := os.ReadFile(filepath.Join(config.HiloDir, config.ConfigFileName))
	require.NoError(t, err)

	_, err = execute(t, "config", "set", "hardware.target", "jtag")
	require.Error(t, err)

	after, err := os.ReadFile(filepath.Join(config.HiloDir, config.ConfigFileName))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "invalid values must not be saved")
}

func TestConfigPathsCmd(t *testing.T) {
	setupProject(t)

	out, err := execute(t, "config", "paths")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, len(config.AllConfigPaths()))
	assert.Contains(t, out, "retry.max_attempts (HILO_MAX_ATTEMPTS)\n")
	assert.Contains(t, out, "log.level (HILO_LOG_LEVEL)\n")
}
