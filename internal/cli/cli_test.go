package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/hilo/internal/config"
)

// fastConfig keeps simulator runs in the millisecond range.
const fastConfig = `
retry:
  inter_attempt_delay: 1ms
  poll_interval: 1ms
  confirmation_timeout: 2s
execution:
  pause_poll_interval: 5ms
  ack_timeout: 2s
`

const testPlan = `
name: bringup
experiments:
  - id: baseline
    kind: loop
    loops: 2
    steps:
      - name: boot
        actions:
          - kind: boot
        confirm:
          path: postcode
          target: 0xef0000ff
  - id: ratio-sweep
    kind: sweep
    sweep: {domain: ia, type: frequency, start: 20, end: 24, step: 2}
    steps:
      - name: set-ratio
        actions:
          - {kind: write, path: ia.ratio, value_from: ia_frequency}
          - {kind: boot}
        confirm:
          path: postcode
          target: 0xef0000ff
`

// setupProject creates an isolated project directory with a fast config
// and one plan, and makes it the working directory.
func setupProject(t *testing.T) string {
	t.Helper()
	dir := isolate(t)
	writeFile(t, filepath.Join(config.HiloDir, config.ConfigFileName), fastConfig)
	writeFile(t, filepath.Join("plans", "bringup.yaml"), testPlan)
	return dir
}

// isolate switches to an empty working directory and home, with every
// HILO_* variable cleared.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", filepath.Join(dir, "home"))
	for envVar := range config.EnvVarMapping {
		t.Setenv(envVar, "")
	}
	for _, v := range []string{"HILO_CONFIG", "HILO_VERBOSE", "HILO_QUIET", "HILO_JSON"} {
		t.Setenv(v, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// execute runs the root command with args and returns everything it wrote.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
