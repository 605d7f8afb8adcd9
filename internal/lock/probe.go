// Package lock guards the debug probe against two hilo runs on one bench.
//
// The probe is a single physical session; a second run would interleave
// commands with the first. The lock is a YAML file naming the holder. A
// file left behind by a dead process is reclaimed.
package lock

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
)

// Holder describes the process that owns the probe session.
type Holder struct {
	RunID    string    `yaml:"run_id"`
	Owner    string    `yaml:"owner"` // user@host
	PID      int       `yaml:"pid"`
	Acquired time.Time `yaml:"acquired"`
}

// ProbeLock is an exclusive lock file for the probe session.
type ProbeLock struct {
	path  string
	owner string
	pid   int
	held  bool
}

// New creates a lock at path. Nothing is written until Acquire.
func New(path string) *ProbeLock {
	return &ProbeLock{
		path:  path,
		owner: defaultOwner(),
		pid:   os.Getpid(),
	}
}

// Path returns the lock file path.
func (l *ProbeLock) Path() string { return l.path }

// Acquire takes the probe for runID. It returns a PROBE_BUSY error when a
// live process holds it. A lock left by a dead process, or one that cannot be
// parsed, is replaced.
func (l *ProbeLock) Acquire(runID string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	data, err := yaml.Marshal(Holder{
		RunID:    runID,
		Owner:    l.owner,
		PID:      l.pid,
		Acquired: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}

	// A stale file is cleared at most twice before giving up.
	for attempt := 0; attempt < 3; attempt++ {
		err := publishFile(l.path, data)
		if err == nil {
			l.held = true
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("write lock: %w", err)
		}

		current, err := os.ReadFile(l.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read lock: %w", err)
		}
		if h, err := parseHolder(current); err == nil && h.PID != l.pid && processExists(h.PID) {
			return hiloerrors.ProbeBusy(h.PID)
		}
		if err := l.clearStale(current); err != nil {
			return err
		}
	}
	return hiloerrors.ErrProbeBusy
}

// Release removes the lock if this process holds it. Safe to call twice.
func (l *ProbeLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false

	h, err := l.Holder()
	if err != nil || h == nil || h.PID != l.pid {
		// Someone reclaimed it; leave their file alone.
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// Holder reads the current lock file. It returns nil, nil when the probe
// is free.
func (l *ProbeLock) Holder() (*Holder, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock: %w", err)
	}
	return parseHolder(data)
}

func parseHolder(data []byte) (*Holder, error) {
	var h Holder
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse lock: %w", err)
	}
	return &h, nil
}

// publishFile creates path with its full contents in one step: the data is
// written to a temp file which is then hard-linked into place. The link
// fails with fs.ErrExist when path is already taken, so readers never see
// a partial lock.
func publishFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Link(tmp, path)
}

// clearStale removes the lock file only if it still holds stale. The file
// is renamed aside first; if what was moved is not the stale holder, another
// process won the takeover and its lock is linked back.
func (l *ProbeLock) clearStale(stale []byte) error {
	aside := fmt.Sprintf("%s.stale.%d", l.path, l.pid)
	if err := os.Rename(l.path, aside); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("move stale lock: %w", err)
	}
	defer os.Remove(aside)

	moved, err := os.ReadFile(aside)
	if err != nil {
		return fmt.Errorf("read stale lock: %w", err)
	}
	if bytes.Equal(moved, stale) {
		return nil
	}
	if err := os.Link(aside, l.path); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("restore lock: %w", err)
	}
	return nil
}

func defaultOwner() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return user + "@" + host
}

// processExists checks if a process with the given PID exists.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds. Signal 0 checks liveness.
	return process.Signal(syscall.Signal(0)) == nil
}
