package hardware

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Common boot postcodes.
const (
	PostcodeReset uint64 = 0x0
	PostcodeMRC   uint64 = 0xbf000000
	PostcodeEFI   uint64 = 0xef0000ff
)

// DefaultSignalPath is the register holding the boot postcode.
const DefaultSignalPath = "postcode"

// ErrBootFailed is returned by the simulator when a boot script fails.
var ErrBootFailed = errors.New("boot script failed")

// SimConfig tunes the simulated probe.
type SimConfig struct {
	Seed int64 `yaml:"seed" json:"seed"`
	// BootFailureRate is the probability in [0,1] that a boot action fails.
	BootFailureRate float64 `yaml:"boot_failure_rate" json:"boot_failure_rate"`
	// StallRate is the probability that a postcode read stalls until the
	// target receives a resume.
	StallRate float64 `yaml:"stall_rate" json:"stall_rate"`
	// Postcodes is the progression reported after a successful boot.
	Postcodes  []uint64      `yaml:"postcodes" json:"postcodes"`
	SignalPath string        `yaml:"signal_path" json:"signal_path"`
	Latency    time.Duration `yaml:"latency" json:"latency"`
}

// DefaultSimConfig returns a well-behaved simulator configuration.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Seed:       1,
		Postcodes:  []uint64{0x10, PostcodeMRC, 0xe0000000, PostcodeEFI},
		SignalPath: DefaultSignalPath,
	}
}

// SimStats counts what the simulator has been asked to do.
type SimStats struct {
	Boots        int
	BootFailures int
	Resumes      int
	Resets       int
	Writes       int
	PowerCycles  int
	Reads        int
}

// Sim is an in-process probe with seeded flakiness and a postcode
// progression. It is deterministic for a given seed and call sequence.
type Sim struct {
	cfg        SimConfig
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	registers map[string]uint64
	booting   bool
	pos       int
	stalled   bool
	stats     SimStats
}

// NewSim creates a simulator. A nil logger uses slog.Default().
func NewSim(cfg SimConfig, logger *slog.Logger) *Sim {
	if cfg.SignalPath == "" {
		cfg.SignalPath = DefaultSignalPath
	}
	if len(cfg.Postcodes) == 0 {
		cfg.Postcodes = DefaultSimConfig().Postcodes
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sim{
		cfg:        cfg,
		dispatcher: NewDispatcher(),
		logger:     logger,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		registers:  make(map[string]uint64),
	}
	s.dispatcher.Register(ActionWrite, s.write)
	s.dispatcher.Register(ActionBoot, s.boot)
	s.dispatcher.Register(ActionResume, s.resume)
	s.dispatcher.Register(ActionReset, s.reset)
	return s
}

// Perform implements Target.
func (s *Sim) Perform(ctx context.Context, a Action) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.dispatcher.Dispatch(ctx, a)
}

// ReadSignal implements Target. Reading the signal path advances the
// postcode progression by one step unless the target is stalled.
func (s *Sim) ReadSignal(ctx context.Context, path string) (uint64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Reads++
	if path != s.cfg.SignalPath || !s.booting || s.stalled {
		return s.registers[path], nil
	}
	if s.cfg.StallRate > 0 && s.rng.Float64() < s.cfg.StallRate {
		s.stalled = true
		return s.registers[path], nil
	}
	if s.pos < len(s.cfg.Postcodes)-1 {
		s.pos++
		s.registers[path] = s.cfg.Postcodes[s.pos]
	}
	return s.registers[path], nil
}

// Recover implements Target.
func (s *Sim) Recover(ctx context.Context) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.PowerCycles++
	s.registers = make(map[string]uint64)
	s.booting = false
	s.stalled = false
	s.pos = 0
	s.logger.Debug("sim power cycle", "count", s.stats.PowerCycles)
	return nil
}

// Stats returns a copy of the call counters.
func (s *Sim) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Register returns the current value of a register.
func (s *Sim) Register(path string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers[path]
}

func (s *Sim) write(_ context.Context, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Writes++
	s.registers[a.Path] = a.Value
	return nil
}

func (s *Sim) boot(_ context.Context, _ Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Boots++
	if s.cfg.BootFailureRate > 0 && s.rng.Float64() < s.cfg.BootFailureRate {
		s.stats.BootFailures++
		return ErrBootFailed
	}
	s.booting = true
	s.stalled = false
	s.pos = 0
	s.registers[s.cfg.SignalPath] = s.cfg.Postcodes[0]
	return nil
}

func (s *Sim) resume(_ context.Context, _ Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Resumes++
	s.stalled = false
	return nil
}

func (s *Sim) reset(_ context.Context, _ Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Resets++
	s.booting = false
	s.stalled = false
	s.pos = 0
	s.registers[s.cfg.SignalPath] = PostcodeReset
	return nil
}

func (s *Sim) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.Latency):
		return nil
	}
}
