// Package retry executes a single hardware step with bounded retries,
// recovery between attempts, and a confirmation poll.
package retry

import (
	"fmt"
	"time"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
)

// Recovery names the action taken between failed attempts.
type Recovery string

const (
	RecoveryPowerCycle Recovery = "power_cycle"
	RecoveryNone       Recovery = "none"
)

// Default policy values, matching the lab's boot-script settings.
const (
	DefaultMaxAttempts         = 3
	DefaultInterAttemptDelay   = 60 * time.Second
	DefaultConfirmationTimeout = 5 * time.Minute
	DefaultPollInterval        = 30 * time.Second
)

// Policy controls one Execute call. It is passed by value; nothing in this
// package holds configuration between calls.
type Policy struct {
	MaxAttempts             int           `yaml:"max_attempts" json:"max_attempts"`
	InterAttemptDelay       time.Duration `yaml:"inter_attempt_delay" json:"inter_attempt_delay"`
	Recovery                Recovery      `yaml:"recovery" json:"recovery"`
	ConfirmationTimeout     time.Duration `yaml:"confirmation_timeout" json:"confirmation_timeout"`
	PollInterval            time.Duration `yaml:"poll_interval" json:"poll_interval"`
	TreatPollTimeoutAsFatal bool          `yaml:"treat_poll_timeout_as_fatal" json:"treat_poll_timeout_as_fatal"`
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:             DefaultMaxAttempts,
		InterAttemptDelay:       DefaultInterAttemptDelay,
		Recovery:                RecoveryPowerCycle,
		ConfirmationTimeout:     DefaultConfirmationTimeout,
		PollInterval:            DefaultPollInterval,
		TreatPollTimeoutAsFatal: true,
	}
}

// Validate checks the policy for values Execute cannot honor.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return hiloerrors.ConfigInvalid("retry.max_attempts", fmt.Sprintf("must be at least 1, got %d", p.MaxAttempts))
	}
	if p.InterAttemptDelay < 0 {
		return hiloerrors.ConfigInvalid("retry.inter_attempt_delay", "must not be negative")
	}
	if p.ConfirmationTimeout <= 0 {
		return hiloerrors.ConfigInvalid("retry.confirmation_timeout", "must be positive")
	}
	if p.PollInterval <= 0 {
		return hiloerrors.ConfigInvalid("retry.poll_interval", "must be positive")
	}
	switch p.Recovery {
	case RecoveryPowerCycle, RecoveryNone:
	default:
		return hiloerrors.ConfigInvalid("retry.recovery", fmt.Sprintf("unknown recovery %q (want power_cycle or none)", p.Recovery))
	}
	return nil
}
