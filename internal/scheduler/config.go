package scheduler

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidConfig marks every configuration validation failure.
var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

// minimumTick replaces a MillisecondWait of zero so the loop never spins.
const minimumTick = 100 * time.Microsecond

// SchedulerConfig defines configuration for the dispatch loop and notification delivery
type SchedulerConfig struct {
	// Upper bound on concurrently executing jobs
	MaximumThreads int `toml:"maximum_threads"`

	// Sleep between dispatch iterations, in milliseconds. Zero means the minimum tick.
	MillisecondWait int `toml:"millisecond_wait"`

	// Notification queue size
	NotificationBufferSize int `toml:"notification_buffer_size"`

	// Timeout for queueing a notification before it is dropped
	NotificationSendTimeout time.Duration `toml:"notification_send_timeout"`
}

// DefaultSchedulerConfig returns the scheduler configuration defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaximumThreads:          5,
		MillisecondWait:         5,
		NotificationBufferSize:  1024,
		NotificationSendTimeout: 1 * time.Second,
	}
}

// Validate checks the configuration and returns an error if it is invalid
func (c SchedulerConfig) Validate() error {
	return validateConfig(c)
}

// validateConfig validates scheduler configuration and returns error if invalid
func validateConfig(config SchedulerConfig) error {
	if err := validateMaximumThreads(config.MaximumThreads); err != nil {
		return err
	}

	if err := validateMillisecondWait(config.MillisecondWait); err != nil {
		return err
	}

	if config.NotificationBufferSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "NotificationBufferSize must be positive, got %d", config.NotificationBufferSize)
	}

	if config.NotificationSendTimeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "NotificationSendTimeout must be positive, got %v", config.NotificationSendTimeout)
	}

	return nil
}

func validateMaximumThreads(n int) error {
	if n < 1 {
		return errors.Wrapf(ErrInvalidConfig, "MaximumThreads must be at least 1, got %d", n)
	}
	return nil
}

func validateMillisecondWait(ms int) error {
	if ms < 0 {
		return errors.Wrapf(ErrInvalidConfig, "MillisecondWait must not be negative, got %d", ms)
	}
	return nil
}

// tickInterval converts a MillisecondWait value into the loop sleep.
func tickInterval(ms int) time.Duration {
	if ms == 0 {
		return minimumTick
	}
	return time.Duration(ms) * time.Millisecond
}
