package transfer

import (
	"fmt"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// ProgressFunc receives (bytes_done, bytes_total) after every completed op.
type ProgressFunc func(done, total int)

// AbortFunc is polled between ops; returning true stops the transfer.
type AbortFunc func() bool

// Config controls the engine.
type Config struct {
	Attempts int  // tries per op before giving up (default: 3)
	Verify   bool // read back programs and erases (default: true)

	Progress ProgressFunc
	Abort    AbortFunc
	Logger   cart.Logger
}

// DefaultConfig returns a Config with the standard retry bound.
func DefaultConfig() *Config {
	return &Config{
		Attempts: 3,
		Verify:   true,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Attempts < 1 {
		return fmt.Errorf("transfer: attempts must be at least 1, got %d", c.Attempts)
	}
	return nil
}

// Option is a functional option for configuring the Engine.
type Option func(*Config)

// WithAttempts sets the number of tries per op.
func WithAttempts(n int) Option {
	return func(c *Config) {
		c.Attempts = n
	}
}

// WithVerify enables or disables read-back verification.
func WithVerify(verify bool) Option {
	return func(c *Config) {
		c.Verify = verify
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}

// WithAbort sets the abort poll.
func WithAbort(fn AbortFunc) Option {
	return func(c *Config) {
		c.Abort = fn
	}
}

// WithLogger sets a logger for retries and terminal status.
func WithLogger(logger cart.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
