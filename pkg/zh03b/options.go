// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import (
	"time"

	"github.com/rs/zerolog"
)

// Config holds the engine configuration
type Config struct {
	// Mode is the wire behavior configured at setup
	Mode Mode

	// UpdateInterval is the time between request/response cycle starts
	UpdateInterval time.Duration

	// WarmUp is how long the fan and laser run after wake before a read
	WarmUp time.Duration

	// ReadTimeout bounds the wait for a data reply
	ReadTimeout time.Duration

	// SettleDelay is the pause between the read outcome and the sleep command
	SettleDelay time.Duration

	// Stabilization is the window after setup during which all input is
	// discarded and no commands are sent
	Stabilization time.Duration

	// ModeChangeDelay is the blocking pause after the mode command at setup.
	// Runtime mode changes never block.
	ModeChangeDelay time.Duration

	// WakeOnSetup sends a wake command at setup so a sensor left dormant by
	// a previous session starts measuring
	WakeOnSetup bool

	// PowerPulse sends a sleep command right after the setup wake in
	// request/response mode, so the first cycle starts from a known state
	PowerPulse bool

	// MaxConcentration is the largest plausible value, inclusive
	MaxConcentration uint16

	// Reject256 drops request/response readings containing exactly 256
	Reject256 bool

	Clock          Clock
	Logger         zerolog.Logger
	OnWarning      func(err error)
	OnReading      func(r Reading)
	StuckThreshold int
	OnStuck        StuckObserver
}

// defaultConfig returns the default configuration
func defaultConfig() Config {
	return Config{
		Mode:             ModeStreaming,
		UpdateInterval:   DefaultUpdateInterval,
		WarmUp:           DefaultWarmUp,
		ReadTimeout:      DefaultReadTimeout,
		SettleDelay:      DefaultSettleDelay,
		Stabilization:    DefaultStabilization,
		ModeChangeDelay:  DefaultModeChangeDelay,
		WakeOnSetup:      true,
		MaxConcentration: DefaultMaxConcentration,
		Clock:            SystemClock{},
		Logger:           zerolog.Nop(),
	}
}

// Option is a functional option for configuring the Engine
type Option func(*Config)

// WithMode selects the wire behavior configured at setup.
//
// Example:
//
//	engine := zh03b.NewEngine(port, zh03b.WithMode(zh03b.ModeRequestResponse))
func WithMode(mode Mode) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithUpdateInterval sets the request/response cycle interval
func WithUpdateInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.UpdateInterval = interval
	}
}

// WithWarmUp sets the delay between wake and the read request
func WithWarmUp(d time.Duration) Option {
	return func(c *Config) {
		c.WarmUp = d
	}
}

// WithReadTimeout sets how long to wait for a data reply
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithSettleDelay sets the delay between the read outcome and sleep
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		c.SettleDelay = d
	}
}

// WithStabilization sets the power-up stabilization window. Zero disables it.
func WithStabilization(d time.Duration) Option {
	return func(c *Config) {
		c.Stabilization = d
	}
}

// WithModeChangeDelay sets the blocking pause after the setup mode command.
// Tests pass zero.
func WithModeChangeDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ModeChangeDelay = d
	}
}

// WithWakeOnSetup controls the wake command sent at setup
func WithWakeOnSetup(enabled bool) Option {
	return func(c *Config) {
		c.WakeOnSetup = enabled
	}
}

// WithPowerPulse enables the wake/sleep pulse at setup in request/response mode
func WithPowerPulse(enabled bool) Option {
	return func(c *Config) {
		c.PowerPulse = enabled
	}
}

// WithMaxConcentration sets the largest plausible value, inclusive
func WithMaxConcentration(limit uint16) Option {
	return func(c *Config) {
		c.MaxConcentration = limit
	}
}

// WithReject256 drops request/response readings containing exactly 256
func WithReject256(enabled bool) Option {
	return func(c *Config) {
		c.Reject256 = enabled
	}
}

// WithClock replaces the system clock
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the logger for engine events.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	engine := zh03b.NewEngine(port, zh03b.WithLogger(logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithWarningHandler registers a callback for recoverable anomalies:
// checksum failures, implausible readings, timeouts and misuse
func WithWarningHandler(fn func(err error)) Option {
	return func(c *Config) {
		c.OnWarning = fn
	}
}

// WithReadingHandler registers a callback receiving every published reading
func WithReadingHandler(fn func(r Reading)) Option {
	return func(c *Config) {
		c.OnReading = fn
	}
}

// WithStuckObserver registers fn to be notified when threshold identical
// readings arrive in a row
func WithStuckObserver(threshold int, fn StuckObserver) Option {
	return func(c *Config) {
		c.StuckThreshold = threshold
		c.OnStuck = fn
	}
}
