// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Engine drives one sensor over a transport.
//
// The host calls Setup once and then Tick at a regular cadence (tens of
// milliseconds). The engine never blocks inside Tick, starts no goroutines
// and holds no locks: no method may be called concurrently with another on
// the same Engine.
type Engine struct {
	cfg       Config
	transport Transport
	clock     Clock
	logger    zerolog.Logger

	tx      *Transmitter
	decoder *Decoder
	stats   *Statistics
	variant variant
	cycle   powerCycle
	sinks   [3]Sink

	setUp       bool
	skippedSeen uint64

	pending     bool
	requestedAt time.Time

	stabilizing    bool
	stabilizeUntil time.Time

	lastReading Reading
	hasReading  bool
}

// NewEngine creates an engine speaking to the sensor over transport
func NewEngine(transport Transport, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}

	e := &Engine{
		cfg:       cfg,
		transport: transport,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With().Str("component", "zh03b").Logger(),
		stats:     NewStatisticsWithClock(cfg.Clock),
		variant:   newVariant(cfg.Mode),
	}
	e.tx = NewTransmitter(transport, e.logger, e.stats)
	e.decoder = NewDecoder(cfg.MaxConcentration, cfg.Reject256)
	if cfg.StuckThreshold >= 2 {
		e.decoder.SetStuckObserver(cfg.StuckThreshold, e.onStuck)
	}
	e.cycle = newPowerCycle(cfg, e.clock.Now())

	return e
}

// Setup prepares the sensor: it clears all parser state, drains stale
// input, arms the stabilization window and sends the configured mode
// command. This is the only place the engine blocks, for the mode-change
// delay, before periodic ticking begins.
func (e *Engine) Setup() {
	now := e.clock.Now()
	e.logger.Info().Msg("setting up ZH03B")

	e.variant.reset()
	e.skippedSeen = e.variant.skipped()
	e.decoder.Reset()
	e.drainInput()
	e.pending = false
	e.cycle.reset(now)

	e.stabilizing = e.cfg.Stabilization > 0
	e.stabilizeUntil = now.Add(e.cfg.Stabilization)

	e.send(ModeCommand(e.cfg.Mode))
	if e.cfg.ModeChangeDelay > 0 {
		time.Sleep(e.cfg.ModeChangeDelay)
	}

	if e.cfg.WakeOnSetup {
		e.send(CmdWake)
	}
	if e.cfg.Mode == ModeRequestResponse && e.cfg.PowerPulse {
		if !e.cfg.WakeOnSetup {
			e.send(CmdWake)
		}
		e.send(CmdSleep)
	}

	e.setUp = true
	e.dumpConfig()
}

// dumpConfig logs the effective configuration
func (e *Engine) dumpConfig() {
	event := e.logger.Info().
		Stringer("mode", e.cfg.Mode).
		Int("baud", BaudRate).
		Uint16("max_concentration", e.cfg.MaxConcentration).
		Bool("reject_256", e.cfg.Reject256).
		Dur("stabilization", e.cfg.Stabilization)

	if e.cfg.Mode == ModeRequestResponse {
		event = event.
			Dur("update_interval", e.cfg.UpdateInterval).
			Dur("warm_up", e.cfg.WarmUp).
			Dur("read_timeout", e.cfg.ReadTimeout).
			Dur("settle", e.cfg.SettleDelay)
	}

	event.
		Bool("pm1_0_sink", e.sinks[FieldPM1_0] != nil).
		Bool("pm2_5_sink", e.sinks[FieldPM2_5] != nil).
		Bool("pm10_sink", e.sinks[FieldPM10] != nil).
		Msg("ZH03B particulate matter sensor")
}

// Tick advances the engine by one scheduling step: the stabilization gate,
// then the power cycle, then the input drain, then the pending-request
// timeout.
func (e *Engine) Tick() {
	now := e.clock.Now()

	if e.stabilizing {
		if now.Before(e.stabilizeUntil) {
			e.drainInput()
			return
		}
		e.stabilizing = false
		e.logger.Info().Msg("stabilization window elapsed")
	}

	if e.cfg.Mode == ModeRequestResponse {
		e.advanceCycle(now)
	}

	e.drain(now)
	e.checkTimeout(now)
}

// advanceCycle performs the side effect of a power cycle transition
func (e *Engine) advanceCycle(now time.Time) {
	switch e.cycle.step(now) {
	case actionWake:
		e.logger.Debug().Msg("waking sensor for measurement")
		e.send(CmdWake)

	case actionRead:
		e.drainInput()
		e.variant.reset()
		e.sendRead(now)

	case actionSleep:
		e.send(CmdSleep)
		e.stats.Cycles++
		e.logger.Debug().Dur("next_in", e.cfg.UpdateInterval).Msg("sensor dormant")
	}
}

// drain feeds every available byte through the synchronizer
func (e *Engine) drain(now time.Time) {
	for e.transport.Available() > 0 {
		b, err := e.transport.ReadByte()
		if err != nil {
			e.warn(errors.Wrap(err, "failed to read from sensor"))
			break
		}

		frame, complete := e.variant.feed(b)
		if complete {
			e.handleFrame(frame, now)
		}
	}

	skipped := e.variant.skipped()
	e.stats.SkippedBytes += skipped - e.skippedSeen
	e.skippedSeen = skipped
}

// handleFrame validates, decodes and publishes one completed frame.
// A rejected frame is dropped whole.
func (e *Engine) handleFrame(frame []byte, now time.Time) {
	mode := e.variant.mode()

	err := e.variant.validate(frame)
	var m Measurement
	if err == nil {
		m, err = e.decoder.Decode(mode, frame)
	}
	e.stats.RecordFrame(err, now)
	if err != nil {
		e.warn(err)
		return
	}
	if e.decoder.Repeats() > 1 {
		e.stats.RepeatedReadings++
	}

	e.publish(Reading{Measurement: m, Mode: mode, Timestamp: now})

	if mode == ModeRequestResponse {
		e.pending = false
		if e.cycle.frameReceived(now) {
			e.logger.Debug().Msg("reply received, settling before sleep")
		}
	}
}

// checkTimeout abandons a read request that received no valid reply
func (e *Engine) checkTimeout(now time.Time) {
	if !e.pending {
		return
	}

	elapsed := now.Sub(e.requestedAt)
	if elapsed < e.cfg.ReadTimeout {
		return
	}

	e.pending = false
	e.variant.reset()
	e.stats.Timeouts++
	e.warn(&TimeoutError{Elapsed: elapsed, Timeout: e.cfg.ReadTimeout})
	e.cycle.timedOut(now)
}

func (e *Engine) publish(r Reading) {
	e.lastReading = r
	e.hasReading = true

	e.logger.Debug().
		Stringer("mode", r.Mode).
		Uint16("pm1_0", r.PM1_0).
		Uint16("pm2_5", r.PM2_5).
		Uint16("pm10", r.PM10).
		Msg("reading")

	for _, field := range []Field{FieldPM1_0, FieldPM2_5, FieldPM10} {
		if sink := e.sinks[field]; sink != nil {
			sink.Publish(r.Value(field))
		}
	}
	if e.cfg.OnReading != nil {
		e.cfg.OnReading(r)
	}
}

// RequestNow sends a read request outside the power cycle. It is valid only
// in request/response mode and does nothing while a request is pending.
func (e *Engine) RequestNow() {
	if e.cfg.Mode != ModeRequestResponse {
		e.warn(ErrRequestInStreamingMode)
		return
	}
	if e.pending {
		e.logger.Debug().Msg("still waiting for reply, skipping request")
		return
	}
	if e.stabilizing {
		e.logger.Debug().Msg("sensor stabilizing, skipping request")
		return
	}

	e.variant.reset()
	e.sendRead(e.clock.Now())
}

// sendRead sends the read command and marks the request pending. The
// request stays pending even if the write failed so the timeout recovers
// the cycle.
func (e *Engine) sendRead(now time.Time) {
	e.send(CmdReadData)
	e.pending = true
	e.requestedAt = now
}

// SetMode switches the sensor's wire behavior. After Setup the mode command
// is sent immediately without the setup pause, followed by a wake when
// switching to streaming with wake-on-setup enabled: a request/response
// cycle leaves the sensor dormant most of the time. Parser state and any
// pending request are discarded.
func (e *Engine) SetMode(mode Mode) {
	now := e.clock.Now()

	e.cfg.Mode = mode
	e.variant = newVariant(mode)
	e.skippedSeen = 0
	e.decoder.Reset()
	e.pending = false
	e.cycle.reset(now)

	if e.setUp {
		e.send(ModeCommand(mode))
		if mode == ModeStreaming && e.cfg.WakeOnSetup {
			e.send(CmdWake)
		}
	}
	e.logger.Info().Stringer("mode", mode).Msg("mode changed")
}

// SetUpdateInterval changes the request/response cycle interval. It takes
// effect from the next cycle start.
func (e *Engine) SetUpdateInterval(interval time.Duration) {
	e.cfg.UpdateInterval = interval
	e.cycle.interval = interval
}

// SetPM1_0Sink registers the PM1.0 sink. nil removes it.
func (e *Engine) SetPM1_0Sink(sink Sink) {
	e.sinks[FieldPM1_0] = sink
}

// SetPM2_5Sink registers the PM2.5 sink. nil removes it.
func (e *Engine) SetPM2_5Sink(sink Sink) {
	e.sinks[FieldPM2_5] = sink
}

// SetPM10Sink registers the PM10 sink. nil removes it.
func (e *Engine) SetPM10Sink(sink Sink) {
	e.sinks[FieldPM10] = sink
}

// Mode returns the active mode
func (e *Engine) Mode() Mode {
	return e.cfg.Mode
}

// PowerState returns the request/response power sequencing state
func (e *Engine) PowerState() PowerState {
	return e.cycle.state
}

// Pending reports whether a read request is awaiting its reply
func (e *Engine) Pending() bool {
	return e.pending
}

// Stabilizing reports whether the post-setup stabilization window is active
func (e *Engine) Stabilizing() bool {
	return e.stabilizing
}

// Statistics returns the live statistics
func (e *Engine) Statistics() *Statistics {
	return e.stats
}

// LastReading returns the most recently published reading
func (e *Engine) LastReading() (Reading, bool) {
	return e.lastReading, e.hasReading
}

// send transmits a command, surfacing a failed write as a warning
func (e *Engine) send(cmd Command) {
	if err := e.tx.Send(cmd); err != nil {
		e.warn(err)
	}
}

// drainInput discards everything the transport has buffered
func (e *Engine) drainInput() {
	for e.transport.Available() > 0 {
		if _, err := e.transport.ReadByte(); err != nil {
			break
		}
		e.stats.DiscardedBytes++
	}
	if err := e.transport.Flush(); err != nil {
		e.warn(errors.Wrap(err, "failed to flush sensor input"))
	}
}

func (e *Engine) warn(err error) {
	e.stats.Warnings++
	e.logger.Warn().Err(err).Stringer("anomaly", Classify(err)).Msg("sensor warning")
	if e.cfg.OnWarning != nil {
		e.cfg.OnWarning(err)
	}
}

func (e *Engine) onStuck(m Measurement, repeats int) {
	e.logger.Warn().
		Uint16("pm1_0", m.PM1_0).
		Uint16("pm2_5", m.PM2_5).
		Uint16("pm10", m.PM10).
		Int("repeats", repeats).
		Msg("sensor reports the same reading repeatedly")
	if e.cfg.OnStuck != nil {
		e.cfg.OnStuck(m, repeats)
	}
}
