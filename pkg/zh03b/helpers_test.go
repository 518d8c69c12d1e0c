// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// ============================================================
// Frame Builders
// ============================================================

// buildStreamFrame creates a valid 24-byte streaming frame
func buildStreamFrame(pm1, pm25, pm10 uint16) []byte {
	return EncodeStreamFrame(Measurement{PM1_0: pm1, PM2_5: pm25, PM10: pm10})
}

// buildReplyFrame creates a valid 9-byte data reply
func buildReplyFrame(pm1, pm25, pm10 uint16) []byte {
	return EncodeReplyFrame(Measurement{PM1_0: pm1, PM2_5: pm25, PM10: pm10})
}

// ============================================================
// Fake Collaborators
// ============================================================

// fakeClock is a manually advanced clock
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// fakeTransport is an in-memory transport recording every write
type fakeTransport struct {
	input   []byte
	writes  [][]byte
	flushes int
	readErr error
}

func (f *fakeTransport) Available() int {
	return len(f.input)
}

func (f *fakeTransport) ReadByte() (byte, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.input) == 0 {
		return 0, errors.New("no data")
	}
	b := f.input[0]
	f.input = f.input[1:]
	return b, nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) Flush() error {
	f.flushes++
	f.input = nil
	return nil
}

// Inject queues bytes as if received from the sensor
func (f *fakeTransport) Inject(data ...[]byte) {
	for _, d := range data {
		f.input = append(f.input, d...)
	}
}

// Commands decodes the recorded writes back into commands
func (f *fakeTransport) Commands(t *testing.T) []Command {
	t.Helper()

	var cmds []Command
	for _, w := range f.writes {
		found := false
		for _, c := range []Command{CmdReadData, CmdSetRequestResponse, CmdSetStreaming, CmdSleep, CmdWake} {
			if bytes.Equal(w, c.Bytes()) {
				cmds = append(cmds, c)
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("unrecognized write % X", w)
		}
	}
	return cmds
}

// ResetWrites forgets recorded writes
func (f *fakeTransport) ResetWrites() {
	f.writes = nil
}

// recorder collects engine output
type recorder struct {
	readings []Reading
	warnings []error
	pm1      []uint16
	pm25     []uint16
	pm10     []uint16
}

// newTestEngine creates an engine with no stabilization and no blocking
// pauses, wired to a recorder
func newTestEngine(mode Mode, opts ...Option) (*Engine, *fakeTransport, *fakeClock, *recorder) {
	transport := &fakeTransport{}
	clock := newFakeClock()
	rec := &recorder{}

	base := []Option{
		WithMode(mode),
		WithClock(clock),
		WithStabilization(0),
		WithModeChangeDelay(0),
		WithWarningHandler(func(err error) { rec.warnings = append(rec.warnings, err) }),
		WithReadingHandler(func(r Reading) { rec.readings = append(rec.readings, r) }),
	}
	engine := NewEngine(transport, append(base, opts...)...)
	engine.SetPM1_0Sink(SinkFunc(func(v uint16) { rec.pm1 = append(rec.pm1, v) }))
	engine.SetPM2_5Sink(SinkFunc(func(v uint16) { rec.pm25 = append(rec.pm25, v) }))
	engine.SetPM10Sink(SinkFunc(func(v uint16) { rec.pm10 = append(rec.pm10, v) }))

	return engine, transport, clock, rec
}
