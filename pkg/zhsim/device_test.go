// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zhsim

import (
	"bytes"
	"context"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/Thermoquad/pmscope/pkg/link"
	"github.com/Thermoquad/pmscope/pkg/zh03b"
)

var sample = zh03b.Measurement{PM1_0: 12, PM2_5: 35, PM10: 48}

// readN reads exactly n bytes from the device
func readN(t *testing.T, d *Device, n int) []byte {
	t.Helper()
	buf := make([]byte, 0, n)
	chunk := make([]byte, n)
	for len(buf) < n {
		got, err := d.Read(chunk[:n-len(buf)])
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		buf = append(buf, chunk[:got]...)
	}
	return buf
}

// manualClock is a clock advanced by the test
type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// ============================================================
// Device Tests
// ============================================================

func TestDevice_StreamsWhenAwake(t *testing.T) {
	d := NewDevice(Constant(sample))

	if !d.Step() {
		t.Fatal("Step() emitted nothing in streaming mode")
	}
	frame := readN(t, d, zh03b.StreamFrameSize)
	if !bytes.Equal(frame, zh03b.EncodeStreamFrame(sample)) {
		t.Errorf("frame = % X", frame)
	}

	d.Write(zh03b.CmdSleep.Bytes())
	readN(t, d, zh03b.ReplyFrameSize) // ack
	if !d.Dormant() {
		t.Fatal("device not dormant after sleep command")
	}
	if d.Step() {
		t.Error("dormant device streamed a frame")
	}
}

func TestDevice_RequestResponse(t *testing.T) {
	d := NewDevice(Constant(sample))

	d.Write(zh03b.CmdSetRequestResponse.Bytes())
	ack := readN(t, d, zh03b.ReplyFrameSize)
	if ack[1] != 0x78 || ack[2] != 0x41 {
		t.Errorf("mode ack = % X", ack)
	}
	if d.Mode() != zh03b.ModeRequestResponse {
		t.Fatalf("Mode() = %v", d.Mode())
	}
	if d.Step() {
		t.Error("device streamed in request/response mode")
	}

	// Command split across writes
	read := zh03b.CmdReadData.Bytes()
	d.Write(read[:4])
	d.Write(read[4:])

	reply := readN(t, d, zh03b.ReplyFrameSize)
	m, err := zh03b.DecodeReplyFrame(reply)
	if err != nil {
		t.Fatalf("DecodeReplyFrame() error = %v", err)
	}
	if m != sample {
		t.Errorf("reply = %+v, want %+v", m, sample)
	}

	want := []zh03b.Command{zh03b.CmdSetRequestResponse, zh03b.CmdReadData}
	if got := d.Commands(); !slices.Equal(got, want) {
		t.Errorf("Commands() = %v, want %v", got, want)
	}
}

func TestDevice_IgnoresBadChecksum(t *testing.T) {
	d := NewDevice(Constant(sample))
	bad := zh03b.CmdSetRequestResponse.Bytes()
	bad[8]++

	d.Write(bad)
	if d.Mode() != zh03b.ModeStreaming || len(d.Commands()) != 0 {
		t.Error("device acted on a command with a bad checksum")
	}
}

func TestDevice_CloseUnblocksRead(t *testing.T) {
	d := NewDevice(Constant(sample))

	done := make(chan error, 1)
	go func() {
		_, err := d.Read(make([]byte, 8))
		done <- err
	}()

	d.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Read() after Close returned nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read() still blocked after Close")
	}
}

func TestRandomWalk_StaysPlausible(t *testing.T) {
	tests := []struct {
		name  string
		start zh03b.Measurement
		step  int
	}{
		{"near upper limit", zh03b.Measurement{PM1_0: 5, PM2_5: 10, PM10: 995}, 20},
		{"fine fraction above coarse", zh03b.Measurement{PM1_0: 600, PM2_5: 550, PM10: 524}, 30},
		{"all equal", zh03b.Measurement{PM1_0: 300, PM2_5: 300, PM10: 300}, 50},
		{"near zero", zh03b.Measurement{}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := RandomWalk(rand.New(rand.NewSource(7)), tt.start, tt.step)
			for i := 0; i < 10000; i++ {
				m := source()
				if m.PM10 > zh03b.DefaultMaxConcentration || m.PM1_0 > m.PM2_5 || m.PM2_5 > m.PM10 {
					t.Fatalf("implausible walk value %+v at step %d", m, i)
				}
			}
		})
	}
}

// ============================================================
// Engine Integration Tests
// ============================================================

// tickUntil ticks the engine until cond holds or the deadline passes
func tickUntil(t *testing.T, engine *zh03b.Engine, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		engine.Tick()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestIntegration_StreamingWithNoise(t *testing.T) {
	device := NewDevice(Constant(sample))
	device.SetNoise(rand.New(rand.NewSource(3)), 16)
	device.CorruptNext(2)

	transport := link.NewBuffered(device)
	transport.Start(context.Background())
	defer transport.Close()

	var readings []zh03b.Reading
	var warnings []error
	engine := zh03b.NewEngine(transport,
		zh03b.WithStabilization(0),
		zh03b.WithModeChangeDelay(0),
		zh03b.WithReadingHandler(func(r zh03b.Reading) { readings = append(readings, r) }),
		zh03b.WithWarningHandler(func(err error) { warnings = append(warnings, err) }),
	)
	engine.Setup()

	// Let the setup acknowledgments arrive before streaming starts
	tickUntil(t, engine, func() bool { return transport.Received() >= 2*zh03b.ReplyFrameSize })

	for i := 0; i < 5; i++ {
		device.Step()
	}
	tickUntil(t, engine, func() bool { return len(readings) == 3 && len(warnings) == 2 })

	for _, r := range readings {
		if r.Measurement != sample {
			t.Errorf("reading = %+v, want %+v", r.Measurement, sample)
		}
	}
	for _, w := range warnings {
		if zh03b.Classify(w) != zh03b.AnomalyChecksum {
			t.Errorf("warning = %v, want checksum", w)
		}
	}
}

func TestIntegration_RequestResponseCycle(t *testing.T) {
	device := NewDevice(Constant(sample))
	transport := link.NewBuffered(device)
	transport.Start(context.Background())
	defer transport.Close()

	clock := &manualClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	var readings []zh03b.Reading
	engine := zh03b.NewEngine(transport,
		zh03b.WithMode(zh03b.ModeRequestResponse),
		zh03b.WithClock(clock),
		zh03b.WithStabilization(0),
		zh03b.WithModeChangeDelay(0),
		zh03b.WithReadingHandler(func(r zh03b.Reading) { readings = append(readings, r) }),
	)
	engine.Setup()
	if device.Mode() != zh03b.ModeRequestResponse {
		t.Fatalf("device mode = %v after setup", device.Mode())
	}

	engine.Tick() // wake
	clock.Advance(zh03b.DefaultWarmUp)
	engine.Tick() // flush and read
	if engine.PowerState() != zh03b.PowerReadSent {
		t.Fatalf("state = %v, want READ_SENT", engine.PowerState())
	}

	tickUntil(t, engine, func() bool { return len(readings) == 1 })
	if readings[0].Measurement != sample {
		t.Errorf("reading = %+v, want %+v", readings[0].Measurement, sample)
	}

	clock.Advance(zh03b.DefaultSettleDelay)
	engine.Tick()
	if engine.PowerState() != zh03b.PowerIdle {
		t.Fatalf("state = %v, want IDLE", engine.PowerState())
	}
	if !device.Dormant() {
		t.Error("device not put to sleep at the end of the cycle")
	}
}

func TestIntegration_StreamingAfterCycleResumes(t *testing.T) {
	device := NewDevice(Constant(sample))
	transport := link.NewBuffered(device)
	transport.Start(context.Background())
	defer transport.Close()

	clock := &manualClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	var readings []zh03b.Reading
	engine := zh03b.NewEngine(transport,
		zh03b.WithMode(zh03b.ModeRequestResponse),
		zh03b.WithClock(clock),
		zh03b.WithStabilization(0),
		zh03b.WithModeChangeDelay(0),
		zh03b.WithReadingHandler(func(r zh03b.Reading) { readings = append(readings, r) }),
	)
	engine.Setup()

	engine.Tick()
	clock.Advance(zh03b.DefaultWarmUp)
	engine.Tick()
	tickUntil(t, engine, func() bool { return len(readings) == 1 })
	clock.Advance(zh03b.DefaultSettleDelay)
	engine.Tick()
	if !device.Dormant() {
		t.Fatal("device not asleep after the cycle")
	}

	engine.SetMode(zh03b.ModeStreaming)
	if device.Mode() != zh03b.ModeStreaming || device.Dormant() {
		t.Fatalf("device mode = %v dormant = %v after switching to streaming", device.Mode(), device.Dormant())
	}

	emitted := 0
	for i := 0; i < 5; i++ {
		if device.Step() {
			emitted++
		}
	}
	if emitted != 5 {
		t.Fatalf("device emitted %d frames, want 5", emitted)
	}
	tickUntil(t, engine, func() bool { return len(readings) == 6 })
	if readings[5].Mode != zh03b.ModeStreaming {
		t.Errorf("last reading mode = %v, want streaming", readings[5].Mode)
	}
}

func TestIntegration_SilentSensorTimesOut(t *testing.T) {
	device := NewDevice(Constant(sample))
	device.SetSilent(true)
	transport := link.NewBuffered(device)
	transport.Start(context.Background())
	defer transport.Close()

	clock := &manualClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	var warnings []error
	engine := zh03b.NewEngine(transport,
		zh03b.WithMode(zh03b.ModeRequestResponse),
		zh03b.WithClock(clock),
		zh03b.WithStabilization(0),
		zh03b.WithModeChangeDelay(0),
		zh03b.WithWarningHandler(func(err error) { warnings = append(warnings, err) }),
	)
	engine.Setup()

	engine.Tick()
	clock.Advance(zh03b.DefaultWarmUp)
	engine.Tick()
	clock.Advance(zh03b.DefaultReadTimeout)
	engine.Tick()
	clock.Advance(zh03b.DefaultSettleDelay)
	engine.Tick()

	if engine.PowerState() != zh03b.PowerIdle {
		t.Errorf("state = %v, want IDLE", engine.PowerState())
	}
	if len(warnings) != 1 || zh03b.Classify(warnings[0]) != zh03b.AnomalyTimeout {
		t.Errorf("warnings = %v, want one timeout", warnings)
	}
}
