// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package zhsim emulates a ZH03B sensor on the far side of a serial link.
//
// A Device is an io.ReadWriteCloser: the host writes command frames and
// reads the bytes the sensor would send. It is used by tests and by the
// CLI's --simulate connection.
package zhsim

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/Thermoquad/pmscope/pkg/zh03b"
)

// Source produces the measurement reported by the next frame
type Source func() zh03b.Measurement

// Constant returns a source that always reports m
func Constant(m zh03b.Measurement) Source {
	return func() zh03b.Measurement { return m }
}

// RandomWalk returns a source that drifts from start by at most step per
// frame, staying within 0..1000
func RandomWalk(rng *rand.Rand, start zh03b.Measurement, step int) Source {
	current := start
	walk := func(v uint16) uint16 {
		n := int(v) + rng.Intn(2*step+1) - step
		if n < 0 {
			n = 0
		}
		if n > zh03b.DefaultMaxConcentration {
			n = zh03b.DefaultMaxConcentration
		}
		return uint16(n)
	}
	return func() zh03b.Measurement {
		current.PM1_0 = walk(current.PM1_0)
		current.PM2_5 = walk(current.PM2_5)
		current.PM10 = walk(current.PM10)
		// PM2.5 first, so lowering it cannot leave PM1.0 above it
		if current.PM2_5 > current.PM10 {
			current.PM2_5 = current.PM10
		}
		if current.PM1_0 > current.PM2_5 {
			current.PM1_0 = current.PM2_5
		}
		return current
	}
}

// Device is an emulated sensor. It powers up in streaming mode and awake,
// like the real part.
type Device struct {
	mu   sync.Mutex
	cond *sync.Cond

	mode    zh03b.Mode
	dormant bool
	source  Source

	pending  []byte // host-written bytes not yet forming a command
	output   []byte // sensor bytes not yet read by the host
	commands []zh03b.Command
	closed   bool

	rng          *rand.Rand
	noiseMax     int
	corruptCount int
	silent       bool
}

// NewDevice creates a device reporting measurements from source
func NewDevice(source Source) *Device {
	d := &Device{
		mode:   zh03b.ModeStreaming,
		source: source,
		rng:    rand.New(rand.NewSource(1)),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// SetNoise inserts up to maxBytes random bytes before each emitted frame.
// The noise never contains a frame start byte, so a correct synchronizer
// recovers every frame.
func (d *Device) SetNoise(rng *rand.Rand, maxBytes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rng = rng
	d.noiseMax = maxBytes
}

// CorruptNext flips one payload bit in each of the next n frames
func (d *Device) CorruptNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corruptCount = n
}

// SetSilent makes the device ignore read requests, as a disconnected or
// broken sensor would
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

// Mode returns the device's current wire mode
func (d *Device) Mode() zh03b.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Dormant reports whether the fan and laser are off
func (d *Device) Dormant() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dormant
}

// Commands returns every command received so far
func (d *Device) Commands() []zh03b.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]zh03b.Command(nil), d.commands...)
}

// Step emits one streaming frame if the device is streaming and awake.
// It reports whether a frame was emitted.
func (d *Device) Step() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.dormant || d.mode != zh03b.ModeStreaming {
		return false
	}
	d.emit(zh03b.EncodeStreamFrame(d.source()))
	return true
}

// Run emits a streaming frame every period until ctx is done. The real
// sensor streams about once per second.
func (d *Device) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Step()
		}
	}
}

// Read blocks until the device has output or is closed
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.output) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.output) == 0 {
		return 0, io.EOF
	}

	n := copy(p, d.output)
	d.output = d.output[n:]
	return n, nil
}

// Write accepts command bytes from the host. Partial frames are held until
// complete; bytes that cannot start a command are ignored.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, io.ErrClosedPipe
	}

	d.pending = append(d.pending, p...)
	for {
		start := bytes.IndexByte(d.pending, zh03b.ReplyStartByte)
		if start < 0 {
			d.pending = d.pending[:0]
			break
		}
		d.pending = d.pending[start:]
		if len(d.pending) < zh03b.ReplyFrameSize {
			break
		}

		frame := append([]byte(nil), d.pending[:zh03b.ReplyFrameSize]...)
		d.pending = d.pending[zh03b.ReplyFrameSize:]
		d.handle(frame)
	}
	return len(p), nil
}

// Close unblocks pending reads
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
	return nil
}

// handle executes one command frame. Frames with a bad checksum are ignored,
// as the sensor does.
func (d *Device) handle(frame []byte) {
	if zh03b.ReplyChecksum(frame) != frame[8] {
		return
	}

	for _, cmd := range []zh03b.Command{
		zh03b.CmdReadData, zh03b.CmdSetRequestResponse, zh03b.CmdSetStreaming, zh03b.CmdSleep, zh03b.CmdWake,
	} {
		if !bytes.Equal(frame, cmd.Bytes()) {
			continue
		}
		d.commands = append(d.commands, cmd)

		switch cmd {
		case zh03b.CmdReadData:
			if d.mode == zh03b.ModeRequestResponse && !d.dormant && !d.silent {
				d.emit(zh03b.EncodeReplyFrame(d.source()))
			}
		case zh03b.CmdSetRequestResponse:
			d.mode = zh03b.ModeRequestResponse
			d.emit(zh03b.EncodeAck(frame[2], frame[3]))
		case zh03b.CmdSetStreaming:
			d.mode = zh03b.ModeStreaming
			d.emit(zh03b.EncodeAck(frame[2], frame[3]))
		case zh03b.CmdSleep:
			d.dormant = true
			d.emit(zh03b.EncodeAck(frame[2], 0x01))
		case zh03b.CmdWake:
			d.dormant = false
			d.emit(zh03b.EncodeAck(frame[2], 0x01))
		}
		return
	}
}

// emit queues a frame for the host, preceded by optional noise
func (d *Device) emit(frame []byte) {
	if d.noiseMax > 0 {
		n := d.rng.Intn(d.noiseMax + 1)
		for i := 0; i < n; i++ {
			d.output = append(d.output, noiseByte(d.rng))
		}
	}

	isData := frame[0] == zh03b.StreamHeader1 || frame[1] == zh03b.ReplyDataEcho
	if d.corruptCount > 0 && isData {
		d.corruptCount--
		pos := 2 + d.rng.Intn(len(frame)-3)
		frame[pos] ^= 1 << uint(d.rng.Intn(8))
	}

	d.output = append(d.output, frame...)
	d.cond.Broadcast()
}

// noiseByte returns a random byte that cannot start a frame in either mode
func noiseByte(rng *rand.Rand) byte {
	for {
		b := byte(rng.Intn(256))
		if b != zh03b.StreamHeader1 && b != zh03b.ReplyStartByte {
			return b
		}
	}
}
