// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link adapts blocking byte connections (serial ports, WebSocket
// bridges) into the non-blocking transport the sensor engine polls.
package link

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// DefaultQueueSize bounds the receive queue. At 9600 baud this is several
// seconds of sensor output.
const DefaultQueueSize = 4096

var (
	// ErrEmpty is returned by ReadByte when no byte is buffered
	ErrEmpty = errors.New("no data available")

	// ErrClosed is returned once the connection is closed or failed and
	// the queue has been drained
	ErrClosed = errors.New("link closed")
)

// InputResetter is implemented by connections that can discard data held
// in the driver, such as go.bug.st/serial ports
type InputResetter interface {
	ResetInputBuffer() error
}

// Buffered reads a connection on a background pump and exposes the received
// bytes through a bounded queue. Available, ReadByte and Flush never block.
type Buffered struct {
	conn      io.ReadWriteCloser
	queueSize int

	mu       sync.Mutex
	queue    []byte
	err      error
	closed   bool
	received uint64
	dropped  uint64
	stale    uint64
	gen      uint64 // incremented by Flush

	closeOnce sync.Once
	done      chan struct{}
}

// NewBuffered wraps conn. The pump does not run until Start or Run is called.
func NewBuffered(conn io.ReadWriteCloser) *Buffered {
	return &Buffered{
		conn:      conn,
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
}

// SetQueueSize changes the receive queue bound. When the queue is full the
// oldest bytes are dropped.
func (b *Buffered) SetQueueSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.queueSize = n
	}
}

// Start runs the pump in a new goroutine
func (b *Buffered) Start(ctx context.Context) {
	go func() {
		_ = b.Run(ctx)
	}()
}

// Run pumps the connection until it fails, is closed, or ctx is cancelled.
// Cancellation closes the connection. It returns nil on a requested shutdown
// and the wrapped read error otherwise.
func (b *Buffered) Run(ctx context.Context) error {
	defer close(b.done)

	stop := context.AfterFunc(ctx, func() {
		_ = b.Close()
	})
	defer stop()

	buf := make([]byte, 256)
	for {
		gen := b.generation()
		n, err := b.conn.Read(buf)
		if n > 0 {
			b.push(buf[:n], gen)
		}
		if err != nil {
			return b.fail(err)
		}
	}
}

// Done is closed when the pump exits
func (b *Buffered) Done() <-chan struct{} {
	return b.done
}

func (b *Buffered) generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// push queues data from a read started in generation gen. Reads that were
// in flight across a Flush predate it and are dropped.
func (b *Buffered) push(data []byte, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.received += uint64(len(data))
	if gen != b.gen {
		b.stale += uint64(len(data))
		return
	}
	b.queue = append(b.queue, data...)
	if over := len(b.queue) - b.queueSize; over > 0 {
		b.dropped += uint64(over)
		b.queue = append(b.queue[:0], b.queue[over:]...)
	}
}

func (b *Buffered) fail(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if err == io.EOF {
		b.err = errors.Wrap(err, "connection closed by peer")
	} else {
		b.err = errors.Wrap(err, "read failed")
	}
	return b.err
}

// Available returns the number of buffered bytes
func (b *Buffered) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// ReadByte returns the oldest buffered byte
func (b *Buffered) ReadByte() (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		if b.closed {
			return 0, ErrClosed
		}
		return 0, ErrEmpty
	}

	c := b.queue[0]
	b.queue = b.queue[1:]
	return c, nil
}

// Write sends p on the connection
func (b *Buffered) Write(p []byte) (int, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	n, err := b.conn.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "write failed")
	}
	return n, nil
}

// Flush discards buffered input, including bytes held by the driver when the
// connection supports it. Bytes from a read already in progress are dropped
// when that read returns.
func (b *Buffered) Flush() error {
	b.mu.Lock()
	b.queue = b.queue[:0]
	b.gen++
	b.mu.Unlock()

	if r, ok := b.conn.(InputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return errors.Wrap(err, "failed to reset input buffer")
		}
	}
	return nil
}

// Close closes the connection, which stops the pump
func (b *Buffered) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		err = b.conn.Close()
	})
	return err
}

// Err returns the error that stopped the pump, if any
func (b *Buffered) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Received returns the total number of bytes read from the connection
func (b *Buffered) Received() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received
}

// Dropped returns the number of bytes lost to queue overflow
func (b *Buffered) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Stale returns the number of bytes dropped because their read was in
// progress when Flush was called
func (b *Buffered) Stale() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stale
}
