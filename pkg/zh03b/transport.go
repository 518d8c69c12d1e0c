// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import "time"

// Transport is the byte channel to the sensor.
//
// Available and ReadByte must not block: bytes that have not arrived yet are
// simply not drained on the current tick. Flush discards buffered input.
type Transport interface {
	Available() int
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
	Flush() error
}

// Clock provides the monotonic time the engine polls against
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, which carries a monotonic reading
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sink receives calibrated values for one measurand
type Sink interface {
	Publish(value uint16)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(value uint16)

// Publish calls f(value)
func (f SinkFunc) Publish(value uint16) {
	f(value)
}
