// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import "time"

// Field identifies one of the three measurands
type Field int

// Measurand fields
const (
	FieldPM1_0 Field = iota
	FieldPM2_5
	FieldPM10
)

// String returns the measurand name
func (f Field) String() string {
	switch f {
	case FieldPM1_0:
		return "PM1.0"
	case FieldPM2_5:
		return "PM2.5"
	case FieldPM10:
		return "PM10"
	default:
		return "UNKNOWN"
	}
}

// Measurement is one calibrated reading in micrograms per cubic meter
type Measurement struct {
	PM1_0 uint16
	PM2_5 uint16
	PM10  uint16
}

// Value returns the value of a single field
func (m Measurement) Value(f Field) uint16 {
	switch f {
	case FieldPM1_0:
		return m.PM1_0
	case FieldPM2_5:
		return m.PM2_5
	default:
		return m.PM10
	}
}

// Reading is a measurement as delivered by the engine
type Reading struct {
	Measurement
	Mode      Mode
	Timestamp time.Time
}

// be16 reads a big-endian 16-bit field at offset
func be16(frame []byte, offset int) uint16 {
	return uint16(frame[offset])<<8 | uint16(frame[offset+1])
}
