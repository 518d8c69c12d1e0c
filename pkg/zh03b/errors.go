// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import (
	"errors"
	"fmt"
	"time"
)

// AnomalyType classifies a recoverable protocol failure
type AnomalyType int

const (
	AnomalyNone AnomalyType = iota
	AnomalyChecksum
	AnomalyImplausible
	AnomalyUnexpectedReply
	AnomalyTimeout
	AnomalyFrameLength
	AnomalyMisuse
	AnomalyTransport
)

// String returns the anomaly name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyNone:
		return "NONE"
	case AnomalyChecksum:
		return "CHECKSUM"
	case AnomalyImplausible:
		return "IMPLAUSIBLE"
	case AnomalyUnexpectedReply:
		return "UNEXPECTED_REPLY"
	case AnomalyTimeout:
		return "TIMEOUT"
	case AnomalyFrameLength:
		return "FRAME_LENGTH"
	case AnomalyMisuse:
		return "MISUSE"
	default:
		return "TRANSPORT"
	}
}

// ErrRequestInStreamingMode is surfaced when a manual read is requested while
// the sensor streams on its own
var ErrRequestInStreamingMode = errors.New("request ignored: sensor is in streaming mode")

// ChecksumError reports a frame whose checksum did not match its content
type ChecksumError struct {
	Mode       Mode
	Frame      []byte
	Reported   uint16
	Calculated uint16
}

// Error implements the error interface
func (e *ChecksumError) Error() string {
	if e.Mode == ModeRequestResponse {
		return fmt.Sprintf("checksum mismatch in %s frame: reported 0x%02X, calculated 0x%02X",
			e.Mode, e.Reported, e.Calculated)
	}
	return fmt.Sprintf("checksum mismatch in %s frame: reported 0x%04X, calculated 0x%04X",
		e.Mode, e.Reported, e.Calculated)
}

// FrameLengthError reports a frame slice of the wrong size
type FrameLengthError struct {
	Mode     Mode
	Length   int
	Expected int
}

// Error implements the error interface
func (e *FrameLengthError) Error() string {
	return fmt.Sprintf("%s frame has %d bytes (expected %d)", e.Mode, e.Length, e.Expected)
}

// ImplausibleError reports a decoded value outside the accepted range.
// The whole reading it belongs to is dropped.
type ImplausibleError struct {
	Field       Field
	Value       uint16
	Limit       uint16
	Measurement Measurement
	Suspicious  bool // rejected as a known decode artifact, not by range
}

// Error implements the error interface
func (e *ImplausibleError) Error() string {
	if e.Suspicious {
		return fmt.Sprintf("suspicious %s value %d µg/m³, reading dropped", e.Field, e.Value)
	}
	return fmt.Sprintf("implausible %s value %d µg/m³ (max %d), reading dropped", e.Field, e.Value, e.Limit)
}

// UnexpectedReplyError reports a request/response frame that is not a data reply
type UnexpectedReplyError struct {
	Echo byte
}

// Error implements the error interface
func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("unexpected reply command 0x%02X (expected 0x%02X)", e.Echo, ReplyDataEcho)
}

// TimeoutError reports a read request that received no valid reply
type TimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no valid reply %s after read request (timeout %s)",
		e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Classify maps an engine error onto its anomaly type
func Classify(err error) AnomalyType {
	if err == nil {
		return AnomalyNone
	}

	var checksumErr *ChecksumError
	var lengthErr *FrameLengthError
	var implausibleErr *ImplausibleError
	var replyErr *UnexpectedReplyError
	var timeoutErr *TimeoutError

	switch {
	case errors.As(err, &checksumErr):
		return AnomalyChecksum
	case errors.As(err, &lengthErr):
		return AnomalyFrameLength
	case errors.As(err, &implausibleErr):
		return AnomalyImplausible
	case errors.As(err, &replyErr):
		return AnomalyUnexpectedReply
	case errors.As(err, &timeoutErr):
		return AnomalyTimeout
	case errors.Is(err, ErrRequestInStreamingMode):
		return AnomalyMisuse
	default:
		return AnomalyTransport
	}
}
