// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package zh03b implements the protocol engine for the Winsen ZH03B laser
// particulate-matter sensor.
//
// The sensor speaks two incompatible wire behaviors over a 9600 baud UART:
// a streaming ("initiative upload") mode where 24-byte frames are pushed
// continuously, and a request/response ("Q&A") mode where the host sends a
// 9-byte command and parses a 9-byte reply. This package provides frame
// synchronization, checksum validation, measurement decoding, the fixed command
// frames, and a tick-driven engine that sequences sensor wake/read/sleep cycles.
package zh03b

import (
	"fmt"
	"strings"
	"time"
)

// BaudRate is the only line speed the sensor supports
const BaudRate = 9600

// Streaming frame layout
const (
	StreamFrameSize = 24
	StreamHeader1   = 0x42
	StreamHeader2   = 0x4D

	streamChecksumOffset = 22
	streamPM1Offset      = 10
	streamPM25Offset     = 12
	streamPM10Offset     = 14
)

// Request/response frame layout
const (
	ReplyFrameSize = 9
	ReplyStartByte = 0xFF
	ReplyDataEcho  = 0x86

	replyChecksumOffset = 8
	replyPM25Offset     = 2
	replyPM10Offset     = 4
	replyPM1Offset      = 6
)

// Command codes (byte 2 of a command frame)
const (
	codeReadData = 0x86
	codeSetMode  = 0x78
	codeDormant  = 0xA7

	commandAddress = 0x01
)

// Plausibility limits
const (
	DefaultMaxConcentration = 1000
	suspiciousValue         = 256
)

// Engine timing defaults
const (
	DefaultUpdateInterval  = 30 * time.Second
	DefaultWarmUp          = 10 * time.Second
	DefaultReadTimeout     = 2 * time.Second
	DefaultSettleDelay     = 2 * time.Second
	DefaultStabilization   = 30 * time.Second
	DefaultModeChangeDelay = 100 * time.Millisecond
)

// Mode selects the sensor's wire behavior
type Mode int

// Mode values
const (
	ModeStreaming Mode = iota
	ModeRequestResponse
)

// String returns the human-readable mode name
func (m Mode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	case ModeRequestResponse:
		return "request-response"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name from configuration into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "streaming", "stream", "passive", "initiative":
		return ModeStreaming, nil
	case "qa", "q&a", "request", "request-response", "request_response":
		return ModeRequestResponse, nil
	default:
		return ModeStreaming, fmt.Errorf("unknown mode %q (use streaming or qa)", s)
	}
}

// PowerState is the request/response power sequencing state
type PowerState int

// Power sequencing states
const (
	PowerIdle PowerState = iota
	PowerWakeSent
	PowerReadSent
	PowerWaitingBeforeSleep
)

// String returns the human-readable state name
func (s PowerState) String() string {
	switch s {
	case PowerIdle:
		return "IDLE"
	case PowerWakeSent:
		return "WAKE_SENT"
	case PowerReadSent:
		return "READ_SENT"
	case PowerWaitingBeforeSleep:
		return "WAITING_BEFORE_SLEEP"
	default:
		return "UNKNOWN"
	}
}
