// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Command identifies one of the fixed command frames the host sends
type Command int

// Commands understood by the sensor
const (
	CmdReadData Command = iota
	CmdSetRequestResponse
	CmdSetStreaming
	CmdSleep
	CmdWake
)

// Command frames, checksums included. These are wire constants.
var commandFrames = map[Command][ReplyFrameSize]byte{
	CmdReadData:           {0xFF, 0x01, 0x86, 0x00, 0x00, 0x00, 0x00, 0x00, 0x79},
	CmdSetRequestResponse: {0xFF, 0x01, 0x78, 0x41, 0x00, 0x00, 0x00, 0x00, 0x46},
	CmdSetStreaming:       {0xFF, 0x01, 0x78, 0x40, 0x00, 0x00, 0x00, 0x00, 0x47},
	CmdSleep:              {0xFF, 0x01, 0xA7, 0x01, 0x00, 0x00, 0x00, 0x00, 0x57},
	CmdWake:               {0xFF, 0x01, 0xA7, 0x00, 0x00, 0x00, 0x00, 0x00, 0x58},
}

// String returns the command name
func (c Command) String() string {
	switch c {
	case CmdReadData:
		return "READ_DATA"
	case CmdSetRequestResponse:
		return "SET_QA_MODE"
	case CmdSetStreaming:
		return "SET_STREAMING_MODE"
	case CmdSleep:
		return "DORMANT_ON"
	case CmdWake:
		return "DORMANT_OFF"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(c))
	}
}

// Bytes returns a copy of the command's wire frame, or nil for an unknown command
func (c Command) Bytes() []byte {
	frame, ok := commandFrames[c]
	if !ok {
		return nil
	}
	return frame[:]
}

// ParseCommand converts a command name from the command line into a Command
func ParseCommand(s string) (Command, error) {
	switch s {
	case "read":
		return CmdReadData, nil
	case "qa":
		return CmdSetRequestResponse, nil
	case "streaming":
		return CmdSetStreaming, nil
	case "sleep":
		return CmdSleep, nil
	case "wake":
		return CmdWake, nil
	default:
		return 0, fmt.Errorf("unknown command %q (use read, qa, streaming, sleep or wake)", s)
	}
}

// ModeCommand returns the command that switches the sensor into mode
func ModeCommand(mode Mode) Command {
	if mode == ModeRequestResponse {
		return CmdSetRequestResponse
	}
	return CmdSetStreaming
}

// BuildCommand builds a command frame for code with a single argument byte,
// using the request/response checksum
func BuildCommand(code, arg byte) [ReplyFrameSize]byte {
	frame := [ReplyFrameSize]byte{ReplyStartByte, commandAddress, code, arg}
	frame[replyChecksumOffset] = ReplyChecksum(frame[:])
	return frame
}

// Transmitter writes command frames to the transport. It never waits for
// an acknowledgment.
type Transmitter struct {
	transport Transport
	logger    zerolog.Logger
	stats     *Statistics
}

// NewTransmitter creates a transmitter. stats may be nil.
func NewTransmitter(transport Transport, logger zerolog.Logger, stats *Statistics) *Transmitter {
	return &Transmitter{
		transport: transport,
		logger:    logger,
		stats:     stats,
	}
}

// Send writes one command frame
func (t *Transmitter) Send(cmd Command) error {
	frame := cmd.Bytes()
	if frame == nil {
		return errors.Errorf("unknown command %d", int(cmd))
	}

	n, err := t.transport.Write(frame)
	if err != nil {
		return errors.Wrapf(err, "failed to send %s", cmd)
	}
	if n != len(frame) {
		return errors.Errorf("short write sending %s: %d of %d bytes", cmd, n, len(frame))
	}

	if t.stats != nil {
		t.stats.CommandsSent++
	}
	t.logger.Debug().Stringer("command", cmd).Hex("frame", frame).Msg("sent command")
	return nil
}
