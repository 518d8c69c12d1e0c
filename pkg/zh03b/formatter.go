// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import (
	"fmt"
	"strings"
)

// FormatReading formats a reading into a human-readable line
func FormatReading(r Reading) string {
	timestamp := r.Timestamp.Format("15:04:05.000")
	return fmt.Sprintf("[%s] %s PM1.0=%d PM2.5=%d PM10=%d µg/m³",
		timestamp, FormatMode(r.Mode), r.PM1_0, r.PM2_5, r.PM10)
}

// FormatMode returns the short label used in output lines
func FormatMode(m Mode) string {
	switch m {
	case ModeStreaming:
		return "STREAM"
	case ModeRequestResponse:
		return "QA"
	default:
		return "UNKNOWN"
	}
}

// FormatFrame returns a hex dump of a raw frame with its layout annotated
func FormatFrame(frame []byte) string {
	var b strings.Builder
	b.WriteString(hexBytes(frame))

	switch {
	case len(frame) == StreamFrameSize && frame[0] == StreamHeader1 && frame[1] == StreamHeader2:
		fmt.Fprintf(&b, "\n  streaming frame, checksum 0x%04X (calculated 0x%04X)",
			be16(frame, streamChecksumOffset), StreamChecksum(frame))
	case len(frame) == ReplyFrameSize && frame[0] == ReplyStartByte:
		kind := "reply"
		if frame[1] == ReplyDataEcho {
			kind = "data reply"
		}
		fmt.Fprintf(&b, "\n  %s 0x%02X, checksum 0x%02X (calculated 0x%02X)",
			kind, frame[1], frame[replyChecksumOffset], ReplyChecksum(frame))
	}

	return b.String()
}

// FormatCommand formats a command with its wire bytes
func FormatCommand(c Command) string {
	return fmt.Sprintf("%s [%s]", c, hexBytes(c.Bytes()))
}

// FormatState summarizes the engine's protocol state in one line
func FormatState(e *Engine) string {
	parts := []string{"mode=" + e.Mode().String()}
	if e.Mode() == ModeRequestResponse {
		parts = append(parts, "power="+e.PowerState().String())
		parts = append(parts, fmt.Sprintf("pending=%t", e.Pending()))
	}
	if e.Stabilizing() {
		parts = append(parts, "stabilizing")
	}
	return strings.Join(parts, " ")
}

func hexBytes(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
