// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

// StreamChecksum computes the additive checksum of a streaming frame:
// the 16-bit wrapping sum of bytes 0 through 21. A frame shorter than 22
// bytes has no checksum and yields 0.
func StreamChecksum(frame []byte) uint16 {
	if len(frame) < streamChecksumOffset {
		return 0
	}

	var sum uint16
	for _, b := range frame[:streamChecksumOffset] {
		sum += uint16(b)
	}
	return sum
}

// ReplyChecksum computes the checksum of a request/response frame:
// the two's complement of the 8-bit sum of bytes 1 through 7. A frame
// shorter than 8 bytes yields 0.
func ReplyChecksum(frame []byte) byte {
	if len(frame) < replyChecksumOffset {
		return 0
	}

	var sum byte
	for _, b := range frame[1:replyChecksumOffset] {
		sum += b
	}
	return ^sum + 1
}

// ValidateStreamFrame checks a 24-byte streaming frame against the big-endian
// checksum in its last two bytes
func ValidateStreamFrame(frame []byte) error {
	if len(frame) != StreamFrameSize {
		return &FrameLengthError{Mode: ModeStreaming, Length: len(frame), Expected: StreamFrameSize}
	}

	calculated := StreamChecksum(frame)
	reported := be16(frame, streamChecksumOffset)
	if calculated != reported {
		return &ChecksumError{
			Mode:       ModeStreaming,
			Frame:      append([]byte(nil), frame...),
			Reported:   reported,
			Calculated: calculated,
		}
	}
	return nil
}

// ValidateReplyFrame checks a 9-byte request/response frame against its
// trailing checksum byte. The start and echo bytes are not inspected.
func ValidateReplyFrame(frame []byte) error {
	if len(frame) != ReplyFrameSize {
		return &FrameLengthError{Mode: ModeRequestResponse, Length: len(frame), Expected: ReplyFrameSize}
	}

	calculated := ReplyChecksum(frame)
	reported := frame[replyChecksumOffset]
	if calculated != reported {
		return &ChecksumError{
			Mode:       ModeRequestResponse,
			Frame:      append([]byte(nil), frame...),
			Reported:   uint16(reported),
			Calculated: uint16(calculated),
		}
	}
	return nil
}
