// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

// EncodeStreamFrame builds the 24-byte streaming frame a sensor sends for m.
// Bytes 2-3 carry the frame length field (0x001C on real hardware); the
// reserved payload bytes are zero.
func EncodeStreamFrame(m Measurement) []byte {
	frame := make([]byte, StreamFrameSize)
	frame[0] = StreamHeader1
	frame[1] = StreamHeader2
	putBE16(frame, 2, 0x001C)
	putBE16(frame, streamPM1Offset, m.PM1_0)
	putBE16(frame, streamPM25Offset, m.PM2_5)
	putBE16(frame, streamPM10Offset, m.PM10)
	putBE16(frame, streamChecksumOffset, StreamChecksum(frame))
	return frame
}

// EncodeReplyFrame builds the 9-byte data reply a sensor sends for m
func EncodeReplyFrame(m Measurement) []byte {
	frame := make([]byte, ReplyFrameSize)
	frame[0] = ReplyStartByte
	frame[1] = ReplyDataEcho
	putBE16(frame, replyPM25Offset, m.PM2_5)
	putBE16(frame, replyPM10Offset, m.PM10)
	putBE16(frame, replyPM1Offset, m.PM1_0)
	frame[replyChecksumOffset] = ReplyChecksum(frame)
	return frame
}

// EncodeAck builds the reply a sensor sends to acknowledge a mode or
// dormant command: the command code echoed in byte 1 and its argument in
// byte 2
func EncodeAck(code, arg byte) []byte {
	frame := []byte{ReplyStartByte, code, arg, 0, 0, 0, 0, 0, 0}
	frame[replyChecksumOffset] = ReplyChecksum(frame)
	return frame
}

func putBE16(frame []byte, offset int, v uint16) {
	frame[offset] = byte(v >> 8)
	frame[offset+1] = byte(v)
}
