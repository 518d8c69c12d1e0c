// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

// StreamSynchronizer assembles 24-byte streaming frames from a byte stream.
//
// Bytes are discarded until the first header byte is seen. A mismatching
// second header byte resets the cursor and is not reconsidered as a new
// header. The byte that completes a frame always resets the cursor,
// whatever the frame's checksum turns out to be.
type StreamSynchronizer struct {
	buffer  [StreamFrameSize]byte
	cursor  int
	skipped uint64
}

// NewStreamSynchronizer creates a streaming frame synchronizer
func NewStreamSynchronizer() *StreamSynchronizer {
	return &StreamSynchronizer{}
}

// Reset drops any partially assembled frame
func (s *StreamSynchronizer) Reset() {
	s.cursor = 0
}

// Cursor returns the position within the frame being assembled
func (s *StreamSynchronizer) Cursor() int {
	return s.cursor
}

// Skipped returns the number of bytes discarded while seeking a header
func (s *StreamSynchronizer) Skipped() uint64 {
	return s.skipped
}

// Feed consumes one byte. When the byte completes a frame it returns the
// frame and true. The returned slice aliases the internal buffer and is only
// valid until the next call to Feed.
func (s *StreamSynchronizer) Feed(b byte) ([]byte, bool) {
	switch s.cursor {
	case 0:
		if b != StreamHeader1 {
			s.skipped++
			return nil, false
		}
	case 1:
		if b != StreamHeader2 {
			s.skipped += 2
			s.cursor = 0
			return nil, false
		}
	}

	s.buffer[s.cursor] = b
	s.cursor++
	if s.cursor == StreamFrameSize {
		s.cursor = 0
		return s.buffer[:], true
	}
	return nil, false
}

// ReplySynchronizer assembles 9-byte request/response data replies.
//
// Bytes are discarded until the start byte. A second byte other than the
// data-reply echo (an acknowledgment to a mode or dormant command, or line
// noise) resets the cursor so the next start byte is sought.
type ReplySynchronizer struct {
	buffer  [ReplyFrameSize]byte
	cursor  int
	skipped uint64
}

// NewReplySynchronizer creates a request/response frame synchronizer
func NewReplySynchronizer() *ReplySynchronizer {
	return &ReplySynchronizer{}
}

// Reset drops any partially assembled frame
func (s *ReplySynchronizer) Reset() {
	s.cursor = 0
}

// Cursor returns the position within the frame being assembled
func (s *ReplySynchronizer) Cursor() int {
	return s.cursor
}

// Skipped returns the number of bytes discarded while seeking a reply
func (s *ReplySynchronizer) Skipped() uint64 {
	return s.skipped
}

// Feed consumes one byte. See StreamSynchronizer.Feed for the contract on
// the returned slice.
func (s *ReplySynchronizer) Feed(b byte) ([]byte, bool) {
	switch s.cursor {
	case 0:
		if b != ReplyStartByte {
			s.skipped++
			return nil, false
		}
	case 1:
		if b != ReplyDataEcho {
			s.skipped += 2
			s.cursor = 0
			return nil, false
		}
	}

	s.buffer[s.cursor] = b
	s.cursor++
	if s.cursor == ReplyFrameSize {
		s.cursor = 0
		return s.buffer[:], true
	}
	return nil, false
}

// variant binds a synchronizer to the checksum algorithm of its mode.
// The engine holds exactly one variant and replaces it on mode change, so
// buffer state never crosses modes.
type variant interface {
	mode() Mode
	feed(b byte) ([]byte, bool)
	reset()
	cursor() int
	skipped() uint64
	validate(frame []byte) error
}

type streamVariant struct {
	sync *StreamSynchronizer
}

func (v streamVariant) mode() Mode                  { return ModeStreaming }
func (v streamVariant) feed(b byte) ([]byte, bool)  { return v.sync.Feed(b) }
func (v streamVariant) reset()                      { v.sync.Reset() }
func (v streamVariant) cursor() int                 { return v.sync.Cursor() }
func (v streamVariant) skipped() uint64             { return v.sync.Skipped() }
func (v streamVariant) validate(frame []byte) error { return ValidateStreamFrame(frame) }

type replyVariant struct {
	sync *ReplySynchronizer
}

func (v replyVariant) mode() Mode                  { return ModeRequestResponse }
func (v replyVariant) feed(b byte) ([]byte, bool)  { return v.sync.Feed(b) }
func (v replyVariant) reset()                      { v.sync.Reset() }
func (v replyVariant) cursor() int                 { return v.sync.Cursor() }
func (v replyVariant) skipped() uint64             { return v.sync.Skipped() }
func (v replyVariant) validate(frame []byte) error { return ValidateReplyFrame(frame) }

func newVariant(mode Mode) variant {
	if mode == ModeRequestResponse {
		return replyVariant{sync: NewReplySynchronizer()}
	}
	return streamVariant{sync: NewStreamSynchronizer()}
}
