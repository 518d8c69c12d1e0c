// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// ============================================================
// Checksum Tests
// ============================================================

func TestStreamChecksum_KnownFrame(t *testing.T) {
	// 42 4D 00 1C ... PM1.0=12 PM2.5=35 PM10=48
	frame := buildStreamFrame(12, 35, 48)

	if sum := StreamChecksum(frame); sum != 0x010A {
		t.Errorf("StreamChecksum = 0x%04X, want 0x010A", sum)
	}
	if frame[22] != 0x01 || frame[23] != 0x0A {
		t.Errorf("checksum bytes = %02X %02X, want 01 0A", frame[22], frame[23])
	}
	if err := ValidateStreamFrame(frame); err != nil {
		t.Errorf("ValidateStreamFrame() = %v, want nil", err)
	}
}

func TestReplyChecksum_KnownFrame(t *testing.T) {
	frame := []byte{0xFF, 0x86, 0x00, 0x23, 0x00, 0x30, 0x00, 0x0C, 0x1B}

	if sum := ReplyChecksum(frame); sum != 0x1B {
		t.Errorf("ReplyChecksum = 0x%02X, want 0x1B", sum)
	}
	if err := ValidateReplyFrame(frame); err != nil {
		t.Errorf("ValidateReplyFrame() = %v, want nil", err)
	}
}

func TestValidateStreamFrame_FlippedBit(t *testing.T) {
	frame := buildStreamFrame(12, 35, 48)
	frame[13] ^= 0x01

	err := ValidateStreamFrame(frame)
	var checksumErr *ChecksumError
	if !errors.As(err, &checksumErr) {
		t.Fatalf("expected *ChecksumError, got %v", err)
	}
	if checksumErr.Reported != 0x010A {
		t.Errorf("Reported = 0x%04X, want 0x010A", checksumErr.Reported)
	}
	if checksumErr.Mode != ModeStreaming {
		t.Errorf("Mode = %v, want streaming", checksumErr.Mode)
	}
}

func TestValidateReplyFrame_IgnoresHeaderBytes(t *testing.T) {
	// Acceptance depends only on bytes 1..8, whatever the start byte holds
	frame := buildReplyFrame(12, 35, 48)
	frame[0] = 0x00

	if err := ValidateReplyFrame(frame); err != nil {
		t.Errorf("ValidateReplyFrame() = %v, want nil", err)
	}

	frame[replyChecksumOffset]++
	if Classify(ValidateReplyFrame(frame)) != AnomalyChecksum {
		t.Error("corrupted checksum byte should be rejected")
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	stream := buildStreamFrame(1, 2, 3)
	reply := buildReplyFrame(1, 2, 3)
	stream[5] = 0xAA // make it invalid
	streamCopy := append([]byte(nil), stream...)
	replyCopy := append([]byte(nil), reply...)

	first := ValidateStreamFrame(stream)
	second := ValidateStreamFrame(stream)
	if (first == nil) != (second == nil) {
		t.Error("revalidating the same stream frame changed the outcome")
	}
	if ValidateReplyFrame(reply) != nil || ValidateReplyFrame(reply) != nil {
		t.Error("valid reply frame rejected on revalidation")
	}

	if !bytes.Equal(stream, streamCopy) || !bytes.Equal(reply, replyCopy) {
		t.Error("validation mutated its input")
	}
}

func TestChecksum_ShortFrameYieldsZero(t *testing.T) {
	for _, frame := range [][]byte{nil, {0x42, 0x4D}, make([]byte, 21)} {
		if got := StreamChecksum(frame); got != 0 {
			t.Errorf("StreamChecksum(% X) = 0x%04X, want 0", frame, got)
		}
	}
	for _, frame := range [][]byte{nil, {0xFF, 0x86}, make([]byte, 7)} {
		if got := ReplyChecksum(frame); got != 0 {
			t.Errorf("ReplyChecksum(% X) = 0x%02X, want 0", frame, got)
		}
	}
}

func TestValidate_WrongLength(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"stream short", ValidateStreamFrame(make([]byte, 23))},
		{"stream long", ValidateStreamFrame(make([]byte, 25))},
		{"reply short", ValidateReplyFrame(make([]byte, 8))},
		{"reply empty", ValidateReplyFrame(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Classify(tt.err) != AnomalyFrameLength {
				t.Errorf("expected frame length error, got %v", tt.err)
			}
		})
	}
}

// ============================================================
// Synchronizer Tests
// ============================================================

// feedAll feeds data and returns copies of every completed frame
func feedAll(feed func(byte) ([]byte, bool), data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		if frame, ok := feed(b); ok {
			frames = append(frames, append([]byte(nil), frame...))
		}
	}
	return frames
}

func TestStreamSynchronizer_Noise(t *testing.T) {
	sync := NewStreamSynchronizer()
	frame := buildStreamFrame(12, 35, 48)
	data := append([]byte{0x00, 0x13, 0xFF, 0x4D}, frame...)

	frames := feedAll(sync.Feed, data)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], frame) {
		t.Errorf("frame = % X, want % X", frames[0], frame)
	}
	if sync.Skipped() != 4 {
		t.Errorf("Skipped() = %d, want 4", sync.Skipped())
	}
	if sync.Cursor() != 0 {
		t.Errorf("Cursor() = %d after complete frame, want 0", sync.Cursor())
	}
}

func TestStreamSynchronizer_HeaderMismatchNotReconsidered(t *testing.T) {
	sync := NewStreamSynchronizer()

	sync.Feed(StreamHeader1)
	if sync.Cursor() != 1 {
		t.Fatalf("Cursor() = %d after first header byte, want 1", sync.Cursor())
	}

	// A second 0x42 resets the cursor and is not taken as a new header
	sync.Feed(StreamHeader1)
	if sync.Cursor() != 0 {
		t.Fatalf("Cursor() = %d after mismatch, want 0", sync.Cursor())
	}

	sync.Feed(StreamHeader2)
	if sync.Cursor() != 0 {
		t.Errorf("Cursor() = %d, lone second header byte should be skipped", sync.Cursor())
	}
}

func TestStreamSynchronizer_ByteAtATimeMatchesBulk(t *testing.T) {
	data := append([]byte{0x01, 0x02}, buildStreamFrame(1, 2, 3)...)
	data = append(data, buildStreamFrame(4, 5, 6)...)

	bulk := feedAll(NewStreamSynchronizer().Feed, data)

	sync := NewStreamSynchronizer()
	var single [][]byte
	for i := range data {
		single = append(single, feedAll(sync.Feed, data[i:i+1])...)
	}

	if len(bulk) != 2 || len(single) != 2 {
		t.Fatalf("expected 2 frames each way, got %d bulk and %d single", len(bulk), len(single))
	}
	for i := range bulk {
		if !bytes.Equal(bulk[i], single[i]) {
			t.Errorf("frame %d differs between bulk and byte-at-a-time feeding", i)
		}
	}
}

func TestStreamSynchronizer_TruncatedTailThenValid(t *testing.T) {
	// Power-up mid-stream: the tail of a frame without its header
	sync := NewStreamSynchronizer()
	tail := buildStreamFrame(99, 99, 99)[9:]
	valid := buildStreamFrame(12, 35, 48)

	frames := feedAll(sync.Feed, append(tail, valid...))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if err := ValidateStreamFrame(frames[0]); err != nil {
		t.Errorf("recovered frame invalid: %v", err)
	}
}

func TestStreamSynchronizer_TruncatedHeadRecovers(t *testing.T) {
	// A frame cut short swallows part of the next one; the stream is back
	// in sync for the frame after that
	sync := NewStreamSynchronizer()
	valid := buildStreamFrame(12, 35, 48)

	data := append([]byte(nil), valid[:10]...)
	data = append(data, valid...)
	data = append(data, valid...)

	frames := feedAll(sync.Feed, data)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if ValidateStreamFrame(frames[0]) == nil {
		t.Error("spliced frame should fail its checksum")
	}
	if err := ValidateStreamFrame(frames[1]); err != nil {
		t.Errorf("frame after resync invalid: %v", err)
	}
}

func TestReplySynchronizer_SkipsAcknowledgments(t *testing.T) {
	sync := NewReplySynchronizer()
	ack := []byte{0xFF, 0x78, 0x41, 0x00, 0x00, 0x00, 0x00, 0x00, 0x47}
	reply := buildReplyFrame(12, 35, 48)

	frames := feedAll(sync.Feed, append(ack, reply...))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], reply) {
		t.Errorf("frame = % X, want % X", frames[0], reply)
	}
}

func TestReplySynchronizer_CompletingByteResets(t *testing.T) {
	sync := NewReplySynchronizer()
	bad := buildReplyFrame(12, 35, 48)
	bad[replyChecksumOffset] ^= 0xFF

	frames := feedAll(sync.Feed, bad)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if sync.Cursor() != 0 {
		t.Errorf("Cursor() = %d after completing byte, want 0", sync.Cursor())
	}

	sync.Feed(0xFF)
	sync.Reset()
	if sync.Cursor() != 0 {
		t.Errorf("Cursor() = %d after Reset, want 0", sync.Cursor())
	}
}

func TestSynchronizer_ZeroBytes(t *testing.T) {
	if frames := feedAll(NewStreamSynchronizer().Feed, nil); len(frames) != 0 {
		t.Errorf("expected no frames from empty input, got %d", len(frames))
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecodeStreamFrame_Offsets(t *testing.T) {
	m, err := DecodeStreamFrame(buildStreamFrame(12, 35, 48))
	if err != nil {
		t.Fatalf("DecodeStreamFrame() error = %v", err)
	}
	if m != (Measurement{PM1_0: 12, PM2_5: 35, PM10: 48}) {
		t.Errorf("DecodeStreamFrame() = %+v", m)
	}
}

func TestDecodeReplyFrame_Offsets(t *testing.T) {
	frame := []byte{0xFF, 0x86, 0x00, 0x23, 0x00, 0x30, 0x00, 0x0C, 0x1B}

	m, err := DecodeReplyFrame(frame)
	if err != nil {
		t.Fatalf("DecodeReplyFrame() error = %v", err)
	}
	if m.PM2_5 != 35 || m.PM10 != 48 || m.PM1_0 != 12 {
		t.Errorf("DecodeReplyFrame() = %+v, want PM1.0=12 PM2.5=35 PM10=48", m)
	}
}

func TestDecodeReplyFrame_WrongEcho(t *testing.T) {
	frame := buildReplyFrame(1, 2, 3)
	frame[1] = 0x78

	_, err := DecodeReplyFrame(frame)
	var replyErr *UnexpectedReplyError
	if !errors.As(err, &replyErr) {
		t.Fatalf("expected *UnexpectedReplyError, got %v", err)
	}
	if replyErr.Echo != 0x78 {
		t.Errorf("Echo = 0x%02X, want 0x78", replyErr.Echo)
	}
}

func TestDecoder_PlausibilityBoundary(t *testing.T) {
	fields := []Field{FieldPM1_0, FieldPM2_5, FieldPM10}
	modes := []struct {
		mode  Mode
		build func(pm1, pm25, pm10 uint16) []byte
	}{
		{ModeStreaming, buildStreamFrame},
		{ModeRequestResponse, buildReplyFrame},
	}

	for _, mm := range modes {
		for _, field := range fields {
			for _, value := range []uint16{1000, 1001} {
				name := mm.mode.String() + "/" + field.String()
				t.Run(name, func(t *testing.T) {
					values := [3]uint16{10, 10, 10}
					values[field] = value

					d := NewDecoder(DefaultMaxConcentration, false)
					m, err := d.Decode(mm.mode, mm.build(values[0], values[1], values[2]))

					if value == 1000 {
						if err != nil {
							t.Fatalf("value 1000 rejected: %v", err)
						}
						if m.Value(field) != 1000 {
							t.Errorf("Value(%s) = %d, want 1000", field, m.Value(field))
						}
						return
					}

					var implausible *ImplausibleError
					if !errors.As(err, &implausible) {
						t.Fatalf("value 1001 accepted, err = %v", err)
					}
					if implausible.Field != field || implausible.Value != 1001 {
						t.Errorf("error names %s=%d, want %s=1001", implausible.Field, implausible.Value, field)
					}
					if m != (Measurement{}) {
						t.Errorf("rejected reading returned partial values %+v", m)
					}
				})
			}
		}
	}
}

func TestDecoder_Reject256(t *testing.T) {
	tests := []struct {
		name      string
		reject    bool
		mode      Mode
		wantError bool
	}{
		{"disabled reply", false, ModeRequestResponse, false},
		{"enabled reply", true, ModeRequestResponse, true},
		{"enabled streaming", true, ModeStreaming, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(DefaultMaxConcentration, tt.reject)

			frame := buildReplyFrame(5, 256, 7)
			if tt.mode == ModeStreaming {
				frame = buildStreamFrame(5, 256, 7)
			}

			_, err := d.Decode(tt.mode, frame)
			if (err != nil) != tt.wantError {
				t.Fatalf("Decode() error = %v, wantError %v", err, tt.wantError)
			}
			if err != nil {
				var implausible *ImplausibleError
				if !errors.As(err, &implausible) || !implausible.Suspicious {
					t.Errorf("expected suspicious *ImplausibleError, got %v", err)
				}
			}
		})
	}
}

func TestDecoder_StuckObserver(t *testing.T) {
	d := NewDecoder(DefaultMaxConcentration, false)

	var calls []int
	d.SetStuckObserver(3, func(m Measurement, repeats int) {
		calls = append(calls, repeats)
	})

	same := buildStreamFrame(7, 7, 7)
	for i := 0; i < 5; i++ {
		if _, err := d.Decode(ModeStreaming, same); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
	}
	if d.Repeats() != 5 {
		t.Errorf("Repeats() = %d, want 5", d.Repeats())
	}
	if len(calls) != 1 || calls[0] != 3 {
		t.Errorf("observer calls = %v, want [3]", calls)
	}

	if _, err := d.Decode(ModeStreaming, buildStreamFrame(8, 8, 8)); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if d.Repeats() != 1 {
		t.Errorf("Repeats() = %d after a new value, want 1", d.Repeats())
	}
}

// ============================================================
// Command Tests
// ============================================================

func TestCommandBytes(t *testing.T) {
	tests := []struct {
		cmd  Command
		want []byte
	}{
		{CmdReadData, []byte{0xFF, 0x01, 0x86, 0x00, 0x00, 0x00, 0x00, 0x00, 0x79}},
		{CmdSetRequestResponse, []byte{0xFF, 0x01, 0x78, 0x41, 0x00, 0x00, 0x00, 0x00, 0x46}},
		{CmdSetStreaming, []byte{0xFF, 0x01, 0x78, 0x40, 0x00, 0x00, 0x00, 0x00, 0x47}},
		{CmdSleep, []byte{0xFF, 0x01, 0xA7, 0x01, 0x00, 0x00, 0x00, 0x00, 0x57}},
		{CmdWake, []byte{0xFF, 0x01, 0xA7, 0x00, 0x00, 0x00, 0x00, 0x00, 0x58}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			if got := tt.cmd.Bytes(); !bytes.Equal(got, tt.want) {
				t.Errorf("Bytes() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestBuildCommand_ReproducesConstants(t *testing.T) {
	tests := []struct {
		cmd       Command
		code, arg byte
	}{
		{CmdReadData, codeReadData, 0x00},
		{CmdSetRequestResponse, codeSetMode, 0x41},
		{CmdSetStreaming, codeSetMode, 0x40},
		{CmdSleep, codeDormant, 0x01},
		{CmdWake, codeDormant, 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			built := BuildCommand(tt.code, tt.arg)
			if !bytes.Equal(built[:], tt.cmd.Bytes()) {
				t.Errorf("BuildCommand(0x%02X, 0x%02X) = % X, want % X", tt.code, tt.arg, built, tt.cmd.Bytes())
			}
		})
	}
}

func TestCommandBytes_ReturnsCopy(t *testing.T) {
	b := CmdSleep.Bytes()
	b[8] = 0x00
	if CmdSleep.Bytes()[8] != 0x57 {
		t.Error("mutating Bytes() result changed the command constant")
	}
}

func TestTransmitter_Send(t *testing.T) {
	transport := &fakeTransport{}
	stats := NewStatistics()
	tx := NewTransmitter(transport, zerolog.Nop(), stats)

	if err := tx.Send(CmdWake); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := tx.Send(Command(42)); err == nil {
		t.Error("Send() of unknown command should fail")
	}

	cmds := transport.Commands(t)
	if len(cmds) != 1 || cmds[0] != CmdWake {
		t.Errorf("sent %v, want [DORMANT_OFF]", cmds)
	}
	if stats.CommandsSent != 1 {
		t.Errorf("CommandsSent = %d, want 1", stats.CommandsSent)
	}
}

func TestParseCommandAndMode(t *testing.T) {
	for name, want := range map[string]Command{
		"read": CmdReadData, "qa": CmdSetRequestResponse, "streaming": CmdSetStreaming,
		"sleep": CmdSleep, "wake": CmdWake,
	} {
		got, err := ParseCommand(name)
		if err != nil || got != want {
			t.Errorf("ParseCommand(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseCommand("reboot"); err == nil {
		t.Error("ParseCommand(reboot) should fail")
	}

	for name, want := range map[string]Mode{
		"streaming": ModeStreaming, "QA": ModeRequestResponse, " request-response ": ModeRequestResponse,
	} {
		got, err := ParseMode(name)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseMode("turbo"); err == nil {
		t.Error("ParseMode(turbo) should fail")
	}
}

func TestEncodeAck_KnownFrame(t *testing.T) {
	want := []byte{0xFF, 0x78, 0x41, 0x00, 0x00, 0x00, 0x00, 0x00, 0x47}
	got := EncodeAck(0x78, 0x41)
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeAck() = % X, want % X", got, want)
	}
	if err := ValidateReplyFrame(got); err != nil {
		t.Errorf("ValidateReplyFrame(ack) error = %v", err)
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatFrame(t *testing.T) {
	out := FormatFrame(buildReplyFrame(12, 35, 48))
	if !strings.HasPrefix(out, "FF 86 00 23 00 30 00 0C 1B") {
		t.Errorf("unexpected hex dump: %q", out)
	}
	if !strings.Contains(out, "data reply") {
		t.Errorf("reply frame not annotated: %q", out)
	}

	out = FormatFrame(buildStreamFrame(12, 35, 48))
	if !strings.Contains(out, "checksum 0x010A (calculated 0x010A)") {
		t.Errorf("stream frame not annotated: %q", out)
	}
}

func TestFormatCommand(t *testing.T) {
	want := "DORMANT_ON [FF 01 A7 01 00 00 00 00 57]"
	if got := FormatCommand(CmdSleep); got != want {
		t.Errorf("FormatCommand() = %q, want %q", got, want)
	}
}
