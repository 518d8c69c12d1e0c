// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

// StuckObserver is notified when the same measurement has been decoded
// repeats times in a row
type StuckObserver func(m Measurement, repeats int)

// DecodeStreamFrame extracts the measurement from a 24-byte streaming frame.
// The frame is expected to have passed ValidateStreamFrame.
func DecodeStreamFrame(frame []byte) (Measurement, error) {
	if len(frame) != StreamFrameSize {
		return Measurement{}, &FrameLengthError{Mode: ModeStreaming, Length: len(frame), Expected: StreamFrameSize}
	}

	return Measurement{
		PM1_0: be16(frame, streamPM1Offset),
		PM2_5: be16(frame, streamPM25Offset),
		PM10:  be16(frame, streamPM10Offset),
	}, nil
}

// DecodeReplyFrame extracts the measurement from a 9-byte data reply.
// Byte 1 must carry the data-reply echo before the payload is trusted.
func DecodeReplyFrame(frame []byte) (Measurement, error) {
	if len(frame) != ReplyFrameSize {
		return Measurement{}, &FrameLengthError{Mode: ModeRequestResponse, Length: len(frame), Expected: ReplyFrameSize}
	}
	if frame[1] != ReplyDataEcho {
		return Measurement{}, &UnexpectedReplyError{Echo: frame[1]}
	}

	return Measurement{
		PM1_0: be16(frame, replyPM1Offset),
		PM2_5: be16(frame, replyPM25Offset),
		PM10:  be16(frame, replyPM10Offset),
	}, nil
}

// Decoder turns validated frames into plausible measurements.
//
// It also tracks how many consecutive identical measurements it produced,
// which is the usual symptom of a sensor whose fan or laser has stopped.
type Decoder struct {
	maxValue  uint16
	reject256 bool

	stuckThreshold int
	stuckObserver  StuckObserver

	last    Measurement
	hasLast bool
	repeats int
}

// NewDecoder creates a decoder accepting values up to maxValue inclusive.
// When reject256 is set, request/response readings containing exactly 256
// are dropped as a known decode artifact.
func NewDecoder(maxValue uint16, reject256 bool) *Decoder {
	return &Decoder{
		maxValue:  maxValue,
		reject256: reject256,
	}
}

// SetStuckObserver registers fn to be called once per streak when the
// repeat count reaches threshold. A nil fn or a threshold below 2 disables it.
func (d *Decoder) SetStuckObserver(threshold int, fn StuckObserver) {
	if threshold < 2 {
		fn = nil
	}
	d.stuckThreshold = threshold
	d.stuckObserver = fn
}

// Repeats returns the length of the current run of identical measurements
func (d *Decoder) Repeats() int {
	return d.repeats
}

// Reset forgets the repeat history
func (d *Decoder) Reset() {
	d.last = Measurement{}
	d.hasLast = false
	d.repeats = 0
}

// Decode extracts and filters the measurement in a validated frame.
// A reading with any implausible field is rejected as a whole.
func (d *Decoder) Decode(mode Mode, frame []byte) (Measurement, error) {
	var m Measurement
	var err error
	if mode == ModeRequestResponse {
		m, err = DecodeReplyFrame(frame)
	} else {
		m, err = DecodeStreamFrame(frame)
	}
	if err != nil {
		return Measurement{}, err
	}

	if err := d.checkPlausible(mode, m); err != nil {
		return Measurement{}, err
	}

	d.observe(m)
	return m, nil
}

func (d *Decoder) checkPlausible(mode Mode, m Measurement) error {
	for _, field := range []Field{FieldPM1_0, FieldPM2_5, FieldPM10} {
		value := m.Value(field)
		if value > d.maxValue {
			return &ImplausibleError{Field: field, Value: value, Limit: d.maxValue, Measurement: m}
		}
		if d.reject256 && mode == ModeRequestResponse && value == suspiciousValue {
			return &ImplausibleError{Field: field, Value: value, Limit: d.maxValue, Measurement: m, Suspicious: true}
		}
	}
	return nil
}

func (d *Decoder) observe(m Measurement) {
	if d.hasLast && m == d.last {
		d.repeats++
	} else {
		d.last = m
		d.hasLast = true
		d.repeats = 1
	}

	if d.stuckObserver != nil && d.repeats == d.stuckThreshold {
		d.stuckObserver(m, d.repeats)
	}
}
