// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/pmscope/pkg/zh03b"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// ReadingWriter emits readings in one output format
type ReadingWriter interface {
	WriteReading(r zh03b.Reading) error
}

// readingRecord is the structured form of a reading for json and cbor output
type readingRecord struct {
	Time  time.Time `json:"time" cbor:"time"`
	Mode  string    `json:"mode" cbor:"mode"`
	PM1_0 uint16    `json:"pm1_0" cbor:"pm1_0"`
	PM2_5 uint16    `json:"pm2_5" cbor:"pm2_5"`
	PM10  uint16    `json:"pm10" cbor:"pm10"`
}

func newReadingRecord(r zh03b.Reading) readingRecord {
	return readingRecord{
		Time:  r.Timestamp,
		Mode:  r.Mode.String(),
		PM1_0: r.PM1_0,
		PM2_5: r.PM2_5,
		PM10:  r.PM10,
	}
}

// textWriter prints one styled line per reading
type textWriter struct {
	w io.Writer
}

func (t *textWriter) WriteReading(r zh03b.Reading) error {
	_, err := fmt.Fprintf(t.w, "%s %s  %s %s  %s %s  %s %s %s\n",
		headerStyle.Render(r.Timestamp.Format("15:04:05.000")),
		labelStyle.Render(zh03b.FormatMode(r.Mode)),
		labelStyle.Render("PM1.0"), valueStyle.Render(fmt.Sprintf("%4d", r.PM1_0)),
		labelStyle.Render("PM2.5"), valueStyle.Render(fmt.Sprintf("%4d", r.PM2_5)),
		labelStyle.Render("PM10"), valueStyle.Render(fmt.Sprintf("%4d", r.PM10)),
		headerStyle.Render("µg/m³"))
	return err
}

// jsonWriter prints one JSON object per line
type jsonWriter struct {
	enc *json.Encoder
}

func (j *jsonWriter) WriteReading(r zh03b.Reading) error {
	return j.enc.Encode(newReadingRecord(r))
}

// cborWriter writes a sequence of CBOR data items
type cborWriter struct {
	enc *cbor.Encoder
}

func (c *cborWriter) WriteReading(r zh03b.Reading) error {
	return c.enc.Encode(newReadingRecord(r))
}

// NewReadingWriter returns a writer for format: text, json or cbor
func NewReadingWriter(format string, w io.Writer) (ReadingWriter, error) {
	switch format {
	case "text":
		return &textWriter{w: w}, nil
	case "json":
		return &jsonWriter{enc: json.NewEncoder(w)}, nil
	case "cbor":
		mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
		if err != nil {
			return nil, errors.Wrap(err, "failed to build CBOR encoder")
		}
		return &cborWriter{enc: mode.NewEncoder(w)}, nil
	default:
		return nil, errors.Errorf("unknown output format %q (use text, json or cbor)", format)
	}
}

// formatWarning renders an engine warning for the terminal
func formatWarning(err error) string {
	return warningStyle.Render(fmt.Sprintf("[%s] %v", zh03b.Classify(err), err))
}

// renderStatistics draws the statistics block inside a box
func renderStatistics(stats *zh03b.Statistics) string {
	return boxStyle.Render(stats.String())
}
