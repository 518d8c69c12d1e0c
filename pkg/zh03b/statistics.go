// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package zh03b

import (
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Frames
	TotalFrames       uint64
	ValidReadings     uint64
	ChecksumErrors    uint64
	ImplausibleValues uint64
	UnexpectedReplies uint64
	FrameLengthErrors uint64
	RepeatedReadings  uint64

	// Link
	SkippedBytes   uint64 // discarded while seeking a frame start
	DiscardedBytes uint64 // dropped unread during stabilization or a flush
	Timeouts       uint64
	CommandsSent   uint64
	Cycles         uint64
	Warnings       uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec

	clock Clock
}

// NewStatistics creates a new statistics tracker on the system clock
func NewStatistics() *Statistics {
	return NewStatisticsWithClock(SystemClock{})
}

// NewStatisticsWithClock creates a statistics tracker whose start time and
// rates follow clock
func NewStatisticsWithClock(clock Clock) *Statistics {
	now := clock.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		clock:          clock,
	}
}

// RecordFrame counts a frame completed at now and the outcome of
// validating and decoding it. A nil err counts as a valid reading.
func (s *Statistics) RecordFrame(err error, now time.Time) {
	s.TotalFrames++
	s.LastUpdateTime = now

	switch Classify(err) {
	case AnomalyNone:
		s.ValidReadings++
	case AnomalyChecksum:
		s.ChecksumErrors++
	case AnomalyImplausible:
		s.ImplausibleValues++
	case AnomalyUnexpectedReply:
		s.UnexpectedReplies++
	case AnomalyFrameLength:
		s.FrameLengthErrors++
	}
}

// errorCount returns the number of frames that did not yield a reading
func (s *Statistics) errorCount() uint64 {
	return s.ChecksumErrors + s.ImplausibleValues + s.UnexpectedReplies + s.FrameLengthErrors + s.Timeouts
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := s.elapsed().Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent, implausiblePercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidReadings) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		implausiblePercent = float64(s.ImplausibleValues) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := s.elapsed()

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Readings:  %8d (%.1f%%)\n", s.ValidReadings, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.ImplausibleValues > 0 {
		result += fmt.Sprintf("Implausible:     %8d (%.1f%%)\n", s.ImplausibleValues, implausiblePercent)
	}
	if s.UnexpectedReplies > 0 {
		result += fmt.Sprintf("Unexpected Reply:%8d\n", s.UnexpectedReplies)
	}
	if s.FrameLengthErrors > 0 {
		result += fmt.Sprintf("Length Errors:   %8d\n", s.FrameLengthErrors)
	}
	if s.RepeatedReadings > 0 {
		result += fmt.Sprintf("Repeated Values: %8d\n", s.RepeatedReadings)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Read Timeouts:   %8d\n", s.Timeouts)
	}
	if s.Cycles > 0 {
		result += fmt.Sprintf("Power Cycles:    %8d\n", s.Cycles)
	}

	result += fmt.Sprintf("Skipped Bytes:   %8d\n", s.SkippedBytes)
	if s.DiscardedBytes > 0 {
		result += fmt.Sprintf("Dropped Bytes:   %8d\n", s.DiscardedBytes)
	}
	result += fmt.Sprintf("Commands Sent:   %8d\n", s.CommandsSent)
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatisticsWithClock(s.clockOrSystem())
}

func (s *Statistics) clockOrSystem() Clock {
	if s.clock == nil {
		return SystemClock{}
	}
	return s.clock
}

func (s *Statistics) elapsed() time.Duration {
	return s.clockOrSystem().Now().Sub(s.StartTime)
}
