// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/pmscope/pkg/link"
	"github.com/Thermoquad/pmscope/pkg/zh03b"
	"github.com/spf13/cobra"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a valid sensor frame",
	Long: `Wait for a valid ZH03B frame on the connection until timeout.

In streaming mode the sensor is switched to streaming and the first frame
with a correct checksum ends the test. In qa mode the sensor is switched to
request/response, woken, and asked for a reading every two seconds until a
valid reply arrives. Bytes before the first frame are ignored.

Exit codes:
  0 - Valid frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring and baud rate before a long monitor session.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

// frameSynchronizer is the part of both synchronizers the probe needs
type frameSynchronizer interface {
	Feed(b byte) ([]byte, bool)
	Skipped() uint64
}

func runProbe(cmd *cobra.Command, args []string) error {
	mode, err := zh03b.ParseMode(modeName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	transport := link.NewBuffered(conn)
	transport.Start(ctx)
	defer transport.Close()

	fmt.Println(titleStyle.Render("pmscope - Probe"))
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Mode: %s\n", mode)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for valid ZH03B frame...\n\n")

	tx := zh03b.NewTransmitter(transport, logger, zh03b.NewStatistics())

	var sync frameSynchronizer
	var validate func([]byte) error
	var decode func([]byte) (zh03b.Measurement, error)
	if mode == zh03b.ModeStreaming {
		sync = zh03b.NewStreamSynchronizer()
		validate = zh03b.ValidateStreamFrame
		decode = zh03b.DecodeStreamFrame
	} else {
		sync = zh03b.NewReplySynchronizer()
		validate = zh03b.ValidateReplyFrame
		decode = zh03b.DecodeReplyFrame
	}

	setup := []zh03b.Command{zh03b.ModeCommand(mode)}
	if mode == zh03b.ModeRequestResponse {
		setup = append(setup, zh03b.CmdWake)
	}
	for _, c := range setup {
		if err := tx.Send(c); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	var lastRequest time.Time
	badFrames := 0
	done := transport.Done()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", probeTimeout)
			if badFrames > 0 {
				fmt.Fprintf(os.Stderr, "(%d frames failed validation)\n", badFrames)
			}
			os.Exit(1)

		case <-done:
			// Cancellation also stops the pump
			if ctx.Err() != nil {
				done = nil
				continue
			}
			fmt.Fprintf(os.Stderr, "Read error: %v\n", transport.Err())
			os.Exit(2)

		case now := <-ticker.C:
			if mode == zh03b.ModeRequestResponse && now.Sub(lastRequest) >= 2*time.Second {
				lastRequest = now
				if err := tx.Send(zh03b.CmdReadData); err != nil {
					fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
					os.Exit(2)
				}
			}

			for transport.Available() > 0 {
				b, err := transport.ReadByte()
				if err != nil {
					break
				}
				frame, ok := sync.Feed(b)
				if !ok {
					continue
				}
				if err := validate(frame); err != nil {
					badFrames++
					logger.Debug().Err(err).Msg("frame failed validation")
					continue
				}
				m, err := decode(frame)
				if err != nil {
					badFrames++
					continue
				}

				if skipped := sync.Skipped(); skipped > 0 {
					fmt.Printf("(skipped %d bytes before sync)\n", skipped)
				}
				fmt.Printf("SUCCESS: Received valid frame\n")
				fmt.Printf("  %s\n", zh03b.FormatFrame(frame))
				fmt.Printf("  PM1.0=%d PM2.5=%d PM10=%d µg/m³\n", m.PM1_0, m.PM2_5, m.PM10)
				os.Exit(0)
			}
		}
	}
}
