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
	sendWait time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <command>...",
	Short: "Send raw commands to the sensor and dump the replies",
	Long: `Send one or more ZH03B commands and hex-dump whatever the sensor returns.

Commands:
  read       Request one reading (qa mode only)
  qa         Switch to request/response mode
  streaming  Switch to streaming mode
  sleep      Turn the fan and laser off
  wake       Turn the fan and laser on

Each command is followed by a --wait window in which received frames are
printed with their checksum annotated. Bytes that do not form a frame are
printed as a single raw line.

Exit codes:
  0 - All commands sent and at least one frame received
  1 - Commands sent but nothing received
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendWait, "wait", time.Second, "How long to collect replies after each command")
}

func runSend(cmd *cobra.Command, args []string) error {
	commands := make([]zh03b.Command, 0, len(args))
	for _, arg := range args {
		c, err := zh03b.ParseCommand(arg)
		if err != nil {
			return err
		}
		commands = append(commands, c)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	transport := link.NewBuffered(conn)
	transport.Start(ctx)
	defer transport.Close()

	fmt.Println(titleStyle.Render("pmscope - Send"))
	fmt.Printf("Connection: %s\n\n", connInfo)

	tx := zh03b.NewTransmitter(transport, logger, zh03b.NewStatistics())
	frames := 0

	for i, c := range commands {
		fmt.Printf("%s %s\n", labelStyle.Render(fmt.Sprintf("[%d/%d]", i+1, len(commands))), zh03b.FormatCommand(c))
		if err := tx.Send(c); err != nil {
			fmt.Fprintf(os.Stderr, "SEND FAILED: %v\n", err)
			os.Exit(2)
		}

		time.Sleep(sendWait)

		var received []byte
		for transport.Available() > 0 {
			b, err := transport.ReadByte()
			if err != nil {
				break
			}
			received = append(received, b)
		}
		if err := transport.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "READ FAILED: %v\n", err)
			os.Exit(2)
		}

		if len(received) == 0 {
			fmt.Println(headerStyle.Render("  (no reply)"))
			continue
		}
		for _, chunk := range splitFrames(received) {
			if chunk.frame {
				frames++
				fmt.Printf("  %s\n", valueStyle.Render(zh03b.FormatFrame(chunk.data)))
			} else {
				fmt.Printf("  %s\n", warningStyle.Render(fmt.Sprintf("raw: % X", chunk.data)))
			}
		}
	}

	if frames == 0 {
		os.Exit(1)
	}
	return nil
}

// receivedChunk is a run of received bytes, either one whole frame or
// bytes between frames
type receivedChunk struct {
	data  []byte
	frame bool
}

// splitFrames cuts received bytes into streaming frames, 9-byte replies
// and leftover runs
func splitFrames(data []byte) []receivedChunk {
	var chunks []receivedChunk
	var raw []byte

	flushRaw := func() {
		if len(raw) > 0 {
			chunks = append(chunks, receivedChunk{data: raw})
			raw = nil
		}
	}

	for i := 0; i < len(data); {
		size := 0
		switch {
		case data[i] == zh03b.StreamHeader1 && i+1 < len(data) && data[i+1] == zh03b.StreamHeader2:
			size = zh03b.StreamFrameSize
		case data[i] == zh03b.ReplyStartByte:
			size = zh03b.ReplyFrameSize
		}

		if size > 0 && i+size <= len(data) {
			flushRaw()
			chunks = append(chunks, receivedChunk{data: data[i : i+size], frame: true})
			i += size
			continue
		}
		raw = append(raw, data[i])
		i++
	}
	flushRaw()

	return chunks
}
