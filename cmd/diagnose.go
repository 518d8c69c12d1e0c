// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/pmscope/pkg/link"
	"github.com/Thermoquad/pmscope/pkg/zh03b"
	"github.com/spf13/cobra"
)

var (
	showAll            bool
	diagStatsInterval  time.Duration
	diagStuckThreshold int
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Detect and analyze corrupted frames and anomalous readings",
	Long: `Track frame errors, anomalous values and missing replies with statistics.

This command runs the sensor like monitor does and explains every anomaly:
  - Checksum mismatches, with the offending frame dumped
  - Implausible concentrations (above 1000 µg/m³ by default)
  - Replies that are not data replies
  - Read requests that time out (qa mode)
  - Identical readings repeated many times in a row

By default, only anomalies are displayed. Use --show-all to display valid
readings too. Statistics are printed every --stats-interval and on exit.`,
	RunE: runDiagnose,
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
	diagnoseCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all readings (not just anomalies)")
	diagnoseCmd.Flags().DurationVar(&diagStatsInterval, "stats-interval", 10*time.Second, "Statistics update interval")
	diagnoseCmd.Flags().IntVar(&diagStuckThreshold, "stuck-after", 60, "Report a stuck sensor after this many identical readings")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	transport := link.NewBuffered(conn)
	defer transport.Close()

	fmt.Println(titleStyle.Render("pmscope - Diagnose"))
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %s\n", diagStatsInterval)
	if showAll {
		fmt.Printf("Display: All readings\n")
	} else {
		fmt.Printf("Display: Anomalies only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	synchronized := false
	opts, err := engineOptions(
		zh03b.WithReadingHandler(func(r zh03b.Reading) {
			if !synchronized {
				synchronized = true
				fmt.Println(labelStyle.Render("[SYNC] First valid reading received"))
				fmt.Println()
			}
			if showAll {
				fmt.Println(zh03b.FormatReading(r))
			}
		}),
		zh03b.WithWarningHandler(printAnomaly),
		zh03b.WithStuckObserver(diagStuckThreshold, printStuck),
	)
	if err != nil {
		return err
	}
	engine := zh03b.NewEngine(transport, opts...)

	err = runEngine(ctx, transport, engine, diagStatsInterval, nil)
	fmt.Println()
	fmt.Println(renderStatistics(engine.Statistics()))
	return err
}

// printAnomaly prints an engine warning with the details its type carries
func printAnomaly(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	kind := zh03b.Classify(err)
	fmt.Printf("[%s] %s %v\n", timestamp, errorStyle.Render(kind.String()+":"), err)

	var checksumErr *zh03b.ChecksumError
	var implausibleErr *zh03b.ImplausibleError
	var replyErr *zh03b.UnexpectedReplyError
	var timeoutErr *zh03b.TimeoutError

	switch {
	case errors.As(err, &checksumErr):
		fmt.Printf("  %s\n", zh03b.FormatFrame(checksumErr.Frame))

	case errors.As(err, &implausibleErr):
		m := implausibleErr.Measurement
		fmt.Printf("  Reading: PM1.0=%d PM2.5=%d PM10=%d\n", m.PM1_0, m.PM2_5, m.PM10)
		if implausibleErr.Suspicious {
			fmt.Println(warningStyle.Render("  Exactly 256 usually means a corrupted high byte"))
		}

	case errors.As(err, &replyErr):
		fmt.Printf("  Echo byte 0x%02X is not a data reply\n", replyErr.Echo)

	case errors.As(err, &timeoutErr):
		fmt.Println(warningStyle.Render("  Check wiring, or raise --warmup if the fan is slow to start"))
	}

	switch kind {
	case zh03b.AnomalyChecksum, zh03b.AnomalyImplausible, zh03b.AnomalyUnexpectedReply, zh03b.AnomalyFrameLength:
		fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
	default:
		fmt.Println()
	}
}

// printStuck reports a sensor repeating itself
func printStuck(m zh03b.Measurement, repeats int) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] %s same reading %d times in a row\n",
		timestamp, warningStyle.Render("STUCK:"), repeats)
	fmt.Printf("  PM1.0=%d PM2.5=%d PM10=%d\n\n", m.PM1_0, m.PM2_5, m.PM10)
}
