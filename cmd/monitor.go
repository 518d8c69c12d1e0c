// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/pmscope/pkg/link"
	"github.com/Thermoquad/pmscope/pkg/zh03b"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// tickInterval is how often the engine is polled
const tickInterval = 50 * time.Millisecond

var (
	monitorFormat        string
	monitorStatsInterval time.Duration
	monitorCount         int
	monitorStuck         int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Continuously display sensor readings",
	Long: `Continuously read PM1.0, PM2.5 and PM10 concentrations from the sensor.

In streaming mode every frame the sensor pushes is validated and printed. In
qa mode the sensor is woken every --interval, given --warmup to spin up,
asked for one reading and put back to sleep.

Output formats:
  text  Colored one-line readings (default)
  json  One JSON object per line
  cbor  A sequence of CBOR data items

Corrupted and implausible frames are dropped and reported as warnings on
stderr. Use --stats-interval to print link statistics periodically.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVarP(&monitorFormat, "format", "f", "text", "Output format: text, json or cbor")
	monitorCmd.Flags().DurationVar(&monitorStatsInterval, "stats-interval", 0, "Print statistics at this interval (0 = only on exit)")
	monitorCmd.Flags().IntVarP(&monitorCount, "count", "n", 0, "Exit after this many readings (0 = run until interrupted)")
	monitorCmd.Flags().IntVar(&monitorStuck, "stuck-after", 0, "Warn when this many identical readings arrive in a row (0 = off)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer, err := NewReadingWriter(monitorFormat, os.Stdout)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	transport := link.NewBuffered(conn)
	defer transport.Close()

	// Keep stdout clean for machine-readable formats
	var banner io.Writer = os.Stdout
	if monitorFormat != "text" {
		banner = os.Stderr
	}
	fmt.Fprintln(banner, titleStyle.Render("pmscope - Monitor"))
	fmt.Fprintf(banner, "Connection: %s\n", connInfo)
	fmt.Fprintf(banner, "Press Ctrl+C to exit\n\n")

	var readings int
	var writeErr error
	extra := []zh03b.Option{
		zh03b.WithReadingHandler(func(r zh03b.Reading) {
			if writeErr != nil {
				return
			}
			writeErr = writer.WriteReading(r)
			readings++
		}),
	}
	if monitorFormat == "text" {
		extra = append(extra, zh03b.WithWarningHandler(func(err error) {
			fmt.Println(formatWarning(err))
		}))
	}
	if monitorStuck > 0 {
		extra = append(extra, zh03b.WithStuckObserver(monitorStuck, nil))
	}

	opts, err := engineOptions(extra...)
	if err != nil {
		return err
	}
	engine := zh03b.NewEngine(transport, opts...)

	err = runEngine(ctx, transport, engine, monitorStatsInterval, func() error {
		if writeErr != nil {
			return writeErr
		}
		if monitorCount > 0 && readings >= monitorCount {
			return errStopEngine
		}
		return nil
	})
	fmt.Fprintln(os.Stderr, renderStatistics(engine.Statistics()))
	return err
}

// errStopEngine ends runEngine without reporting an error
var errStopEngine = errors.New("stop")

// runEngine pumps transport and ticks engine until ctx is done or afterTick
// returns an error. A link failure ends the run with that failure.
// Statistics go to stderr every statsInterval, if set.
func runEngine(ctx context.Context, transport *link.Buffered, engine *zh03b.Engine, statsInterval time.Duration, afterTick func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return transport.Run(gctx)
	})

	g.Go(func() error {
		defer cancel()

		engine.Setup()
		logger.Info().Str("state", zh03b.FormatState(engine)).Msg("sensor configured")

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		var statsC <-chan time.Time
		if statsInterval > 0 {
			statsTicker := time.NewTicker(statsInterval)
			defer statsTicker.Stop()
			statsC = statsTicker.C
		}

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-statsC:
				fmt.Fprintln(os.Stderr, renderStatistics(engine.Statistics()))
			case <-ticker.C:
				engine.Tick()
				if afterTick == nil {
					continue
				}
				if err := afterTick(); err != nil {
					if errors.Is(err, errStopEngine) {
						return nil
					}
					return err
				}
			}
		}
	})

	return g.Wait()
}
