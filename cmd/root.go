// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/pmscope/pkg/zh03b"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Simulated sensor
	simulate bool

	// Engine flags
	modeName       string
	updateInterval time.Duration
	warmUp         time.Duration
	readTimeout    time.Duration
	settleDelay    time.Duration
	stabilization  time.Duration
	reject256      bool

	// Output flags
	logLevel string
	logJSON  bool
	noColor  bool

	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "pmscope",
	Short: "ZH03B Particulate Matter Sensor Tool",
	Long: `pmscope - A CLI tool for reading and diagnosing Winsen ZH03B laser
particulate-matter sensors.

Drives the sensor in streaming mode (the sensor pushes a frame every second)
or request/response mode (the host wakes the sensor, waits for warm-up,
requests one reading and puts it back to sleep), and prints PM1.0, PM2.5 and
PM10 concentrations in µg/m³.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]
  Simulated: --simulate

The serial port may also be given in the PMSCOPE_PORT environment variable.
For WebSocket authentication, the password is read from the PMSCOPE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupOutput,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", zh03b.BaudRate, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use an emulated sensor instead of hardware")

	// Engine flags
	rootCmd.PersistentFlags().StringVar(&modeName, "mode", "streaming", "Sensor mode: streaming or qa")
	rootCmd.PersistentFlags().DurationVar(&updateInterval, "interval", zh03b.DefaultUpdateInterval, "Measurement interval (qa mode)")
	rootCmd.PersistentFlags().DurationVar(&warmUp, "warmup", zh03b.DefaultWarmUp, "Fan and laser warm-up before a read (qa mode)")
	rootCmd.PersistentFlags().DurationVar(&readTimeout, "read-timeout", zh03b.DefaultReadTimeout, "Timeout for a read reply (qa mode)")
	rootCmd.PersistentFlags().DurationVar(&settleDelay, "settle", zh03b.DefaultSettleDelay, "Delay between a read and sleep (qa mode)")
	rootCmd.PersistentFlags().DurationVar(&stabilization, "stabilization", zh03b.DefaultStabilization, "Input is ignored for this long after setup")
	rootCmd.PersistentFlags().BoolVar(&reject256, "reject-256", false, "Drop qa readings containing exactly 256")

	// Output flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// setupOutput configures logging and styles before any command runs
func setupOutput(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return errors.Wrapf(err, "invalid --log-level %q", logLevel)
	}

	if logJSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05.000",
			NoColor:    noColor,
		}).With().Timestamp().Logger()
	}
	logger = logger.Level(level)

	setupStyles(noColor)
	return nil
}

// engineOptions maps the persistent flags onto engine options
func engineOptions(extra ...zh03b.Option) ([]zh03b.Option, error) {
	mode, err := zh03b.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	opts := []zh03b.Option{
		zh03b.WithMode(mode),
		zh03b.WithUpdateInterval(updateInterval),
		zh03b.WithWarmUp(warmUp),
		zh03b.WithReadTimeout(readTimeout),
		zh03b.WithSettleDelay(settleDelay),
		zh03b.WithStabilization(stabilization),
		zh03b.WithReject256(reject256),
		zh03b.WithLogger(logger),
	}
	return append(opts, extra...), nil
}
