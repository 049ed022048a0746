package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagRelayURL        string
	flagPollInterval    time.Duration
	flagStragglerPasses int
	flagLogLevel        string
)

var rootCmd = &cobra.Command{
	Use:   "signalhop",
	Short: "Peer-to-peer rendezvous client",
	Long: `signalhop connects two peers through a signal relay: whichever side
joins an empty room becomes the initiator, the other answers, and once the
exchange completes the peers talk directly over a data channel.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRelayURL, "relay", "http://127.0.0.1:8080", "relay base URL")
	rootCmd.PersistentFlags().DurationVar(&flagPollInterval, "poll-interval", 2*time.Second, "signal poll cadence")
	rootCmd.PersistentFlags().IntVar(&flagStragglerPasses, "straggler-passes", 3, "extra candidate polls after connecting")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(sweepCmd)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(flagLogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", flagLogLevel)
	}
	// Logs go to stderr; stdout belongs to the data channel pipe.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
