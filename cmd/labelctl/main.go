package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	flagServer  string
	flagTimeout time.Duration
	flagVerbose bool

	client *apiClient
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", envOr("LABELSCAN_SERVER", "http://localhost:8080"), "api-service base URL")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initClient

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("labelctl failed", slog.Any("error", err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "labelctl",
	Short:        "Submit product label images and inspect analysis jobs",
	SilenceUsage: true,
}

func initClient(cmd *cobra.Command, _ []string) error {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))

	client = newAPIClient(flagServer, flagTimeout)
	slog.Debug("Using api-service", slog.String("server", flagServer))
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
