package main

import (
	"log/slog"
	"os"

	"fleet_ledger/internal/config"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	outputFormat string
)

func initLogger(cfg *config.Config) {
	var logLevel slog.Level
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	// Command output owns stdout, so logs go to stderr.
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// loadConfig reads configuration and installs the logger it describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	initLogger(cfg)
	return cfg, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "fleet_ledger",
		Short:         "Maintenance ledger for a fleet of small aircraft",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json or table")

	rootCmd.AddCommand(
		newServeCmd(),
		newDueCmd(),
		newAirworthinessCmd(),
		newHistoryCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		// Use basic logging since the configured logger may not exist yet
		basicLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		basicLogger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
