package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/loqa-highlight/internal/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "loqa-highlight",
	Short:         "Streaming transcript highlighter",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (default: built-in defaults)")
	rootCmd.AddCommand(daemonCmd, askCmd, referenceCmd, versionCmd)
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
