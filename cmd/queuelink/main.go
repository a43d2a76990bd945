// queuelink keeps a live connection to the hospital queue stream and serves
// the broadcast hub that feeds it.
//
// Usage:
//
//	queuelink watch --config configs/queuelink.yaml
//	queuelink hub --config configs/queuelink.yaml
//	queuelink token --subject staff-1
//	queuelink version
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rickgao/queuelink/internal/config"
	"github.com/rickgao/queuelink/internal/version"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "queuelink",
		Short: "Hospital queue stream client and broadcast hub",
		Long: `queuelink maintains a persistent WebSocket connection to the queue
stream, reconnecting on a fixed schedule, and optionally archives routed
updates to PostgreSQL. The hub command serves the stream to patient, staff
and admin clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults apply when empty)")

	rootCmd.AddCommand(
		watchCmd(&configPath),
		hubCmd(&configPath),
		tokenCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "queuelink", version.String())
		},
	}
}

// loadConfig loads and validates path, or returns validated defaults when
// path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	return config.LoadAndValidate(path)
}

// newLogger builds the process logger from the log section and installs it
// as the slog default.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
