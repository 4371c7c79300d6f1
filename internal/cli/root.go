// Package cli implements the tonbridge command tree.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"tonbridge.dev/go/tonbridge/internal/config"
)

var (
	version    = "dev"
	verboseLog bool
)

func SetVersion(v string) {
	version = v
}

// RootCmd is the root command, exported for documentation generation
var RootCmd = &cobra.Command{
	Use:   "tonbridge",
	Short: "TON Connect bridge engine for headless wallets",
	Long: `tonbridge - TON Connect bridge engine for headless wallets

Pairs with dapps over an HTTP bridge relay, keeps encrypted sessions in
a local store, and routes transaction requests to the wallet for
approval or rejection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// For internal use, keep an alias
var rootCmd = RootCmd

func Execute() error {
	return RootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "verbose output")
}

// setupLogging configures the process-wide slog handler from config.
// The --verbose flag forces debug level regardless of config.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verboseLog {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
