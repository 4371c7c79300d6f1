package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the bridge engine in the foreground",
	Long: `Run the bridge engine in the foreground.

Restores connections from the store, subscribes to the bridge event
stream, and routes incoming requests until interrupted. Approve or
reject queued requests from another terminal with 'tonbridge requests'.

SIGHUP re-syncs the stream and drops cached manifests, the same path a
wallet takes when it returns to the foreground.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(true)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := eng.product.RestartSync(ctx); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if eng.paths.PIDFile != "" {
		if err := os.WriteFile(eng.paths.PIDFile, []byte(fmt.Sprint(os.Getpid())), 0600); err != nil {
			slog.Warn("write pid file", "error", err)
		}
		defer os.Remove(eng.paths.PIDFile)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	slog.Info("bridge engine running", "bridge", eng.cfg.Bridge.URL)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("reloading stream")
			if err := eng.product.HandleForeground(ctx); err != nil {
				slog.Error("reload stream", "error", err)
			}
		default:
			slog.Info("shutting down", "signal", sig.String())
			return nil
		}
	}
	return nil
}
