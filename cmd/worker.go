package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers such as the expired session and authorization code cleanup.`,
}

var cleanupWorkerCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired sessions and authorization codes",
	Long:  `Periodically delete expired login sessions and OIDC authorization codes. With --once it runs a single pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		startCleanupWorker()
	},
}

var (
	cleanupInterval time.Duration
	cleanupOnce     bool
)

func startCleanupWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	logger := deps.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCleanup(ctx, deps)
	if cleanupOnce {
		return
	}

	logger.Info("cleanup worker is running. Press Ctrl+C to stop.", "interval", cleanupInterval)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCleanup(ctx, deps)
		case <-ctx.Done():
			logger.Info("cleanup worker shutdown complete")
			return
		}
	}
}

func runCleanup(ctx context.Context, deps *Dependencies) {
	sessions, err := deps.Auth.PurgeExpiredSessions(ctx)
	if err != nil {
		deps.Logger.Error("failed to purge expired sessions", "error", err)
	}
	codes, err := deps.OIDC.PurgeExpiredCodes(ctx)
	if err != nil {
		deps.Logger.Error("failed to purge expired authorization codes", "error", err)
	}
	deps.Logger.Info("cleanup pass finished", "sessions_deleted", sessions, "codes_deleted", codes)
}

func init() {
	cleanupWorkerCmd.Flags().DurationVar(&cleanupInterval, "interval", 15*time.Minute, "time between cleanup passes")
	cleanupWorkerCmd.Flags().BoolVar(&cleanupOnce, "once", false, "run a single pass and exit")

	workerCmd.AddCommand(cleanupWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
