package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/daemon"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/daemon/components"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the secretary in background daemon mode",
	Long:  `Starts the secretary as a long-running service: the Telegram transport, the reminder and proactivity timers, the session monitor and the background Notion sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}
		daemonMgr.SetForceCleanup(forceClean)

		storeComp := components.NewStoreComponent(cfg, daemonMgr.DataDir())
		engineComp := components.NewEngineComponent(cfg, daemonMgr.DataDir(), storeComp)
		syncComp := components.NewSyncComponent(cfg, storeComp)
		adaptersComp := components.NewAdaptersComponent(cfg, storeComp, engineComp, syncComp)

		daemonMgr.AddComponent(storeComp)
		daemonMgr.AddComponent(engineComp)
		daemonMgr.AddComponent(syncComp)
		daemonMgr.AddComponent(adaptersComp)

		slog.Info("Secretary daemon starting up...", "data_dir", daemonMgr.DataDir())
		err = daemonMgr.Start(context.Background())
		if err != nil {
			// Cancellation via signal/context is a graceful shutdown case for CLI.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Secretary daemon stopped gracefully")
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Secretary daemon stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
