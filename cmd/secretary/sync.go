package main

import (
	"fmt"
	"os"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/notion"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull tasks and logs from Notion once",
	Long:  `Runs a single Notion sync against the local data directory and prints progress. The daemon must not be running; it holds the data directory lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		apiKey := cfg.Notion.APIKey
		if apiKey == "" {
			return fmt.Errorf("notion.api_key is not set (or export NOTION_API_KEY)")
		}
		if cfg.Notion.TaskDatabaseID == "" {
			return fmt.Errorf("notion.task_database_id is not set")
		}

		dataDir, err := storage.ResolveDataDir(cfg.Paths.DataDir)
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		if err := storage.EnsureLayout(dataDir); err != nil {
			return fmt.Errorf("prepare data dir: %w", err)
		}

		lock, err := storage.NewFileLock(dataDir, storage.DefaultFileLockConfig())
		if err != nil {
			return fmt.Errorf("data directory is in use (is the daemon running?): %w", err)
		}
		defer lock.Unlock()

		timeout, err := config.DurationOrDefault(cfg.Notion.RequestTimeout, config.DefaultNotionRequestTimeout)
		if err != nil {
			return fmt.Errorf("parse notion request timeout: %w", err)
		}

		clk := clock.System()
		service := notion.NewSyncService(notion.SyncOptions{
			Client:         notion.NewClient(apiKey, timeout),
			Tasks:          task.NewRepository(storage.TasksPath(dataDir), storage.CustomTasksPath(dataDir)),
			Logs:           logbook.NewStore(storage.LogbookPath(dataDir), clk),
			TaskDatabaseID: cfg.Notion.TaskDatabaseID,
			LogDatabaseID:  cfg.Notion.LogDatabaseID,
			Clock:          clk,
		})

		summary, err := service.Sync(cmd.Context(), "cli", true, func(message string) {
			fmt.Fprintln(os.Stdout, message)
		})
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Fprintf(os.Stdout, "Sync complete: %s\n", summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
