package main

import (
	"fmt"
	"os"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/format"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/timeutil"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the locally cached tasks",
	Long:  `Prints the active tasks from the local cache: the synced Notion tasks plus any tasks created from chat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		outputFlag, _ := cmd.Flags().GetString("output")
		outputFormat, err := format.ParseOutputFormat(outputFlag)
		if err != nil {
			return err
		}

		dataDir, err := storage.ResolveDataDir(cfg.Paths.DataDir)
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}

		repo := task.NewRepository(storage.TasksPath(dataDir), storage.CustomTasksPath(dataDir))
		tasks := repo.ListActive()

		times := timeutil.NewFormatter(cfg.Display.UTCOffsetHours)
		formatter, err := format.NewFormatterFactory(times).Create(outputFormat)
		if err != nil {
			return err
		}
		out, err := formatter.FormatTasks(tasks)
		if err != nil {
			return fmt.Errorf("failed to format tasks: %w", err)
		}

		fmt.Fprintln(os.Stdout, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
}
