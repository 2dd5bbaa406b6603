package main

import (
	"fmt"
	"os"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/format"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/timeutil"

	"github.com/spf13/cobra"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List the scheduled rest and task windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		outputFlag, _ := cmd.Flags().GetString("output")
		outputFormat, err := format.ParseOutputFormat(outputFlag)
		if err != nil {
			return err
		}
		chatID, _ := cmd.Flags().GetInt64("chat")
		includePast, _ := cmd.Flags().GetBool("all")

		dataDir, err := storage.ResolveDataDir(cfg.Paths.DataDir)
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}

		store := schedule.NewStore(storage.WindowsPath(dataDir), clock.System())
		var windows []schedule.TimeWindow
		if chatID != 0 {
			windows = store.ListWindows(chatID, includePast)
		} else {
			windows = store.IterWindows(includePast)
		}

		times := timeutil.NewFormatter(cfg.Display.UTCOffsetHours)
		formatter, err := format.NewFormatterFactory(times).Create(outputFormat)
		if err != nil {
			return err
		}
		out, err := formatter.FormatWindows(windows)
		if err != nil {
			return fmt.Errorf("failed to format windows: %w", err)
		}

		fmt.Fprintln(os.Stdout, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(windowsCmd)
	windowsCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
	windowsCmd.Flags().Int64("chat", 0, "only show windows for this chat id")
	windowsCmd.Flags().Bool("all", false, "include past windows")
}
