package main

import (
	"fmt"
	"os"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "secretary",
	Short: "Notion Telegram secretary bot",
	Long:  `Secretary is a proactive Telegram assistant that tracks tasks, guards rest windows and syncs with Notion.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.secretary/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("paths.data_dir", "", "data directory (default is $HOME/.secretary)")
}
