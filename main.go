package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"decline-notifier/internal/config"
	"decline-notifier/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "decline-notifier",
	Short: "Reliable delivery of call-declined notifications",
	Long: `decline-notifier queues one "call declined" notification per call and
delivers it to the remote endpoint with bounded exponential retry.

Available commands:
  serve    - Run the HTTP API and the delivery workers
  enqueue  - Queue a decline from the command line
  config   - Print the effective configuration`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file (default ./decline.toml)")
	rootCmd.AddCommand(serveCmd, enqueueCmd, configCmd)
}

// loadConfig reads configuration and installs the logger it describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(cfg.Log.Level, cfg.Log.JSON); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
