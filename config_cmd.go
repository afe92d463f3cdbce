package main

import (
	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"decline-notifier/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(configPath)
		if err != nil {
			return err
		}
		if _, err := config.LoadWithViper(v); err != nil {
			return err
		}
		settings := v.AllSettings()
		if redis, ok := settings["redis"].(map[string]any); ok && redis["password"] != "" {
			redis["password"] = "********"
		}
		return errors.Wrap(toml.NewEncoder(cmd.OutOrStdout()).Encode(settings), "encode config")
	},
}
