// Package main is the entry point of the coauthor API server and its
// maintenance commands.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"coauthor/api/internal/config"
	"coauthor/api/internal/logging"
)

var flagConfPath string

var rootCmd = &cobra.Command{
	Use:          "coauthor",
	Short:        "Collaborative document review API",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfPath, "config", "c", "", "Config file path (YAML)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newBlocksCmd())
	rootCmd.AddCommand(newReindexCmd())
	rootCmd.AddCommand(newInvitesCmd())
}

// loadConfig reads the configuration and applies its logging settings.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfPath)
	if err != nil {
		return config.Config{}, err
	}
	logging.SetJSON(cfg.LogJSON)
	if err := logging.SetLogLevel(cfg.LogLevel); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
