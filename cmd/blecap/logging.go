package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecap/pkg/config"
)

// loadConfig reads --config, or returns defaults when it is not set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// configureLogger builds the logger from the configuration; --log-level,
// when given, overrides the configured level.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		switch lvl {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = lvl
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", lvl)
		}
	}
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}
