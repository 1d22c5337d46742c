package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ancsbridge/pkg/config"
)

// loadConfig reads --config, or returns the defaults when it is not set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// configureLogger creates a logger from cfg, overridden by --log-level or the verbose flag.
// --log-level takes precedence.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		level, err := logrus.ParseLevel(logLevelStr)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", logLevelStr)
		}
		logger.SetLevel(level)
		return logger, nil
	}

	if verboseFlagName != "" {
		if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
			logger.SetLevel(logrus.DebugLevel)
		}
	}
	return logger, nil
}
