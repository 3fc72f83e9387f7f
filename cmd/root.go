package cmd

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openrelay/claude-relay/internal/config"
)

const (
	AppName = "claude-relay"
	Version = "0.3.0"
)

var (
	logger  *logrus.Logger
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.WithError(err).Fatal("failed to get home directory")
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:     "claude-relay",
	Short:   "Claude Relay - LLM protocol translation server",
	Long:    `A relay server that accepts Claude-style message requests and translates them to heterogeneous upstream providers, with ordered fallback.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("command execution failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(verbose bool, level string) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}
