package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openrelay/claude-relay/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay service",
	Long:  `Start the relay server in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found at %s", cfgMgr.GetPath())
		return fmt.Errorf("run 'claude-relay config init' first")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose, cfg.Logging.Level)

	color.Green("Starting %s v%s...", AppName, Version)
	logger.WithFields(map[string]any{
		"host":      cfg.Server.Host,
		"port":      cfg.Server.Port,
		"providers": len(cfg.Providers),
		"primary":   cfg.Routing.Primary,
	}).Info("starting server")

	srv, err := server.New(cfgMgr, logger)
	if err != nil {
		return err
	}
	return srv.Start()
}
