package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the relay configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	if err := cfgMgr.WriteExample(); err != nil {
		return err
	}

	color.Green("Configuration written to: %s", cfgMgr.GetPath())
	color.Cyan("Edit it, set OPENAI_API_KEY, then run: claude-relay start")
	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'claude-relay config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-12s: %s\n", "Host", cfg.Server.Host)
	fmt.Printf("  %-12s: %d\n", "Port", cfg.Server.Port)
	fmt.Printf("  %-12s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-12s: %s\n", "Primary", cfg.Routing.Primary)
	if len(cfg.Routing.Fallbacks) > 0 {
		fmt.Printf("  %-12s: %s\n", "Fallbacks", strings.Join(cfg.Routing.Fallbacks, ", "))
	}

	fmt.Println("\nProviders:")
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := cfg.Providers[name]
		fmt.Printf("  - Name: %s\n", name)
		fmt.Printf("    Type: %s\n", p.Type)
		fmt.Printf("    Base URL: %s\n", p.BaseURL)
		fmt.Printf("    API Key: %s\n", maskString(p.APIKey))
		fmt.Printf("    Model: %s\n", p.Model)
		fmt.Println()
	}

	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	data, err := os.ReadFile(cfgMgr.GetPath())
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	if _, err := cfgMgr.Load(); err != nil {
		color.Red("Configuration validation failed:")
		fmt.Printf("  - %v\n", err)
		return fmt.Errorf("configuration validation failed")
	}

	// Warn on placeholders that expanded to nothing.
	if strings.Contains(string(data), "${") {
		for _, line := range strings.Split(string(data), "\n") {
			if i := strings.Index(line, "${"); i >= 0 {
				name := line[i+2:]
				if j := strings.Index(name, "}"); j >= 0 {
					if os.Getenv(name[:j]) == "" {
						color.Yellow("Warning: environment variable %s is not set", name[:j])
					}
				}
			}
		}
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
