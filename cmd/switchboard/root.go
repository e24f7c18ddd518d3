package main

import (
	"fmt"
	"os"

	"github.com/aretw0/switchboard/internal/cli"
	"github.com/aretw0/switchboard/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Switchboard runs data-driven call flows",
	Long: `Switchboard compiles declarative state machine definitions into call flows and drives
them from Asterisk ARI events, an HTTP control surface or MCP tools.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (default switchboard.yaml when present)")
	rootCmd.PersistentFlags().String("dir", "", "Definitions directory (overrides definitions.dir)")
	rootCmd.PersistentFlags().String("backend", "", "Definitions backend: file, redis, loam or memory")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
}

// loadConfig reads the configuration and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.Definitions.Dir = dir
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Definitions.Backend = backend
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, cfg.Validate()
}

// buildApp wires the app for one command. The caller must Close it.
func buildApp(cmd *cobra.Command) (*cli.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := cli.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	app, err := cli.Build(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing switchboard: %w", err)
	}
	return app, nil
}
