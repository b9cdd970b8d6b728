package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"graphpool/internal/config"
	"graphpool/internal/shared"
)

const (
	exitError  = 1
	exitConfig = 2
	exitDown   = 3
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "graphpool",
	Short: "Connection pool and admin API for graph databases",
	Long: `graphpool keeps a bounded pool of native connections to SQLite,
PostgreSQL, Neo4j or SurrealDB and serves an admin HTTP API on top of it.

Without a subcommand it behaves like "graphpool serve".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(checkCmd)
}

// Execute runs the root command and cancels its context on SIGINT or SIGTERM.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (config.Config, error) {
	return config.LoadFrom(configPath)
}

func exitCode(err error) int {
	var checkErr *checkError
	switch {
	case errors.As(err, &checkErr):
		return exitDown
	case shared.IsValidation(err):
		return exitConfig
	default:
		return exitError
	}
}
