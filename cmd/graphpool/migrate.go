package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"graphpool/internal/app"
)

var migrateSource string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and exit",
	Long: `Apply migrations for the configured engine (sqlite or pg) and exit.
Neo4j and SurrealDB have no migration support and only log a warning.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if migrateSource != "" {
			cfg.Migrations = migrateSource
		}

		a := app.New(cfg)
		defer func() { _ = a.Close() }()

		if err := a.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSource, "source", "", "migrations source URL, e.g. file://migrations/sqlite (default $MIGRATIONS_PATH)")
}
