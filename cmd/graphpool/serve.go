package main

import (
	"github.com/spf13/cobra"

	"graphpool/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the pool and serve the admin API",
	Long: `Open the configured engine, apply migrations when MIGRATIONS_PATH is set,
start the health probe and serve the admin API until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a := app.New(cfg)
	defer func() { _ = a.Close() }()

	return a.Serve(cmd.Context())
}
