package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"graphpool/internal/adapter/httpapi"
	"graphpool/internal/platform/httpclient"
	"graphpool/pkg/retry"
)

var (
	checkURL      string
	checkTimeout  time.Duration
	checkAttempts int
	checkStats    bool
	checkToken    string
)

// checkError marks a reachable-but-unhealthy or unreachable server.
type checkError struct {
	err error
}

func (e *checkError) Error() string { return "check failed: " + e.err.Error() }

func (e *checkError) Unwrap() error { return e.err }

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe a running server's /healthz",
	Long: `Call GET /healthz on a running graphpool and exit non-zero when the pool
is not open. Suitable as a container health check.

Exit codes: 0 healthy, 2 bad flags, 3 unhealthy or unreachable.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkURL, "url", "http://127.0.0.1:8080", "admin API base URL")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 3*time.Second, "overall timeout")
	checkCmd.Flags().IntVar(&checkAttempts, "attempts", 2, "attempts before giving up")
	checkCmd.Flags().BoolVar(&checkStats, "stats", false, "also print GET /stats as JSON")
	checkCmd.Flags().StringVar(&checkToken, "token", os.Getenv("GRAPHPOOL_TOKEN"), "bearer token for /stats (default $GRAPHPOOL_TOKEN)")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	rc := retry.DefaultConfig()
	rc.MaxAttempts = max(checkAttempts, 1)
	rc.InitialDelay = 100 * time.Millisecond
	rc.MaxDelay = time.Second

	opts := []httpclient.Option{
		httpclient.WithTimeout(checkTimeout),
		httpclient.WithRetry(rc),
	}
	if checkToken != "" {
		opts = append(opts, httpclient.WithHeaders(map[string]string{"Authorization": "Bearer " + checkToken}))
	}
	client := httpapi.NewClient(checkURL, httpclient.New(opts...))

	health, err := client.Health(ctx)
	if err != nil {
		return &checkError{err: err}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (pool %s)\n", health.Status, health.State)

	if !checkStats {
		return nil
	}
	stats, err := client.Stats(ctx)
	if err != nil {
		return &checkError{err: err}
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
