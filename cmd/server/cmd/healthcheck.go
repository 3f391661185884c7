package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	healthcheckTimeout int
	healthcheckURL     string
)

func newHealthcheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling the /readyz endpoint.

This command is used by Docker HEALTHCHECK to monitor container health.

Exit codes:
  0 - Server is healthy or degraded
  1 - Server is unhealthy or unreachable
  2 - Invalid response from server`,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := checkHealth(cmd.Context(), healthURL(), time.Duration(healthcheckTimeout)*time.Second)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Health check failed: %v\n", err)
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&healthcheckTimeout, "timeout", 5, "timeout in seconds")
	cmd.Flags().StringVar(&healthcheckURL, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/readyz)")
	return cmd
}

// HealthResponse matches the body served by /readyz.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks,omitempty"`
}

func healthURL() string {
	if healthcheckURL != "" {
		return healthcheckURL
	}
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = "3000"
	}
	return fmt.Sprintf("http://localhost:%s/readyz", port)
}

// checkHealth returns the exit code to use alongside any failure.
func checkHealth(ctx context.Context, url string, timeout time.Duration) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 1, fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 1, err
	}
	defer func() { _ = resp.Body.Close() }()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return 2, fmt.Errorf("parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || health.Status == "unhealthy" {
		return 1, fmt.Errorf("unhealthy: status %d (%s)", resp.StatusCode, health.Status)
	}
	return 0, nil
}
