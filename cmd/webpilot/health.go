package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// 🏥 health 命令
// =============================================================================

func newHealthCmd() *cobra.Command {
	var (
		addr  string
		ready bool
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/health"
			if ready {
				path = "/ready"
			}
			return checkHealth(cmd.Context(), &http.Client{Timeout: 5 * time.Second}, addr, path, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Server address")
	cmd.Flags().BoolVar(&ready, "ready", false, "Run readiness checks instead of liveness")
	return cmd
}

func checkHealth(ctx context.Context, client *http.Client, addr, path string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("health check failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintln(out, "OK")
	return nil
}
