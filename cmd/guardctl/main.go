package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	xhttp "TradeGuard/pkg/http"
)

var (
	addr    string
	timeout time.Duration
	asJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Inspect and steer a running tradeguard instance",
	Long: `guardctl talks to the tradeguard admin API.

Examples:
  guardctl status
  guardctl status execution --json
  guardctl force execution panic --reason "exchange incident"
  guardctl endpoints
  guardctl activate binance-ws-2`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", envOr("TRADEGUARD_ADDR", "http://localhost:8090"), "Admin API base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print raw JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func client() *xhttp.Client {
	return xhttp.NewClient(xhttp.WithBaseURL(addr), xhttp.WithTimeout(timeout))
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func fail(err error) error {
	return fmt.Errorf("guardctl: %w", err)
}
