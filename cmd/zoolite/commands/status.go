package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a zoolite node is healthy",
	Long: `Query a running zoolite node's /healthz endpoint and report its
session id, or the reason it could not be reached.

Examples:
  # Check the default metrics listen address
  zoolite status

  # Check a node listening elsewhere
  zoolite status --addr localhost:9090`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "localhost:9090", "host:port the node's metrics/healthz server listens on")
	rootCmd.AddCommand(statusCmd)
}

type healthzResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", statusAddr))
	if err != nil {
		return fmt.Errorf("zoolite node at %s is unreachable: %w", statusAddr, err)
	}
	defer resp.Body.Close()

	var health healthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", statusAddr, err)
	}

	if health.Status != "ok" {
		return fmt.Errorf("zoolite node at %s reports unhealthy: %s", statusAddr, health.Error)
	}

	fmt.Printf("zoolite node at %s is healthy (session %s)\n", statusAddr, health.SessionID)
	return nil
}
