// Package main implements the chimctl CLI for manual operations against the
// chimerad HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the chimerad HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chimctl",
	Short: "CLI for chimerad orchestration daemon operations",
	Long: `chimctl is a command-line interface for interacting with the chimerad daemon.
It provides commands for submitting objectives, inspecting runs and tasks,
deciding escalated reviews, and re-enabling disabled executor kinds.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "chimerad server URL")
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(reviewsCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(kindsCmd)
	rootCmd.AddCommand(healthCmd)
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check chimerad server health",
	Long: `Check the health status of the chimerad HTTP server.

Examples:
  # Check health
  chimctl health

  # Check health on a different server
  chimctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var resp HealthResponse
	if err := getJSON("/health", &resp); err != nil {
		return err
	}
	fmt.Printf("Server Status: %s\n", resp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// httpClient is shared by all commands.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// getJSON GETs a path and decodes the JSON response into out.
func getJSON(path string, out any) error {
	url := serverURL + path
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON POSTs a JSON body to a path. A nil out skips response decoding.
func postJSON(path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := serverURL + path
	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError turns a non-2xx response into an error carrying the body.
func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

// printJSON pretty-prints a value to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
