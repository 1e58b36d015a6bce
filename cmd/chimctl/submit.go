package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// submitCmd submits an objective from a file or stdin
var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Submit an objective for orchestration",
	Long: `Submit an objective (JSON) to the chimerad daemon and print the run ID.

The objective names a principal, a budget ceiling, and the steps with their
dependencies. Task IDs are optional; missing ones are generated.

Examples:
  # Submit an objective file
  chimctl submit campaign.json

  # Submit from stdin
  cat campaign.json | chimctl submit -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

// SubmitResponse matches internal/http/server.go SubmitResponse
type SubmitResponse struct {
	RunID string `json:"run_id"`
}

// runSubmit handles the submit command
func runSubmit(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	var objective map[string]any
	if err := json.Unmarshal(content, &objective); err != nil {
		return fmt.Errorf("objective is not valid JSON: %w", err)
	}

	var resp SubmitResponse
	if err := postJSON("/api/v1/objectives", objective, &resp); err != nil {
		return err
	}

	fmt.Printf("Run: %s\n", resp.RunID)
	return nil
}

// runsCmd lists runs or shows one run
var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List runs or show one run's status",
	Long: `List all runs, or show the full status of a single run including
per-task states, failure reasons, and remaining budget.

Examples:
  # List all runs
  chimctl runs

  # Show one run
  chimctl runs 2f4c9f2e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

// runRuns handles the runs command
func runRuns(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		var status map[string]any
		if err := getJSON("/api/v1/runs/"+args[0], &status); err != nil {
			return err
		}
		return printJSON(status)
	}

	var runs []map[string]any
	if err := getJSON("/api/v1/runs", &runs); err != nil {
		return err
	}
	return printJSON(runs)
}

// cancelCmd cancels a run
var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run",
	Long: `Cancel a run. Non-terminal tasks are abandoned; results already
produced are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

// runCancel handles the cancel command
func runCancel(cmd *cobra.Command, args []string) error {
	if err := postJSON("/api/v1/runs/"+args[0]+"/cancel", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Run %s cancelled\n", args[0])
	return nil
}

// taskCmd shows one task
var taskCmd = &cobra.Command{
	Use:   "task <task-id>",
	Short: "Show a task's state and last result",
	Args:  cobra.ExactArgs(1),
	RunE:  runTask,
}

// runTask handles the task command
func runTask(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	if err := getJSON("/api/v1/tasks/"+args[0], &resp); err != nil {
		return err
	}
	return printJSON(resp)
}
