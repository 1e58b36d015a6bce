package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reviewStatusFilter string

// reviewsCmd lists escalated reviews
var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List escalated reviews",
	Long: `List reviews escalated by the safety gate, newest first.

Examples:
  # Pending reviews awaiting a decision
  chimctl reviews --status pending

  # Everything, including decided reviews
  chimctl reviews`,
	RunE: runReviews,
}

func init() {
	reviewsCmd.Flags().StringVar(&reviewStatusFilter, "status", "", "filter by status (pending, approved, rejected)")
}

// runReviews handles the reviews command
func runReviews(cmd *cobra.Command, args []string) error {
	path := "/api/v1/reviews"
	if reviewStatusFilter != "" {
		path += "?status=" + reviewStatusFilter
	}

	var reviews []map[string]any
	if err := getJSON(path, &reviews); err != nil {
		return err
	}
	return printJSON(reviews)
}

var (
	decideApprove   bool
	decideReject    bool
	decideDecidedBy string
)

// decideCmd records a decision on a pending review
var decideCmd = &cobra.Command{
	Use:   "decide <review-id>",
	Short: "Approve or reject a pending review",
	Long: `Record a human decision on a pending review. Exactly one of
--approve or --reject is required; the first decision on a review wins.

Examples:
  chimctl decide 7b1d... --approve --by operator@example.com
  chimctl decide 7b1d... --reject --by operator@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().BoolVar(&decideApprove, "approve", false, "approve the reviewed result")
	decideCmd.Flags().BoolVar(&decideReject, "reject", false, "reject the reviewed result")
	decideCmd.Flags().StringVar(&decideDecidedBy, "by", "", "identity recorded as the decider (required)")
	_ = decideCmd.MarkFlagRequired("by")
}

// DecisionRequest matches internal/http/server.go DecisionRequest
type DecisionRequest struct {
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decided_by"`
}

// runDecide handles the decide command
func runDecide(cmd *cobra.Command, args []string) error {
	if decideApprove == decideReject {
		return fmt.Errorf("exactly one of --approve or --reject is required")
	}

	var review map[string]any
	err := postJSON("/api/v1/reviews/"+args[0]+"/decision", DecisionRequest{
		Approve:   decideApprove,
		DecidedBy: decideDecidedBy,
	}, &review)
	if err != nil {
		return err
	}
	return printJSON(review)
}

// kindsCmd inspects and re-enables executor kinds
var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "Inspect disabled executor kinds",
	RunE:  runKinds,
}

// enableCmd re-enables a disabled kind
var enableCmd = &cobra.Command{
	Use:   "enable <kind>",
	Short: "Re-enable a kind disabled by a systemic failure",
	Long: `Re-enable an executor kind that was disabled after a systemic
failure (for example revoked credentials). Parked tasks resume dispatching.

Examples:
  chimctl kinds enable wallet_transfer`,
	Args: cobra.ExactArgs(1),
	RunE: runEnable,
}

func init() {
	kindsCmd.AddCommand(enableCmd)
}

// runKinds handles the kinds command
func runKinds(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	if err := getJSON("/api/v1/kinds/disabled", &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

// runEnable handles the kinds enable command
func runEnable(cmd *cobra.Command, args []string) error {
	if err := postJSON("/api/v1/kinds/"+args[0]+"/enable", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Kind %s enabled\n", args[0])
	return nil
}
