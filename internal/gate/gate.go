// Package gate implements the safety gate every executor result passes
// through before its output is considered usable.
//
// The gate never blocks the dispatch loop: evaluation is a pure function of
// the result and the kind's risk policy, and escalation just parks a review
// for a human while the run continues.
package gate

import (
	"context"

	"go.uber.org/zap"

	"github.com/chimeralabs/chimerad/internal/config"
	"github.com/chimeralabs/chimerad/internal/logging"
	"github.com/chimeralabs/chimerad/internal/task"
)

// Outcome is the gate's verdict on one result.
type Outcome string

const (
	// OutcomeApproved means the result is usable without human involvement.
	OutcomeApproved Outcome = "auto_approved"

	// OutcomePending means the result is parked for human review.
	OutcomePending Outcome = "pending_review"

	// OutcomeRejected means the result must not be used.
	OutcomeRejected Outcome = "rejected"
)

// Escalation reasons, in evaluation order.
const (
	ReasonExecutionError   = "execution_error"
	ReasonSanitizationFail = "sanitization_failure"
	ReasonSanitizationFlag = "sanitization_flag"
	ReasonLowConfidence    = "low_confidence"
	ReasonCostThreshold    = "cost_threshold"
	ReasonBudgetExceeded   = "budget_exceeded"
	ReasonUnregisteredKind = "unregistered_kind"
)

// Decision is the outcome of evaluating one result.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`

	// Alert marks decisions that indicate hostile or malformed executor
	// output rather than ordinary low quality.
	Alert bool `json:"alert,omitempty"`
}

// Evaluate applies a kind's risk policy to a result. It is deterministic:
// the same result, policy, and remaining budget always produce the same
// decision.
//
// Order matters. Hard failures reject before any threshold is consulted; a
// suspect sanitization verdict escalates even when confidence and cost are
// fine. Partial failures carry a usable payload and walk the same threshold
// ladder as successes.
func Evaluate(res task.Result, policy config.KindPolicy, budgetRemaining float64) Decision {
	if res.Status == task.ResultError {
		reason := ReasonExecutionError
		alert := false
		if first, ok := res.FirstError(); ok && first.Code == task.CodeSanitizationFailed {
			reason = ReasonSanitizationFail
			alert = true
		}
		return Decision{Outcome: OutcomeRejected, Reason: reason, Alert: alert}
	}

	switch res.SanitizationStatus {
	case task.SanitizationReject:
		return Decision{Outcome: OutcomeRejected, Reason: ReasonSanitizationFail, Alert: true}
	case task.SanitizationSuspect:
		return Decision{Outcome: OutcomePending, Reason: ReasonSanitizationFlag, Alert: true}
	}

	if res.ConfidenceScore < policy.ApproveThreshold {
		return Decision{Outcome: OutcomePending, Reason: ReasonLowConfidence}
	}
	if res.CostIncurred > policy.CostThreshold {
		return Decision{Outcome: OutcomePending, Reason: ReasonCostThreshold}
	}
	if res.CostIncurred > budgetRemaining {
		return Decision{Outcome: OutcomePending, Reason: ReasonBudgetExceeded}
	}

	return Decision{Outcome: OutcomeApproved}
}

// Gate wires Evaluate to the review store and the notification queue. It
// implements the dispatcher's result sink.
type Gate struct {
	policies  map[string]config.KindPolicy
	reviews   *Reviews
	publisher Publisher
	logger    *logging.Logger
	metrics   *Metrics

	// budgetRemaining reports the owning run's remaining spend at decision
	// time.
	budgetRemaining func() float64
}

// New creates a Gate. publisher and metrics may be nil.
func New(policies map[string]config.KindPolicy, reviews *Reviews, publisher Publisher, logger *logging.Logger, metrics *Metrics) *Gate {
	return &Gate{
		policies:        policies,
		reviews:         reviews,
		publisher:       publisher,
		logger:          logger,
		metrics:         metrics,
		budgetRemaining: func() float64 { return 0 },
	}
}

// BindBudget sets the remaining-budget source consulted on every decision.
func (g *Gate) BindBudget(fn func() float64) {
	if fn != nil {
		g.budgetRemaining = fn
	}
}

// Reviews returns the underlying review store.
func (g *Gate) ReviewStore() *Reviews {
	return g.reviews
}

// Process evaluates one terminal result and reports whether it was
// auto-approved. Pending decisions open a review and notify the queue; a
// notification failure is logged but never fails the task.
func (g *Gate) Process(ctx context.Context, t *task.Task, res task.Result) bool {
	policy, ok := g.policies[string(t.Kind)]
	if !ok {
		g.record(Decision{Outcome: OutcomeRejected, Reason: ReasonUnregisteredKind})
		g.logger.Error(ctx, "result for unregistered kind rejected",
			zap.String("kind", string(t.Kind)))
		return false
	}

	dec := Evaluate(res, policy, g.budgetRemaining())
	g.record(dec)

	switch dec.Outcome {
	case OutcomeApproved:
		g.logger.Debug(ctx, "result auto-approved",
			zap.Float64("confidence", res.ConfidenceScore),
			zap.Float64("cost", res.CostIncurred))
		return true

	case OutcomeRejected:
		if dec.Alert {
			g.logger.Error(ctx, "hostile executor output rejected",
				zap.String("reason", dec.Reason),
				zap.String("kind", string(t.Kind)))
		} else {
			g.logger.Warn(ctx, "result rejected", zap.String("reason", dec.Reason))
		}
		return false

	default:
		review := g.reviews.Open(t, res, dec.Reason)
		g.logger.Warn(ctx, "result escalated for human review",
			zap.String("review_id", review.ID),
			zap.String("reason", dec.Reason),
			zap.Bool("alert", dec.Alert))

		if g.publisher != nil {
			if err := g.publisher.PublishReview(ctx, review); err != nil {
				g.logger.Error(ctx, "review notification failed",
					zap.String("review_id", review.ID),
					zap.Error(err))
			}
		}
		return false
	}
}

func (g *Gate) record(dec Decision) {
	if g.metrics != nil {
		g.metrics.RecordDecision(string(dec.Outcome), dec.Reason)
	}
}
