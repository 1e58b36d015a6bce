package task

import "fmt"

// ResultStatus is the executor-reported outcome of one attempt.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"

	// ResultPartialFailure is used when a batch-like task partially succeeds;
	// it still carries a best-effort payload.
	ResultPartialFailure ResultStatus = "partial_failure"

	ResultError ResultStatus = "error"
)

// SanitizationStatus is the defensive screening verdict on executor output.
type SanitizationStatus string

const (
	SanitizationOK      SanitizationStatus = "ok"
	SanitizationSuspect SanitizationStatus = "suspect"
	SanitizationReject  SanitizationStatus = "reject"
)

// Result is the outcome of a single executor attempt. A task may accumulate
// several results across retries; only the last one is retained.
type Result struct {
	TaskID             string             `json:"task_id"`
	Status             ResultStatus       `json:"status"`
	Payload            map[string]any     `json:"payload,omitempty"`
	CostIncurred       float64            `json:"cost_incurred"`
	ConfidenceScore    float64            `json:"confidence_score"`
	SanitizationStatus SanitizationStatus `json:"sanitization_status"`
	Errors             []Error            `json:"errors,omitempty"`

	// FromCache marks results served from the result cache without a new
	// executor invocation.
	FromCache bool `json:"from_cache,omitempty"`

	// Attempt is the 1-based attempt number that produced this result.
	Attempt int `json:"attempt,omitempty"`
}

// FirstError returns the first reported error, if any.
func (r *Result) FirstError() (Error, bool) {
	if len(r.Errors) == 0 {
		return Error{}, false
	}
	return r.Errors[0], true
}

// Error is a single executor-reported error.
type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Error implements the error interface.
func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Executor boundary error codes.
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeSanitizationFailed = "SANITIZATION_FAILED"
	CodeNetworkTimeout     = "NETWORK_TIMEOUT"
	CodeAuthFailed         = "AUTH_FAILED"
	CodeCacheError         = "CACHE_ERROR"
	CodeBudgetExceeded     = "BUDGET_EXCEEDED"
	CodeCancelled          = "CANCELLED"
	CodeInvalidParameters  = "INVALID_PARAMETERS"
)

// ErrorClass groups executor error codes by how the dispatcher must react.
type ErrorClass string

const (
	// ClassTransient errors (network, timeout) get one immediate retry.
	ClassTransient ErrorClass = "transient"

	// ClassQuota errors (rate-limit denial) are deferred with staged backoff,
	// never silently dropped.
	ClassQuota ErrorClass = "quota"

	// ClassValidation errors (sanitization, malformed parameters) are fatal to
	// the task and always routed to the gate as an alert.
	ClassValidation ErrorClass = "validation"

	// ClassBudget errors are fatal to the task and surfaced to the caller.
	ClassBudget ErrorClass = "budget"

	// ClassSystemic errors (credential/auth failure) disable the whole executor
	// kind until operator intervention.
	ClassSystemic ErrorClass = "systemic"
)

// Classify maps an executor error code to its handling class. Unknown codes
// are treated as transient when recoverable and validation otherwise, so a
// misbehaving executor cannot force an unbounded retry loop.
func Classify(e Error) ErrorClass {
	switch e.Code {
	case CodeNetworkTimeout:
		return ClassTransient
	case CodeRateLimited:
		return ClassQuota
	case CodeSanitizationFailed, CodeInvalidParameters:
		return ClassValidation
	case CodeBudgetExceeded:
		return ClassBudget
	case CodeAuthFailed:
		return ClassSystemic
	default:
		if e.Recoverable {
			return ClassTransient
		}
		return ClassValidation
	}
}
