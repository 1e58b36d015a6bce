package executor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/chimeralabs/chimerad/internal/task"
)

// RetryPolicy governs how one task's executor attempts are retried.
//
// Transient errors get immediate retries; quota errors (downstream rate
// limits) wait through staged backoff with jitter; everything else
// terminates the attempt sequence at once. The policy applies per task, not
// per process: a fresh attempt counter starts with every dispatched task.
type RetryPolicy struct {
	// CallTimeout is the ceiling for a single executor attempt.
	// Default: 30 seconds.
	CallTimeout time.Duration

	// TransientRetries is how many immediate retries a transient error gets.
	// Default: 1.
	TransientRetries int

	// QuotaBackoff are the escalating wait tiers applied to successive quota
	// errors. Once the tiers are exhausted the task fails with the quota
	// error surfaced. Default: 1s, 4s, 16s.
	QuotaBackoff []time.Duration

	// JitterFraction randomizes each backoff tier by up to this fraction to
	// avoid thundering-herd retries. Default: 0.5.
	JitterFraction float64

	// rand overrides the jitter source in tests.
	rand func() float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		CallTimeout:      30 * time.Second,
		TransientRetries: 1,
		QuotaBackoff:     []time.Duration{time.Second, 4 * time.Second, 16 * time.Second},
		JitterFraction:   0.5,
	}
}

// ApplyDefaults sets default values for unset fields.
func (p *RetryPolicy) ApplyDefaults() {
	defaults := DefaultRetryPolicy()
	if p.CallTimeout == 0 {
		p.CallTimeout = defaults.CallTimeout
	}
	if p.TransientRetries == 0 {
		p.TransientRetries = defaults.TransientRetries
	}
	if p.QuotaBackoff == nil {
		p.QuotaBackoff = defaults.QuotaBackoff
	}
	if p.JitterFraction == 0 {
		p.JitterFraction = defaults.JitterFraction
	}
	if p.rand == nil {
		p.rand = rand.Float64
	}
}

// Run invokes exec until the result is terminal under this policy.
//
// The returned result always carries the final attempt's outcome; errors
// surfaced on it are never silently dropped. The returned error is non-nil
// only when the surrounding context was cancelled mid-sequence.
func (p *RetryPolicy) Run(ctx context.Context, exec Executor, inv Invocation) (task.Result, error) {
	p.ApplyDefaults()

	transientLeft := p.TransientRetries
	quotaTier := 0

	for attempt := 1; ; attempt++ {
		res := p.attempt(ctx, exec, inv)
		res.TaskID = inv.TaskID
		res.Attempt = attempt

		if res.Status != task.ResultError {
			return res, nil
		}

		boundaryErr, ok := res.FirstError()
		if !ok {
			// An error status with no error entries is an executor bug;
			// normalize so downstream consumers always see a cause.
			res.Errors = []task.Error{{
				Code:    task.CodeInvalidParameters,
				Message: "executor reported error status without errors",
			}}
			return res, nil
		}
		if !boundaryErr.Recoverable {
			return res, nil
		}

		switch task.Classify(boundaryErr) {
		case task.ClassTransient:
			if transientLeft <= 0 {
				return res, nil
			}
			transientLeft--
			// Immediate retry, no wait.

		case task.ClassQuota:
			if quotaTier >= len(p.QuotaBackoff) {
				return res, nil
			}
			wait := p.jitter(p.QuotaBackoff[quotaTier])
			quotaTier++
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(wait):
			}

		default:
			// Validation, budget, systemic: recoverable flag notwithstanding,
			// these classes never retry locally.
			return res, nil
		}

		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
}

// attempt runs one bounded executor call, translating machinery failures
// into boundary error results.
func (p *RetryPolicy) attempt(ctx context.Context, exec Executor, inv Invocation) task.Result {
	callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	defer cancel()

	res, err := exec.Execute(callCtx, inv)
	if err == nil {
		return res
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return task.Result{
			Status: task.ResultError,
			Errors: []task.Error{{
				Code:        task.CodeNetworkTimeout,
				Message:     err.Error(),
				Recoverable: true,
			}},
		}
	case errors.Is(err, context.Canceled):
		return task.Result{
			Status: task.ResultError,
			Errors: []task.Error{{
				Code:    task.CodeCancelled,
				Message: err.Error(),
			}},
		}
	default:
		return task.Result{
			Status: task.ResultError,
			Errors: []task.Error{{
				Code:        task.CodeNetworkTimeout,
				Message:     err.Error(),
				Recoverable: true,
			}},
		}
	}
}

// jitter randomizes a tier by up to JitterFraction of its value.
func (p *RetryPolicy) jitter(d time.Duration) time.Duration {
	if p.JitterFraction <= 0 {
		return d
	}
	spread := float64(d) * p.JitterFraction
	return d + time.Duration(p.rand()*spread)
}
