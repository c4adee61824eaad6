// Package retry runs operations under a time-budgeted, bounded retry policy.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/device-agent/pkg/core"
)

// Policy configures one class of operation.
// Timeout is a wall-clock budget for the whole operation, not per attempt.
type Policy struct {
	Retries  int           // Maximum attempts; 0 behaves like 1
	Timeout  time.Duration // Total budget, must be > 0
	Interval time.Duration // Sleep between attempts
}

// Validate rejects policies that can never complete.
func (p Policy) Validate() error {
	if p.Retries < 0 {
		return core.ErrInvalidArgument.WithMessagef("retries must be >= 0, got %d", p.Retries)
	}
	if p.Timeout <= 0 {
		return core.ErrInvalidArgument.WithMessagef("timeout must be > 0, got %v", p.Timeout)
	}
	if p.Interval < 0 {
		return core.ErrInvalidArgument.WithMessagef("interval must be >= 0, got %v", p.Interval)
	}
	return nil
}

// Attempts returns the number of attempts the policy allows.
func (p Policy) Attempts() int {
	if p.Retries < 1 {
		return 1
	}
	return p.Retries
}

// Scale returns a copy with the timeout multiplied by factor.
func (p Policy) Scale(factor float64) Policy {
	p.Timeout = time.Duration(float64(p.Timeout) * factor)
	return p
}

// Override replaces the non-zero fields of p with those of o.
func (p Policy) Override(o Policy) Policy {
	if o.Retries > 0 {
		p.Retries = o.Retries
	}
	if o.Timeout > 0 {
		p.Timeout = o.Timeout
	}
	if o.Interval > 0 {
		p.Interval = o.Interval
	}
	return p
}

func (p Policy) String() string {
	return fmt.Sprintf("retries=%d timeout=%v interval=%v", p.Retries, p.Timeout, p.Interval)
}

// Attempt describes one try handed to the operation.
type Attempt struct {
	Number    int           // 1-based
	Remaining time.Duration // Budget left when the attempt started
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Always retries every error.
func Always(error) bool { return true }

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do runs op until it succeeds, returns a non-retryable error, runs out of
// attempts or runs out of budget.
//
// Before each attempt the remaining budget is checked; once it is spent Do
// returns a core.ErrTimeout without calling op again. The context passed to op
// carries the overall deadline.
func Do(ctx context.Context, p Policy, retryable Classifier, op func(ctx context.Context, a Attempt) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if retryable == nil {
		retryable = Always
	}

	deadline := time.Now().Add(p.Timeout)
	opCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// WithMaxRetries treats 0 as unlimited, so a single attempt needs StopBackOff.
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if p.Attempts() > 1 {
		policy = backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.Attempts()-1))
	}
	b := backoff.WithContext(policy, ctx)

	var (
		attempt   int
		lastErr   error
		stopped   bool
		exhausted bool
	)

	err := backoff.Retry(func() error {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			stopped = true
			timeout := core.ErrTimeout.
				WithMessagef("timed out after %v (%d attempt(s))", p.Timeout, attempt).
				WithCause(lastErr)
			return backoff.Permanent(timeout)
		}

		attempt++
		err := op(opCtx, Attempt{Number: attempt, Remaining: remaining})
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			stopped = true
			return backoff.Permanent(err)
		}
		if !retryable(err) {
			stopped = true
			return backoff.Permanent(err)
		}
		if attempt >= p.Attempts() {
			exhausted = true
			return backoff.Permanent(err)
		}
		return err
	}, b)

	if err == nil {
		return nil
	}
	if stopped {
		return err
	}
	if exhausted {
		return &ExhaustedError{Attempts: attempt, Last: lastErr}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if lastErr == nil {
			return ctxErr
		}
		return fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
	}
	return &ExhaustedError{Attempts: attempt, Last: lastErr}
}
