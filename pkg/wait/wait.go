// Package wait polls a predicate until it holds or a timeout elapses.
package wait

import (
	"context"
	"time"

	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/metrics"
)

// Defaults for waits that do not specify their own timing.
const (
	DefaultTimeout  = 8 * time.Second
	DefaultInterval = 100 * time.Millisecond
)

// Spec controls a single wait.
type Spec struct {
	Timeout  time.Duration
	Interval time.Duration
	Error    *core.ExecutionError // Raised on timeout; core.ErrWaitTimeout when nil
	Message  string
}

// Predicate is evaluated on every poll. It returns the value to hand back,
// whether the condition holds, and an error that aborts the wait.
type Predicate[T any] func(ctx context.Context) (T, bool, error)

// For runs pred until it reports true, sleeping spec.Interval between calls.
// A zero timeout or a nil predicate is a caller error and pred is never run.
func For[T any](ctx context.Context, spec Spec, pred Predicate[T]) (T, error) {
	var zero T
	if spec.Timeout <= 0 {
		return zero, core.ErrInvalidArgument.WithMessagef("wait timeout must be > 0, got %v", spec.Timeout)
	}
	if pred == nil {
		return zero, core.ErrInvalidArgument.WithMessage("wait requires a predicate")
	}
	if spec.Interval < 0 {
		return zero, core.ErrInvalidArgument.WithMessagef("wait interval must be >= 0, got %v", spec.Interval)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	for {
		value, ok, err := pred(ctx)
		if err != nil && ctx.Err() == nil {
			observe(start, "error")
			return zero, err
		}
		if ok && err == nil {
			observe(start, "ok")
			return value, nil
		}

		select {
		case <-ctx.Done():
			observe(start, "timeout")
			return zero, timeoutError(spec, time.Since(start))
		case <-time.After(spec.Interval):
		}
	}
}

// Until is For for predicates that carry no value.
func Until(ctx context.Context, spec Spec, cond func(ctx context.Context) (bool, error)) error {
	if cond == nil {
		_, err := For[struct{}](ctx, spec, nil)
		return err
	}
	_, err := For(ctx, spec, func(ctx context.Context) (struct{}, bool, error) {
		ok, err := cond(ctx)
		return struct{}{}, ok, err
	})
	return err
}

func timeoutError(spec Spec, elapsed time.Duration) error {
	kind := spec.Error
	if kind == nil {
		kind = core.ErrWaitTimeout
	}
	msg := spec.Message
	if msg == "" {
		msg = kind.Message
	}
	logger.Debug("wait timed out after %v: %s", elapsed.Round(time.Millisecond), msg)
	return kind.WithMessagef("%s (timed out after %v)", msg, spec.Timeout)
}

func observe(start time.Time, outcome string) {
	metrics.WaitDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
