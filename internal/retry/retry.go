// Package retry runs idempotent operations against eventually consistent
// APIs with a fixed, bounded backoff schedule.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// Class is the outcome of classifying an error.
type Class int

const (
	Fatal Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// Classifier decides whether an error is worth retrying.
type Classifier func(error) Class

// Clock abstracts time so schedules can be tested without waiting.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Policy is a retry schedule. Delays[i] is the wait before attempt i+2; the
// last entry repeats when there are more attempts than delays.
type Policy struct {
	MaxAttempts    int
	SettleDelay    time.Duration
	Delays         []time.Duration
	AttemptTimeout time.Duration
	Classify       Classifier
	Clock          Clock
	// OnRetry is called before each wait between attempts.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns the schedule used for provisioning and validation.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:    4,
		SettleDelay:    10 * time.Second,
		Delays:         []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second},
		AttemptTimeout: 60 * time.Second,
		Classify:       DefaultClassifier,
		Clock:          SystemClock,
	}
}

// Delay returns the wait before the given attempt (attempts count from 1).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || len(p.Delays) == 0 {
		return 0
	}
	i := attempt - 2
	if i >= len(p.Delays) {
		i = len(p.Delays) - 1
	}
	return p.Delays[i]
}

// Schedule returns the waits a fully exhausted run performs, settle delay first.
func (p *Policy) Schedule(settle bool) []time.Duration {
	var out []time.Duration
	if settle && p.SettleDelay > 0 {
		out = append(out, p.SettleDelay)
	}
	for a := 2; a <= p.MaxAttempts; a++ {
		out = append(out, p.Delay(a))
	}
	return out
}

// WithSettle returns a copy of the policy that waits SettleDelay before the first attempt.
func (p *Policy) WithSettle(settle bool) *Policy {
	cp := *p
	if !settle {
		cp.SettleDelay = 0
	}
	return &cp
}

// Execute runs op until it succeeds, fails fatally, or the attempt budget is
// spent. It returns the result and the number of attempts made. Waits are
// interrupted by ctx; an attempt in flight is not.
func Execute[T any](ctx context.Context, p *Policy, op func(context.Context) (T, error)) (T, int, error) {
	var zero T
	clock := p.Clock
	if clock == nil {
		clock = SystemClock
	}
	classify := p.Classify
	if classify == nil {
		classify = DefaultClassifier
	}
	maxAttempts := max(p.MaxAttempts, 1)

	if p.SettleDelay > 0 {
		if err := clock.Sleep(ctx, p.SettleDelay); err != nil {
			return zero, 0, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := p.Delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt-1, lastErr, wait)
			}
			if err := clock.Sleep(ctx, wait); err != nil {
				return zero, attempt - 1, err
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		result, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, attempt, ctx.Err()
		}
		if classify(err) == Fatal {
			return zero, attempt, &models.FatalProvisioningError{Err: err}
		}
	}
	return zero, maxAttempts, &models.ProvisioningTimeout{Attempts: maxAttempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = MarkTransient(fmt.Errorf("attempt timed out after %s: %w", timeout, err))
	}
	return result, err
}
