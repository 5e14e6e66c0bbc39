// Package retry implements the bridge's retry engine: invoke a fallible
// operation up to N times with fixed or exponential backoff, honouring
// context cancellation. It is a thin adapter over github.com/sethvargo/go-retry,
// the backoff library the relay already depends on.
package retry

import (
	"context"
	"errors"
	"strconv"
	"time"

	goretry "github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Unlimited is a sentinel attempts value meaning "retry until cancelled".
const Unlimited = 0

// Options configures one Do call. In the zero value Attempts is Unlimited,
// so Do retries until ctx is cancelled, with a 100ms fixed delay and no cap;
// there is no finite default attempt count.
type Options struct {
	// Attempts is the maximum number of calls to fn. Unlimited (0) retries
	// until ctx is cancelled.
	Attempts uint64
	// DelayMs is the base delay between attempts.
	DelayMs int
	// Exponential doubles DelayMs after each failed attempt, capped at MaxDelayMs.
	Exponential bool
	// MaxDelayMs caps the exponential delay. Zero means unbounded.
	MaxDelayMs int
}

func (o Options) withDefaults() Options {
	if o.DelayMs <= 0 {
		o.DelayMs = 100
	}
	if o.Attempts == 0 {
		o.Attempts = 10
	}
	return o
}

// Do runs fn(ctx) up to opts.Attempts times, sleeping between failures per
// opts's backoff policy. It returns fn's successful value, or the last
// error if every attempt failed, or a cancellation error if ctx fired
// in between attempts.
//
// Pass Options{Attempts: Unlimited} for the Provider's (re)connect loops,
// where failure means only cancellation.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	unlimited := opts.Attempts == Unlimited
	opts = opts.withDefaults()
	if unlimited {
		opts.Attempts = Unlimited
	}

	var backoff goretry.Backoff
	if opts.Exponential {
		backoff = goretry.NewExponential(time.Duration(opts.DelayMs) * time.Millisecond)
	} else {
		backoff = goretry.NewConstant(time.Duration(opts.DelayMs) * time.Millisecond)
	}
	if opts.MaxDelayMs > 0 {
		backoff = goretry.WithCappedDuration(time.Duration(opts.MaxDelayMs)*time.Millisecond, backoff)
	}
	if !unlimited {
		backoff = goretry.WithMaxRetries(opts.Attempts-1, backoff)
	}

	var result T
	var lastErr error
	attempt := uint64(0)

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			result = v
			return nil
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{
			"prefix":  "retry.Do",
			"attempt": attempt,
		}).Debugf("attempt failed: %v", err)
		return goretry.RetryableError(err)
	})

	if err == nil {
		return result, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return zero, &CancelledError{Attempts: attempt, Cause: ctx.Err()}
	}
	if lastErr != nil {
		return zero, lastErr
	}
	return zero, err
}

// CancelledError is returned when the context aborts between attempts or
// during the inter-attempt sleep.
type CancelledError struct {
	Attempts uint64
	Cause    error
}

func (e *CancelledError) Error() string {
	return "retry: cancelled after " + strconv.FormatUint(e.Attempts, 10) + " attempt(s)"
}

func (e *CancelledError) Unwrap() error { return e.Cause }
