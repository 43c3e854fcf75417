// Package retry runs an operation at a constant interval for a bounded number of
// attempts. Readiness polling and post-start validation both use it.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a polling loop. The worst-case duration is roughly
// MaxAttempts * (Interval + per-attempt timeout).
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Permanent wraps err so Do stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it returns nil, returns a Permanent error, the attempts are
// exhausted or ctx is done. It returns the number of attempts made and the last
// error. notify, if set, runs after every failed attempt.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error, notify func(attempt int, err error)) (int, error) {
	if p.MaxAttempts < 1 {
		return 0, errors.New("retry policy needs at least one attempt")
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxAttempts > 1 {
		// WithMaxRetries treats zero as unlimited
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempt++
		last = op(ctx, attempt)
		return last
	}, b, func(error, time.Duration) {
		if notify != nil {
			notify(attempt, last)
		}
	})
	if err != nil && ctx.Err() != nil && last != nil {
		// report what the service said rather than the bare cancellation
		return attempt, errors.Join(ctx.Err(), last)
	}
	return attempt, err
}
