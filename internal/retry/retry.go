// Package retry implements the exponential-backoff-with-jitter policy
// shared by the HTTP fetcher and the LLM client, per the project's
// single-source-of-truth requirement for retry behavior.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures a backoff schedule. Zero-value Policy is not usable;
// construct via NewPolicy.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	JitterFrac  float64
	MaxDelay    time.Duration
}

// NewPolicy returns the default project-wide backoff shape: base
// 500ms, factor 2, +/-20% jitter, capped at 30s.
func NewPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		JitterFrac:  0.2,
		MaxDelay:    30 * time.Second,
	}
}

// delay returns the backoff duration before attempt n (0-indexed,
// n=0 is the delay before the first retry, i.e. after attempt 1 failed).
func (p Policy) delay(n int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < n; i++ {
		d *= p.Factor
	}
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	jitter := d * p.JitterFrac
	d += (rand.Float64()*2 - 1) * jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Classifier tells Do whether an error is worth retrying.
type Classifier func(error) bool

// AlwaysRetryable treats every non-nil error as retryable.
func AlwaysRetryable(err error) bool { return err != nil }

// Do calls fn up to p.MaxAttempts times, sleeping the backoff delay
// between attempts, and stops early once retryable returns false for
// the most recent error or the context is done. It returns the last
// error if every attempt fails.
func Do(ctx context.Context, p Policy, retryable Classifier, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return lastErr
}
