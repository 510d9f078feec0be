package engine

import (
	"context"
	"time"

	"github.com/use-agent/otakuscrape/models"
)

// Policy carries the per-call knobs that come from the extraction schema.
type Policy struct {
	// Marker is a selector that real content pages always contain.
	Marker string

	// MinBodyLength is the visible-text threshold for block detection.
	// Zero disables the check.
	MinBodyLength int

	// ReadySelector is forwarded to the headless strategy.
	ReadySelector string

	// Strategies restricts the chain to strategies whose name or kind is
	// listed. Chain order is kept.
	Strategies []string

	// Headers are added to every attempt.
	Headers map[string]string
}

// RetryPolicy decides how often a strategy is retried on transient
// failures before the chain escalates.
type RetryPolicy struct {
	// MaxAttempts is the number of tries per strategy, including the first.
	MaxAttempts int

	// BackoffBase is the delay before the second try; it doubles per try.
	BackoffBase time.Duration

	// BackoffMax caps a single delay.
	BackoffMax time.Duration

	// RetryableKinds lists the failure kinds worth retrying in place.
	RetryableKinds []models.ErrorKind

	// Sleep waits for d or until ctx is done. Nil means a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries network errors and timeouts up to 3 times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BackoffBase:    250 * time.Millisecond,
		BackoffMax:     4 * time.Second,
		RetryableKinds: []models.ErrorKind{models.KindNetwork, models.KindTimeout},
	}
}

func (r RetryPolicy) retryable(k models.ErrorKind) bool {
	for _, rk := range r.RetryableKinds {
		if rk == k {
			return true
		}
	}
	return false
}

// Backoff returns the delay after the given failed try (1-based).
func (r RetryPolicy) Backoff(try int) time.Duration {
	d := r.BackoffBase
	for i := 1; i < try; i++ {
		d *= 2
		if r.BackoffMax > 0 && d >= r.BackoffMax {
			return r.BackoffMax
		}
	}
	if r.BackoffMax > 0 && d > r.BackoffMax {
		return r.BackoffMax
	}
	return d
}

func (r RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
