package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/knoguchi/peermatch/internal/service"
)

// ErrInvalidMaxAttempts is returned for a retry policy with no attempts.
var ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

// RetryPolicy retries transient dependency failures with exponential backoff.
type RetryPolicy struct {
	// MaxAttempts counts the first try.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy suits embedding servers that shed load briefly.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// delay returns the wait after the given failed attempt: BaseDelay * 2^(attempt-1), capped.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Do runs operation until it succeeds, fails permanently, or attempts run out. Only
// errors for which service.IsRetryable holds are retried.
func (p RetryPolicy) Do(ctx context.Context, operation func() error) error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !service.IsRetryable(lastErr) || attempt == p.MaxAttempts {
			return lastErr
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "max_attempts", p.MaxAttempts, "error", lastErr)

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
