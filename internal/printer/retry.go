package printer

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy wraps the pause/resume/stop verbs. Status queries are never
// retried through this; the monitor counts their failures instead.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
}

// DefaultRetryPolicy is 3 attempts with 0.5s/1s/2s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialBackoff: 500 * time.Millisecond}
}

// Do runs op until it succeeds, attempts are exhausted, or ctx is cancelled.
// Backoff doubles after each failure.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
