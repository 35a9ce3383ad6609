package util

import (
	"context"
	"time"

	"nsefeed/internal/domain"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting
// at baseDelay. Only transient failures are retried: an error classified as
// decode, persistence, or fatal is returned on the spot, since re-running
// the same call cannot change its outcome. Returns nil on the first
// successful call, or the last error if all attempts fail. Context
// cancellation is honoured between attempts.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if domain.KindOf(err) != domain.ErrTransient {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}
