package connection

import (
	"context"
	"time"
)

// RetryFunc observes a failed attempt and the delay before the next one.
type RetryFunc func(attempt int, delay time.Duration, err error)

// Retry calls connect until it succeeds or ctx is done, waiting the next
// backoff delay after every failure. The backoff is reset on success.
// It returns ctx.Err() when ctx ends first.
func Retry(ctx context.Context, b *Backoff, connect func(context.Context) error, onRetry RetryFunc) error {
	for {
		err := connect(ctx)
		if err == nil {
			b.Reset()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.Next()
		if onRetry != nil {
			onRetry(b.Attempts(), delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
