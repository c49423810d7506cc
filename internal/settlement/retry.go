package settlement

import (
	"context"
	"time"
)

// RetryPolicy controls how many times a match is attempted and the delay
// between attempts. Attempts counts total tries, not retries.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultMatchRetry re-queries once, five seconds after the first miss.
// Ledger entries are written by the frontend slightly before or after the
// on-chain transaction lands, so one delayed retry covers the common race.
var DefaultMatchRetry = RetryPolicy{Attempts: 2, Delay: 5 * time.Second}

// SleepFunc waits for the duration or until the context is cancelled.
// Injected so tests run without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
