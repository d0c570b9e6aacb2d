package storage

import (
	"context"
	"time"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
)

const (
	retryAttempts = 3
	retryDelay    = 100 * time.Millisecond
)

// withRetry re-runs fn on transient infrastructure failures, bounded with a
// doubling delay. Only idempotent reads go through here; writes surface
// their first error so the caller can re-read state and decide.
func withRetry(ctx context.Context, fn func() error) error {
	delay := retryDelay
	var err error
	for i := 0; i < retryAttempts; i++ {
		err = fn()
		if err == nil || !faults.IsTransient(err) {
			return err
		}
		if i == retryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return faults.Wrap(faults.Transient, "store unavailable", err)
}
