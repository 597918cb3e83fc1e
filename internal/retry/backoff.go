// Package retry holds the backoff helpers shared by the store, raster and
// scheduler loops.
package retry

import (
	"context"
	"time"
)

// NextBackoff doubles current, capped at maxBackoff.
func NextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// Sleep waits for d or until ctx is done. It reports false when ctx ended
// first, including when ctx is already done on entry.
func Sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
