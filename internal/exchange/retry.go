package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/depth-analytics/internal/utils"
)

const maxBackoff = 5 * time.Minute

// retry runs fn up to attempts times with exponential backoff. It gives up
// early when ctx is done.
func retry(ctx context.Context, name string, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := delay
	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if i == attempts {
			break
		}
		utils.GetLogger().Printf("Exchange | %s Retry attempt %d/%d failed: %v. Backing off for %v", name, i, attempts, lastErr, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	return fmt.Errorf("all %d retry attempts failed: %w", attempts, lastErr)
}
