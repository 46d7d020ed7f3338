// Package retry 提供一个有界重试包装，任何协作方都可以统一套用,
// 替代散落各处的 ad-hoc 重连逻辑。
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs fn up to attempts times, sleeping delay between tries and
// doubling it each round up to maxDelay. Returns the last error when
// every attempt fails.
func Do(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	const maxDelay = 30 * time.Second

	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
