// Package retry provides the bounded-retry policy used for upstream calls
// and network-registration polling: a fixed attempt budget with a fixed
// delay, reported as a plain error instead of control flow.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Do runs fn up to p.Attempts times, sleeping p.Delay between failures.
// It returns nil on the first success, the last error once the budget is
// exhausted, or ctx.Err() if the context ends while waiting.
func (p Policy) Do(ctx context.Context, logger *logrus.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if logger != nil {
			logger.WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempt,
				"of":      attempts,
			}).Warnf("attempt failed: %v", lastErr)
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		}
	}

	return fmt.Errorf("%s: %d attempts exhausted: %w", op, attempts, lastErr)
}
