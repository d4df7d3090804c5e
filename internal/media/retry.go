package media

import (
	"context"
	"fmt"
	"log"
	"time"
)

// retryPolicy runs an operation with exponential back-off.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

func (r retryPolicy) do(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := r.baseDelay
	attempts := r.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		log.Printf("media %s failed (attempt %d/%d): %v, retrying in %v", operation, attempt, attempts, lastErr, delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}
