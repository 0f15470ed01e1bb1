package substrate

import (
	"context"
	"time"
)

const (
	backoffInitialDelay = 500 * time.Millisecond
	backoffMaxDelay     = 30 * time.Second
	backoffMaxAttempts  = 5
)

// retryWithBackoff calls fn up to backoffMaxAttempts times with
// exponential backoff, returning the first success or the last error
// (spec §7: "backend errors are retried with exponential backoff up
// to a bounded attempt count"). Grounded on the teacher's
// LLMClassifier worker in classify_llm.go, which retries reclassify
// calls on a fixed delay off a bounded channel; this generalizes that
// fixed delay into exponential backoff for any backend call.
func retryWithBackoff(ctx context.Context, fn func() error) error {
	delay := backoffInitialDelay
	var lastErr error
	for attempt := 0; attempt < backoffMaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > backoffMaxDelay {
			delay = backoffMaxDelay
		}
	}
	return lastErr
}
