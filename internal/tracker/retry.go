package tracker

import (
	"context"
	"math/rand/v2"
	"time"
)

// CreateWithRetry wraps provider.CreateTicket with the tracker's retry
// policy: up to maxAttempts total tries, jittered exponential backoff
// starting at baseDelay, retrying only on Retryable errors (transport
// failures, 5xx, 429). A non-retryable 4xx returns immediately.
func CreateWithRetry(ctx context.Context, provider Provider, in CreateTicketInput, maxAttempts int, baseDelay time.Duration) (Ticket, error) {
	var (
		t   Ticket
		err error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		t, err = provider.CreateTicket(ctx, in)
		if err == nil || !Retryable(err) {
			return t, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return Ticket{}, ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return t, err
}
