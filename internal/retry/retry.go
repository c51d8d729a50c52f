// Package retry provides the shared retry policy used by the scanner, the
// redemption-queue sampler and the evaluators. All RPC retry behavior goes
// through here so backoff shape and attempt limits live in one place.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/position-sentinel/internal/logging"
)

// HintedError is implemented by errors carrying a provider-supplied
// retry-after hint (e.g. HTTP 429 Retry-After).
type HintedError interface {
	RetryAfter() time.Duration
}

// Policy describes a bounded exponential backoff retry policy.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Retryable decides whether an error is worth another attempt.
	// A nil predicate retries everything.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for chain RPC calls.
// Pattern: 1s, 2s, 4s, 8s, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Do runs fn until it succeeds, a non-retryable error occurs, the attempt
// budget is exhausted, or the context is cancelled. A provider retry-after
// hint takes precedence over the computed backoff delay when it is longer.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	log := logging.Named("retry")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0 // bounded by attempts, not wall time
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Debug("operation succeeded after retry",
					zap.String("op", op), zap.Int("attempts", attempt))
			}
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := bo.NextBackOff()
		var hinted HintedError
		if errors.As(err, &hinted) && hinted.RetryAfter() > delay {
			delay = hinted.RetryAfter()
		}

		log.Warn("operation failed, backing off",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}
