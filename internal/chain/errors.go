package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// Common error types for chain providers

var (
	// ErrRateLimited indicates the provider rate limit was exceeded
	ErrRateLimited = fmt.Errorf("provider rate limit exceeded")

	// ErrProviderTimeout indicates the provider request timed out
	ErrProviderTimeout = fmt.Errorf("provider request timeout")

	// ErrNotFound indicates the requested on-chain object does not exist
	ErrNotFound = fmt.Errorf("not found on chain")
)

// RateLimitedError wraps a provider rate-limit error together with an
// optional retry-after hint.
type RateLimitedError struct {
	Err  error
	Hint time.Duration
}

// Error implements the error interface
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfter returns the provider-supplied retry-after hint, zero if none
func (e *RateLimitedError) RetryAfter() time.Duration { return e.Hint }

// rateLimitMarkers are substrings that identify rate-limit responses from
// providers that do not return a clean HTTP 429.
var rateLimitMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
	"limit exceeded",
	"exceeded the quota",
	"capacity exceeded",
}

var timeoutMarkers = []string{
	"timeout",
	"deadline exceeded",
	"connection reset",
	"i/o timeout",
	"eof",
}

// Classify inspects a raw RPC error and wraps it into the provider error
// taxonomy: rate-limited (retryable, with hint when available), timeout
// (retryable) or hard failure (returned as-is).
func Classify(err error) error {
	if err == nil {
		return nil
	}

	// Context errors are never retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 {
			return &RateLimitedError{Err: err}
		}
		if httpErr.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return &RateLimitedError{Err: err}
		}
	}
	for _, marker := range timeoutMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
		}
	}

	return err
}

// IsRetryable reports whether the error is transient (rate limit or timeout)
// and worth another attempt. Hard failures and context errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderTimeout)
}
