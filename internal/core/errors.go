package core

import (
	"errors"
	"fmt"
)

// Read-layer error taxonomy. Upstream failures are wrapped so callers can
// classify them with errors.Is.
var (
	ErrTimeout               = errors.New("upstream call timed out")
	ErrRateLimited           = errors.New("upstream rate limited")
	ErrConnectionFailure     = errors.New("upstream connection failure")
	ErrUpstreamRevert        = errors.New("upstream reverted")
	ErrDecodeFailure         = errors.New("malformed upstream response")
	ErrNotFound              = errors.New("record not found")
	ErrNoEndpointsAvailable  = errors.New("no endpoints available")
	ErrAllFallbacksExhausted = errors.New("all fallbacks exhausted")
)

// CallError is a single failed attempt against a single endpoint.
type CallError struct {
	Endpoint string
	Tier     int
	Err      error
}

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("call %s (tier %d): %v", e.Endpoint, e.Tier, e.Err)
}

func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryError is the final failure of a retried operation.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFoundLike reports whether err means the item does not exist or could
// not be decoded. Such failures are recovered into empty results instead of
// being surfaced.
func IsNotFoundLike(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUpstreamRevert) || errors.Is(err, ErrDecodeFailure)
}
