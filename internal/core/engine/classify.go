package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/labgate/labgate/internal/core"
)

// Classifier reports whether a failed attempt may be retried.
type Classifier func(err error) bool

var retryablePhrases = []string{
	"timeout",
	"timed out",
	"network",
	"rate limit",
	"too many requests",
	"429",
	"connection reset",
	"connection refused",
	"econnreset",
	"broken pipe",
	"unexpected eof",
	"nonce too low",
	"temporarily reverted",
	"temporarily unavailable",
	"503",
	"502",
}

var rateLimitPhrases = []string{
	"rate limit",
	"ratelimit",
	"429",
	"too many requests",
	"limit exceeded",
	"quota exceeded",
	"capacity exceeded",
	"requests exceeded",
}

// IsRetryable is the default classifier. Transient transport failures are
// retryable; reverts, decode failures and configuration errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrNoEndpointsAvailable) {
		return false
	}
	if errors.Is(err, core.ErrTimeout) || errors.Is(err, core.ErrRateLimited) || errors.Is(err, core.ErrConnectionFailure) {
		return true
	}

	message := strings.ToLower(err.Error())
	if strings.Contains(message, "temporarily reverted") {
		return true
	}
	if core.IsNotFoundLike(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	for _, phrase := range retryablePhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}

// IsRateLimitSignal reports whether err means the upstream is throttling us.
func IsRateLimitSignal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrRateLimited) {
		return true
	}
	if errors.Is(err, core.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	message := strings.ToLower(err.Error())
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}
