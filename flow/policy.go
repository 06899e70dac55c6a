package flow

import (
	"math/rand"
	"time"
)

// NodePolicy configures execution behavior for a single node. Zero
// values fall back to the runner's defaults.
type NodePolicy struct {
	// Timeout is the maximum wall-clock time for one attempt of the node.
	// Zero means the runner's default node timeout applies.
	Timeout time.Duration

	// Retry specifies automatic retry for transient failures. Nil means
	// no retries beyond the initial attempt.
	Retry *RetryPolicy
}

// RetryPolicy defines bounded exponential backoff for transient node
// failures. Only collaborator-style errors should be marked retryable;
// deterministic failures retried forever just burn the run budget.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Must be >= 1; 1 disables retries.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff. The delay before retry n
	// is min(BaseDelay * 2^n, MaxDelay) plus jitter in [0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil means no error is retryable.
	Retryable func(error) bool
}

// Validate checks policy constraints at graph-construction time.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) retryable(err error) bool {
	return rp != nil && rp.Retryable != nil && rp.Retryable(err)
}

// computeBackoff returns the sleep before retry attempt (zero-based).
// Exponential growth capped at maxDelay, with jitter in [0, base) to
// spread synchronized retries apart.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry jitter, not security sensitive
	return delay + jitter
}
