package exec

import (
	"slices"
	"time"
)

// RetryPolicy governs how the substrate retries a single activity call.
//
// Delay before attempt n (n >= 2) is min(Ceiling, Initial*Backoff^(n-2)).
// An error whose class appears in NonRetryable fails the call immediately
// regardless of remaining attempts.
type RetryPolicy struct {
	Initial      time.Duration
	Backoff      float64
	Ceiling      time.Duration
	MaxAttempts  int
	NonRetryable []string
}

// DefaultRetryPolicy is used when a caller passes a zero policy.
var DefaultRetryPolicy = RetryPolicy{
	Initial:     time.Second,
	Backoff:     2.0,
	Ceiling:     time.Minute,
	MaxAttempts: 3,
}

// NoRetry performs a single attempt.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// IsZero reports whether the policy is unset.
func (p RetryPolicy) IsZero() bool {
	return p.MaxAttempts == 0 && p.Initial == 0 && p.Backoff == 0
}

// Retryable reports whether an error of the given class may be retried
// under this policy.
func (p RetryPolicy) Retryable(class string) bool {
	return !slices.Contains(p.NonRetryable, class)
}

// Delay returns the backoff delay preceding the given attempt number
// (1-based). Attempt 1 has no delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.Initial)
	for i := 2; i < attempt; i++ {
		d *= p.Backoff
	}
	delay := time.Duration(d)
	if p.Ceiling > 0 && delay > p.Ceiling {
		delay = p.Ceiling
	}
	return delay
}
