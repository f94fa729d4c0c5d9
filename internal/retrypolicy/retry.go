// Package retrypolicy computes retry delays and retry eligibility,
// independent of how the delay is actually slept out (that's the
// Scheduler's job, via a delayed re-enqueue).
package retrypolicy

import (
	"math/rand"
	"time"

	"github.com/swarmguard/taskcore/internal/classifier"
	"github.com/swarmguard/taskcore/internal/taskmodel"
)

// CategoryMultiplier is the Resilience Layer boundary adjustment
// applied on top of the policy-computed delay, keyed by classified
// category.
func CategoryMultiplier(cat taskmodel.RetryCategory) float64 {
	switch cat {
	case taskmodel.RetryOnTimeout:
		return 2.0
	case taskmodel.RetryOnResource:
		return 1.5
	case taskmodel.RetryOnDependency:
		return 0.5
	default: // transient
		return 1.0
	}
}

// Rand is the jitter source; tests substitute a seeded *rand.Rand for
// determinism.
type Rand interface {
	Float64() float64
}

type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// Delay computes the next-attempt delay for attempt index n (1-based)
// under policy p, using r for jitter. delay = min(max_delay,
// base_delay*backoff^(n-1) + J) where J is uniform in
// ±(exponential*jitter_factor*0.5).
func Delay(n int, p taskmodel.RetryPolicy, r Rand) time.Duration {
	if r == nil {
		r = defaultRand{}
	}
	if n < 1 {
		n = 1
	}
	exponential := float64(p.BaseDelay) * pow(p.BackoffFactor, n-1)

	jitterSpan := exponential * p.JitterFactor * 0.5
	jitter := (r.Float64()*2 - 1) * jitterSpan

	delay := exponential + jitter
	if delay < 0 {
		delay = 0
	}

	max := float64(p.MaxDelay)
	if p.MaxDelay > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// ShouldRetry reports whether a task is retried: classified retryable,
// the attempt budget remains, and the classified category is in the
// policy's retry_on set.
func ShouldRetry(attemptCount int, p taskmodel.RetryPolicy, c classifier.Classification) bool {
	if !c.Retryable {
		return false
	}
	if attemptCount >= p.MaxAttempts {
		return false
	}
	return p.Allows(c.RetryCategory())
}

// DelayWithCategory applies the category multiplier on top of the
// policy-computed delay, as the Resilience Layer boundary does.
func DelayWithCategory(n int, p taskmodel.RetryPolicy, cat taskmodel.RetryCategory, r Rand) time.Duration {
	base := Delay(n, p, r)
	scaled := time.Duration(float64(base) * CategoryMultiplier(cat))
	if p.MaxDelay > 0 && scaled > p.MaxDelay {
		scaled = p.MaxDelay
	}
	return scaled
}
