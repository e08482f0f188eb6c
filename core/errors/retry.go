package errors

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy defines the retry behavior for a specific error tier.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retry attempts (0 means no retry).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the starting backoff duration.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum backoff duration.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64 `yaml:"multiplier"`

	// JitterPercent is the jitter percentage (default: 0.1 for 10%).
	JitterPercent float64 `yaml:"jitter_percent"`
}

// DefaultRetryPolicies returns the default retry policies for each error tier.
func DefaultRetryPolicies() map[ErrorTier]*RetryPolicy {
	return map[ErrorTier]*RetryPolicy{
		TierTransient: {
			MaxAttempts:   5,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			Multiplier:    2.0,
			JitterPercent: 0.1,
		},
		TierExternalRateLimit: {
			MaxAttempts:   10,
			InitialDelay:  1 * time.Second,
			MaxDelay:      60 * time.Second,
			Multiplier:    2.0,
			JitterPercent: 0.1,
		},
		TierPermanent:   noRetryPolicy(),
		TierUserFixable: noRetryPolicy(),
	}
}

func noRetryPolicy() *RetryPolicy {
	return &RetryPolicy{}
}

// RetryExecutor executes operations with retry logic based on error tiers.
type RetryExecutor struct {
	policies map[ErrorTier]*RetryPolicy
}

// NewRetryExecutor creates a new RetryExecutor with the given policies.
// Nil policies fall back to DefaultRetryPolicies.
func NewRetryExecutor(policies map[ErrorTier]*RetryPolicy) *RetryExecutor {
	if policies == nil {
		policies = DefaultRetryPolicies()
	}
	return &RetryExecutor{policies: policies}
}

// Policy returns the retry policy for a given error tier.
func (e *RetryExecutor) Policy(tier ErrorTier) *RetryPolicy {
	if policy, ok := e.policies[tier]; ok {
		return policy
	}
	return noRetryPolicy()
}

// Execute runs fn, retrying per the policy of each returned error's tier.
// Returns the last error if all attempts fail.
func (e *RetryExecutor) Execute(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		policy := e.Policy(TierOf(lastErr))
		if attempt >= policy.MaxAttempts {
			return lastErr
		}

		delay := e.computeDelay(lastErr, attempt, policy)
		if err := waitBeforeRetry(ctx, delay); err != nil {
			return lastErr
		}
	}
}

func (e *RetryExecutor) computeDelay(err error, attempt int, policy *RetryPolicy) time.Duration {
	if retryAfter := extractRetryAfter(err); retryAfter > 0 {
		return retryAfter
	}
	return AddJitter(CalculateDelay(attempt, policy), policy.JitterPercent)
}

func extractRetryAfter(err error) time.Duration {
	var te *TieredError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// waitBeforeRetry waits for the specified delay or returns if context is cancelled.
func waitBeforeRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
