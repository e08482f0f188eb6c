// Package errors provides tiered error classification and retry policies for
// the asynchronous analysis path. The queue uses the tier of a handler error
// to decide between backoff redelivery and dead-lettering.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Error Tiers
// =============================================================================

// ErrorTier classifies errors by how they should be handled.
type ErrorTier string

const (
	// TierTransient covers errors expected to clear on retry (locked
	// database, interrupted I/O, timeouts).
	TierTransient ErrorTier = "transient"

	// TierExternalRateLimit covers upstream provider throttling.
	TierExternalRateLimit ErrorTier = "rate_limit"

	// TierPermanent covers errors that will never succeed on retry
	// (malformed payloads, constraint violations other than uniqueness).
	TierPermanent ErrorTier = "permanent"

	// TierUserFixable covers errors the caller must correct before retrying
	// (validation failures, uninitialized session).
	TierUserFixable ErrorTier = "user_fixable"
)

// Retryable returns true if errors of this tier should be redelivered.
func (t ErrorTier) Retryable() bool {
	return t == TierTransient || t == TierExternalRateLimit
}

// =============================================================================
// TieredError
// =============================================================================

// TieredError wraps an error with its classification tier.
type TieredError struct {
	Tier       ErrorTier
	Err        error
	RetryAfter time.Duration
}

func (e *TieredError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Tier, e.Err)
}

func (e *TieredError) Unwrap() error {
	return e.Err
}

// NewTiered wraps err with the given tier.
func NewTiered(tier ErrorTier, err error) *TieredError {
	return &TieredError{Tier: tier, Err: err}
}

// TierOf returns the tier of err, classifying it if it is not already tiered.
func TierOf(err error) ErrorTier {
	var te *TieredError
	if errors.As(err, &te) {
		return te.Tier
	}
	return Classify(err)
}
