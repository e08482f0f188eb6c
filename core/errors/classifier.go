package errors

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// Classify assigns a tier to an untyped error based on well-known causes.
// Unknown errors are treated as transient so the queue retries them a bounded
// number of times before dead-lettering.
func Classify(err error) ErrorTier {
	if err == nil {
		return TierTransient
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, os.ErrDeadlineExceeded):
		return TierTransient
	case errors.Is(err, context.Canceled):
		return TierPermanent
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "database is locked", "busy", "connection reset", "timeout", "temporarily unavailable"):
		return TierTransient
	case containsAny(msg, "rate limit", "too many requests", "overloaded"):
		return TierExternalRateLimit
	case containsAny(msg, "unique constraint", "constraint failed", "syntax error", "no such table", "invalid"):
		return TierPermanent
	}

	return TierTransient
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
