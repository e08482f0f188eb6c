// Package auth gates the parent-facing surfaces behind a shared PIN.
package auth

import (
	"crypto/subtle"
	"errors"
)

// HeaderParentPIN is the header carrying the parent's PIN.
const HeaderParentPIN = "x-parent-pin"

var (
	// ErrPINNotConfigured means no PIN is set, so parent surfaces are off.
	ErrPINNotConfigured = errors.New("parent pin is not configured")

	// ErrInvalidPIN means the presented PIN did not match.
	ErrInvalidPIN = errors.New("invalid parent pin")
)

// ParentGate verifies parent credentials.
type ParentGate struct {
	pin string
}

// NewParentGate creates a gate for the configured PIN. An empty PIN disables
// the gate: every Verify fails with ErrPINNotConfigured rather than letting
// everything through.
func NewParentGate(pin string) *ParentGate {
	return &ParentGate{pin: pin}
}

// Verify checks the presented PIN in constant time.
func (g *ParentGate) Verify(presented string) error {
	if g.pin == "" {
		return ErrPINNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(g.pin), []byte(presented)) != 1 {
		return ErrInvalidPIN
	}
	return nil
}
