// Package queue provides the in-process delivery path between the interactive
// turn handler and the analysis worker. Delivery is at-least-once: a failed
// handler invocation is redelivered with backoff until it succeeds or exhausts
// its attempts, at which point the message lands in the dead-letter store.
// Messages for the same session are delivered in enqueue order.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Message[T] - Delivery Envelope
// =============================================================================

// Message wraps a payload with the routing key and delivery bookkeeping.
type Message[T any] struct {
	// ID is the unique message identifier (UUID).
	ID string `json:"id"`

	// SessionID is the routing key; messages sharing it deliver in order.
	SessionID string `json:"session_id"`

	// Payload is the typed message content.
	Payload T `json:"payload"`

	// Timestamp is when the message was enqueued.
	Timestamp time.Time `json:"timestamp"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Attempt is the delivery attempt number, 1-indexed.
	Attempt int `json:"attempt"`

	// MaxAttempts caps redelivery. 0 means use the queue default.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Error holds the last handler error when Status is failed or dead.
	Error string `json:"error,omitempty"`

	// ProcessedAt is when the message reached a terminal state.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// NewMessage creates a queued message for the given session.
func NewMessage[T any](sessionID string, payload T) *Message[T] {
	return &Message[T]{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now(),
		Status:    StatusQueued,
		Attempt:   1,
	}
}

// =============================================================================
// Status
// =============================================================================

// Status represents the lifecycle state of a message.
type Status string

const (
	// StatusQueued means the message is waiting for delivery.
	StatusQueued Status = "queued"

	// StatusProcessing means a worker is handling the message.
	StatusProcessing Status = "processing"

	// StatusCompleted means the handler succeeded.
	StatusCompleted Status = "completed"

	// StatusFailed means the last attempt failed and redelivery is pending.
	StatusFailed Status = "failed"

	// StatusDead means attempts are exhausted and the message was
	// dead-lettered.
	StatusDead Status = "dead"
)

// IsTerminal returns true for final states.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDead
}

// =============================================================================
// Lifecycle
// =============================================================================

// MarkProcessing transitions the message to processing.
func (m *Message[T]) MarkProcessing() {
	m.Status = StatusProcessing
}

// MarkCompleted transitions the message to completed.
func (m *Message[T]) MarkCompleted() {
	m.Status = StatusCompleted
	now := time.Now()
	m.ProcessedAt = &now
}

// MarkFailed records a failed attempt.
func (m *Message[T]) MarkFailed(err string) {
	m.Status = StatusFailed
	m.Error = err
}

// MarkDead transitions the message to dead after attempts are exhausted.
func (m *Message[T]) MarkDead(err string) {
	m.Status = StatusDead
	m.Error = err
	now := time.Now()
	m.ProcessedAt = &now
}

// CanRetry reports whether another delivery attempt is allowed.
func (m *Message[T]) CanRetry(defaultMaxAttempts int) bool {
	if m.Status.IsTerminal() {
		return false
	}
	max := m.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	return m.Attempt < max
}

// IncrementAttempt bumps the attempt counter and requeues the message.
func (m *Message[T]) IncrementAttempt() {
	m.Attempt++
	m.Status = StatusQueued
}
