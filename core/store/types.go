// Package store is the relational system of record for sessions, turns,
// vocabulary, highlights, and analysis-job bookkeeping. No other component
// may be the sole holder of facts needed after a process restart.
package store

import (
	"errors"
	"time"
)

// =============================================================================
// Row Types
// =============================================================================

// Session is the durable record of one child/companion interaction.
// Sessions are never physically deleted; expiry only affects the actor cache.
type Session struct {
	ID           string    `json:"id"`
	ChildID      string    `json:"child_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`

	// TurnCount is advisory: it is bumped in a separate write from the turn
	// insert, so a crash between the two can leave it stale by one.
	TurnCount int    `json:"turn_count"`
	Active    bool   `json:"active"`
	Metadata  string `json:"metadata,omitempty"`
}

// Turn is one child-input/reply exchange. Immutable once written.
type Turn struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	ChildInput     string    `json:"child_input"`
	RabbitResponse string    `json:"rabbit_response"`
	ChildAudioKey  string    `json:"child_audio_key,omitempty"`
	RabbitAudioKey string    `json:"rabbit_audio_key,omitempty"`
	DurationMs     int64     `json:"duration_ms,omitempty"`
}

// VocabularyEntry records that a word occurred in a turn of a session.
// One row per occurrence.
type VocabularyEntry struct {
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
	Word        string    `json:"word"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// HighlightType classifies a highlight.
type HighlightType string

const (
	HighlightNewWord         HighlightType = "new_word"
	HighlightLongSentence    HighlightType = "long_sentence"
	HighlightEmotionalMoment HighlightType = "emotional_moment"
)

// Highlight is a derived, human-readable note about a notable turn.
// Only new_word highlights are produced; the other types are declared
// for the schema but have no producer.
type Highlight struct {
	ID          string        `json:"id"`
	TurnID      string        `json:"turn_id"`
	SessionID   string        `json:"session_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Type        HighlightType `json:"type"`
	Word        string        `json:"word,omitempty"`
	Description string        `json:"description"`
	Excerpt     string        `json:"excerpt"`
}

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal returns true if this is a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// AnalysisJob tracks one asynchronous vocabulary-extraction attempt for one
// turn. At most one job row exists per turn (unique on turn id).
type AnalysisJob struct {
	ID          string     `json:"id"`
	TurnID      string     `json:"turn_id"`
	JobType     string     `json:"job_type"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// DailySummary is one day's rollup over the trailing window.
type DailySummary struct {
	ID              string    `json:"id"`
	Day             string    `json:"day"` // YYYY-MM-DD
	CreatedAt       time.Time `json:"created_at"`
	ActiveSessions  int       `json:"active_sessions"`
	TotalTurns      int       `json:"total_turns"`
	NewWords        int       `json:"new_words"`
	DistinctWords   int       `json:"distinct_words"`
	SummaryMarkdown string    `json:"summary_markdown"`
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrSessionNotFound indicates the session row does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTurnNotFound indicates the turn row does not exist.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrJobNotFound indicates no analysis job exists for the turn.
	ErrJobNotFound = errors.New("analysis job not found")
)
