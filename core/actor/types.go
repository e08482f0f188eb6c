package actor

import (
	"errors"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotInitialized indicates Chat was called before Init (or after expiry).
	ErrNotInitialized = errors.New("session actor not initialized")

	// ErrAlreadyInitialized indicates Init was called for a live session with
	// conflicting metadata. Re-init with matching metadata is a no-op instead.
	ErrAlreadyInitialized = errors.New("session actor already initialized")

	// ErrRegistryClosed indicates the actor registry is shut down.
	ErrRegistryClosed = errors.New("actor registry is closed")
)

// =============================================================================
// Configuration
// =============================================================================

const (
	// DefaultContextWindow is the bounded recent-turn history per session.
	DefaultContextWindow = 5

	// DefaultIdleTimeout expires a session one hour after it started.
	// Deliberately measured from session start, not last activity: a
	// companion session is a bounded play period, and chatting does not
	// re-arm the timer.
	DefaultIdleTimeout = time.Hour

	// DefaultMaxResident bounds in-memory actors; evicted state is a
	// rebuildable projection of the relational store.
	DefaultMaxResident = 1024

	// DefaultSweepInterval is how often idle actors are reaped.
	DefaultSweepInterval = time.Minute
)

// Config holds configuration for the actor registry.
type Config struct {
	ContextWindow int
	IdleTimeout   time.Duration
	MaxResident   int
	SweepInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ContextWindow: DefaultContextWindow,
		IdleTimeout:   DefaultIdleTimeout,
		MaxResident:   DefaultMaxResident,
		SweepInterval: DefaultSweepInterval,
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxResident <= 0 {
		cfg.MaxResident = DefaultMaxResident
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return cfg
}

// =============================================================================
// State
// =============================================================================

// WindowTurn is one exchange retained in the context window.
type WindowTurn struct {
	TurnID     string    `json:"turn_id"`
	ChildInput string    `json:"child_input"`
	Response   string    `json:"response"`
	Timestamp  time.Time `json:"timestamp"`
}

// State is the per-session actor state. It is owned exclusively by its actor;
// the worker and aggregator never touch it.
type State struct {
	SessionID string    `json:"session_id"`
	ChildID   string    `json:"child_id,omitempty"`
	StartedAt time.Time `json:"started_at"`

	// Window holds the most recent turns, oldest first, capped at the
	// configured context window.
	Window []WindowTurn `json:"window"`

	// Seen is the session vocabulary cache: every word observed so far.
	Seen map[string]struct{} `json:"-"`

	// NewThisSession lists words in first-seen order. Append-only.
	NewThisSession []string `json:"new_this_session"`
}

// Results returned to the request path.

// InitResult is the response to a session start.
type InitResult struct {
	Greeting    string `json:"greeting"`
	TTSAudioRef string `json:"tts_audio_ref"`
}

// ChatResult is the response to one conversational turn.
type ChatResult struct {
	Reply       string   `json:"reply"`
	TTSAudioRef string   `json:"tts_audio_ref"`
	Vocabulary  []string `json:"vocabulary"`
}
