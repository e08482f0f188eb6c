package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/usagi-dev/usagi/core/reply"
	"github.com/usagi-dev/usagi/core/speech"
	"github.com/usagi-dev/usagi/core/tokenize"
)

// =============================================================================
// Registry
// =============================================================================

// Deps are the capabilities the registry injects into every session.
type Deps struct {
	Replies    reply.Generator
	Tokenizer  tokenize.Tokenizer
	TTS        speech.TextToSpeech
	Rehydrator Rehydrator
	Logger     *slog.Logger
}

// Registry maps session ids to actors and owns their lifecycle. Residency is
// bounded by an LRU; evicting an actor only discards a rebuildable cache.
type Registry struct {
	mu     sync.Mutex
	actors *lru.Cache[string, *Actor]
	cfg    Config
	deps   Deps
	logger *slog.Logger
	closed bool

	now func() time.Time

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewRegistry creates an actor registry and starts its expiry sweep.
func NewRegistry(cfg Config, deps Deps) (*Registry, error) {
	cfg = normalizeConfig(cfg)

	if deps.Replies == nil {
		return nil, fmt.Errorf("reply generator is required")
	}
	if deps.Tokenizer == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if deps.TTS == nil {
		return nil, fmt.Errorf("text-to-speech is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "actor_registry")

	r := &Registry{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		now:       time.Now,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	actors, err := lru.NewWithEvict[string, *Actor](cfg.MaxResident, func(sessionID string, _ *Actor) {
		logger.Debug("actor evicted", "session_id", sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("create actor cache: %w", err)
	}
	r.actors = actors

	go r.sweepLoop()
	return r, nil
}

// Close stops the sweep loop and drops all resident actors.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stopSweep)
	<-r.sweepDone

	r.actors.Purge()
}

func (r *Registry) getOrCreate(sessionID string) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if a, ok := r.actors.Get(sessionID); ok {
		return a, nil
	}
	a := &Actor{}
	r.actors.Add(sessionID, a)
	return a, nil
}

// =============================================================================
// Operations
// =============================================================================

// Init starts a session: it records the session metadata and returns the
// greeting with its synthesized audio reference. Calling Init again for a
// live session with the same child is an idempotent no-op returning the same
// greeting; with a different child it fails instead of silently resetting.
func (r *Registry) Init(ctx context.Context, sessionID, childID string, startedAt time.Time) (InitResult, error) {
	if err := validateSessionID(sessionID); err != nil {
		return InitResult{}, err
	}

	a, err := r.getOrCreate(sessionID)
	if err != nil {
		return InitResult{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := r.now()
	if a.expired(now, r.cfg.IdleTimeout) {
		a.reset()
	}

	if a.state != nil {
		if a.state.ChildID != childID {
			return InitResult{}, ErrAlreadyInitialized
		}
		return InitResult{Greeting: reply.Greeting, TTSAudioRef: a.greetingRef}, nil
	}

	if startedAt.IsZero() {
		startedAt = now
	}
	a.initialize(sessionID, childID, startedAt)

	ref, err := r.deps.TTS.Synthesize(ctx, reply.Greeting)
	if err != nil {
		a.reset()
		return InitResult{}, fmt.Errorf("synthesize greeting: %w", err)
	}
	a.greetingRef = ref

	r.logger.Info("session initialized",
		"session_id", sessionID,
		"started_at", startedAt)

	return InitResult{Greeting: reply.Greeting, TTSAudioRef: ref}, nil
}

// Chat handles one conversational turn: generate a reply over the retained
// context window, fold the input's words into the vocabulary cache, append
// the exchange to the window, and synthesize the reply audio. Fails with
// ErrNotInitialized when no live session exists.
func (r *Registry) Chat(ctx context.Context, sessionID, turnID, childInput string) (ChatResult, error) {
	if err := validateSessionID(sessionID); err != nil {
		return ChatResult{}, err
	}

	a, err := r.getOrCreate(sessionID)
	if err != nil {
		return ChatResult{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == nil && r.deps.Rehydrator != nil {
		state, ok, err := r.deps.Rehydrator.Rehydrate(ctx, sessionID)
		if err != nil {
			return ChatResult{}, fmt.Errorf("rehydrate session: %w", err)
		}
		if ok {
			a.state = state
			if a.state.Seen == nil {
				a.state.Seen = make(map[string]struct{})
			}
			r.logger.Debug("session rehydrated",
				"session_id", sessionID,
				"window", len(state.Window))
		}
	}

	if a.state == nil {
		return ChatResult{}, ErrNotInitialized
	}

	now := r.now()
	if a.expired(now, r.cfg.IdleTimeout) {
		a.reset()
		r.logger.Info("session expired on access", "session_id", sessionID)
		return ChatResult{}, ErrNotInitialized
	}

	replyText, err := r.deps.Replies.Generate(ctx, a.contextWindow(), childInput)
	if err != nil {
		return ChatResult{}, fmt.Errorf("generate reply: %w", err)
	}

	words := r.deps.Tokenizer.Tokenize(childInput)
	added := a.absorbVocabulary(words)
	a.recordTurn(turnID, childInput, replyText, now, r.cfg.ContextWindow)

	ref, err := r.deps.TTS.Synthesize(ctx, replyText)
	if err != nil {
		return ChatResult{}, fmt.Errorf("synthesize reply: %w", err)
	}

	r.logger.Debug("turn handled",
		"session_id", sessionID,
		"turn_id", turnID,
		"words", len(words),
		"new_words", added)

	return ChatResult{Reply: replyText, TTSAudioRef: ref, Vocabulary: words}, nil
}

// Expire drops the session's state if its lifetime has elapsed. It reports
// whether state was removed.
func (r *Registry) Expire(sessionID string) bool {
	a, ok := r.actors.Peek(sessionID)
	if !ok {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.expired(r.now(), r.cfg.IdleTimeout) {
		return false
	}
	a.reset()
	r.actors.Remove(sessionID)
	r.logger.Info("session expired", "session_id", sessionID)
	return true
}

// Snapshot returns a copy of the session's live state for inspection.
func (r *Registry) Snapshot(sessionID string) (State, bool) {
	a, ok := r.actors.Peek(sessionID)
	if !ok {
		return State{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

// =============================================================================
// Expiry sweep
// =============================================================================

func (r *Registry) sweepLoop() {
	defer close(r.sweepDone)

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopSweep:
			return
		}
	}
}

func (r *Registry) sweep() {
	expired := 0
	for _, sessionID := range r.actors.Keys() {
		if r.Expire(sessionID) {
			expired++
		}
	}
	if expired > 0 {
		r.logger.Info("expiry sweep", "expired", expired)
	}
}
