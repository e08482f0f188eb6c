// Package actor hosts the per-session conversational state. Each session id
// owns exactly one actor; all operations on a session serialize through that
// actor's mutex, so interactive turns are totally ordered per session. Actor
// state is a projection of the relational store and may be dropped and
// rebuilt at any time without semantic loss.
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/usagi-dev/usagi/core/reply"
)

// Actor serializes all operations for one session.
type Actor struct {
	mu    sync.Mutex
	state *State

	// greetingRef lets re-init return the same audio reference instead of
	// synthesizing a fresh one.
	greetingRef string
}

// expired reports whether the session's lifetime has elapsed. Expiry is
// measured from session start: a session is a bounded play period and
// chatting does not extend it.
func (a *Actor) expired(now time.Time, idle time.Duration) bool {
	return a.state != nil && now.Sub(a.state.StartedAt) > idle
}

// reset drops all session state.
func (a *Actor) reset() {
	a.state = nil
	a.greetingRef = ""
}

// initialize builds fresh state for a session.
func (a *Actor) initialize(sessionID, childID string, startedAt time.Time) {
	a.state = &State{
		SessionID: sessionID,
		ChildID:   childID,
		StartedAt: startedAt,
		Seen:      make(map[string]struct{}),
	}
}

// recordTurn appends an exchange to the context window, evicting the oldest
// entry once the window is full.
func (a *Actor) recordTurn(turnID, childInput, response string, at time.Time, window int) {
	a.state.Window = append(a.state.Window, WindowTurn{
		TurnID:     turnID,
		ChildInput: childInput,
		Response:   response,
		Timestamp:  at,
	})
	if len(a.state.Window) > window {
		a.state.Window = a.state.Window[len(a.state.Window)-window:]
	}
}

// absorbVocabulary adds unseen words to the session vocabulary cache and
// returns how many were new.
func (a *Actor) absorbVocabulary(words []string) int {
	added := 0
	for _, word := range words {
		if _, ok := a.state.Seen[word]; ok {
			continue
		}
		a.state.Seen[word] = struct{}{}
		a.state.NewThisSession = append(a.state.NewThisSession, word)
		added++
	}
	return added
}

// contextWindow converts the retained turns into generator context.
func (a *Actor) contextWindow() []reply.ContextTurn {
	if len(a.state.Window) == 0 {
		return nil
	}
	turns := make([]reply.ContextTurn, len(a.state.Window))
	for i, w := range a.state.Window {
		turns[i] = reply.ContextTurn{ChildInput: w.ChildInput, Response: w.Response}
	}
	return turns
}

// snapshot returns a defensive copy of the state for inspection.
func (a *Actor) snapshot() (State, bool) {
	if a.state == nil {
		return State{}, false
	}
	s := *a.state
	s.Window = append([]WindowTurn(nil), a.state.Window...)
	s.NewThisSession = append([]string(nil), a.state.NewThisSession...)
	s.Seen = make(map[string]struct{}, len(a.state.Seen))
	for w := range a.state.Seen {
		s.Seen[w] = struct{}{}
	}
	return s, true
}

// Rehydrator rebuilds actor state from durable storage after an eviction or a
// restart. Implementations return ok=false when no live session exists.
type Rehydrator interface {
	Rehydrate(ctx context.Context, sessionID string) (*State, bool, error)
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}
