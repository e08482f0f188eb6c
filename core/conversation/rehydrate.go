package conversation

import (
	"context"
	"errors"

	"github.com/usagi-dev/usagi/core/actor"
	"github.com/usagi-dev/usagi/core/store"
)

// StoreRehydrator rebuilds actor state from the relational store so an
// evicted or restarted process picks a session back up mid-conversation.
type StoreRehydrator struct {
	store  *store.Store
	window int
}

// NewStoreRehydrator creates a rehydrator that restores up to window turns.
func NewStoreRehydrator(st *store.Store, window int) *StoreRehydrator {
	if window <= 0 {
		window = actor.DefaultContextWindow
	}
	return &StoreRehydrator{store: st, window: window}
}

// Rehydrate implements actor.Rehydrator. The expiry decision stays with the
// actor; this only reassembles state for sessions that have a row.
func (r *StoreRehydrator) Rehydrate(ctx context.Context, sessionID string) (*actor.State, bool, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	turns, err := r.store.RecentTurns(ctx, sessionID, r.window)
	if err != nil {
		return nil, false, err
	}

	seen, err := r.store.DistinctWords(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	state := &actor.State{
		SessionID: sess.ID,
		ChildID:   sess.ChildID,
		StartedAt: sess.StartedAt,
		Seen:      seen,
		// NewThisSession is not reconstructed: first-seen order is not
		// recoverable from the occurrence rows, and the list only feeds
		// the live session surface.
	}
	for _, t := range turns {
		state.Window = append(state.Window, actor.WindowTurn{
			TurnID:     t.ID,
			ChildInput: t.ChildInput,
			Response:   t.RabbitResponse,
			Timestamp:  t.Timestamp,
		})
	}
	return state, true, nil
}
