package actor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagi-dev/usagi/core/blob"
	"github.com/usagi-dev/usagi/core/reply"
	"github.com/usagi-dev/usagi/core/speech"
	"github.com/usagi-dev/usagi/core/tokenize"
)

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()

	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)

	r, err := NewRegistry(cfg, Deps{
		Replies:   reply.Mock{},
		Tokenizer: tokenize.NewLoose(),
		TTS:       &speech.MockTTS{Blobs: blobs},
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestInit_ReturnsGreetingWithAudio(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	res, err := r.Init(context.Background(), "s1", "child-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, reply.Greeting, res.Greeting)
	assert.NotEmpty(t, res.TTSAudioRef)
}

func TestInit_SameChildIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	first, err := r.Init(context.Background(), "s1", "child-1", time.Time{})
	require.NoError(t, err)

	again, err := r.Init(context.Background(), "s1", "child-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// Re-init must not reset the conversation.
	_, err = r.Chat(context.Background(), "s1", "t1", "ねこ")
	require.NoError(t, err)
	_, err = r.Init(context.Background(), "s1", "child-1", time.Time{})
	require.NoError(t, err)

	state, ok := r.Snapshot("s1")
	require.True(t, ok)
	assert.Len(t, state.Window, 1)
}

func TestInit_DifferentChildFails(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	_, err := r.Init(context.Background(), "s1", "child-1", time.Time{})
	require.NoError(t, err)

	_, err = r.Init(context.Background(), "s1", "child-2", time.Time{})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestChat_BeforeInitFails(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	_, err := r.Chat(context.Background(), "s1", "t1", "こんにちは")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestChat_ReplyEmbedsChildInput(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	_, err := r.Init(context.Background(), "s1", "child-1", time.Time{})
	require.NoError(t, err)

	res, err := r.Chat(context.Background(), "s1", "t1", "こんにちは")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "こんにちは")
	assert.NotEmpty(t, res.TTSAudioRef)
	assert.Equal(t, []string{"こんにちは"}, res.Vocabulary)
}

func TestChat_WindowBoundedAndChronological(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	_, err := r.Init(context.Background(), "s1", "child-1", time.Time{})
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		_, err := r.Chat(context.Background(), "s1", fmt.Sprintf("t%d", i), fmt.Sprintf("ことば%d", i))
		require.NoError(t, err)
	}

	state, ok := r.Snapshot("s1")
	require.True(t, ok)
	require.Len(t, state.Window, DefaultContextWindow)
	for i, turn := range state.Window {
		assert.Equal(t, fmt.Sprintf("t%d", i+2), turn.TurnID)
	}
}

func TestChat_VocabularyCacheDeduplicates(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	_, err := r.Init(context.Background(), "s1", "child-1", time.Time{})
	require.NoError(t, err)

	_, err = r.Chat(context.Background(), "s1", "t1", "ねこ　いぬ")
	require.NoError(t, err)
	_, err = r.Chat(context.Background(), "s1", "t2", "ねこ　うさぎ")
	require.NoError(t, err)

	state, ok := r.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, []string{"ねこ", "いぬ", "うさぎ"}, state.NewThisSession)
}

func TestExpiry_ChatFailsAfterLifetimeElapsed(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	now := time.Now()
	r.now = func() time.Time { return now }

	_, err := r.Init(context.Background(), "s1", "child-1", now)
	require.NoError(t, err)

	_, err = r.Chat(context.Background(), "s1", "t1", "こんにちは")
	require.NoError(t, err)

	// One hour and one millisecond after session start.
	r.now = func() time.Time { return now.Add(time.Hour + time.Millisecond) }

	_, err = r.Chat(context.Background(), "s1", "t2", "まだいる？")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestExpire_RemovesOnlyElapsedSessions(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	now := time.Now()
	r.now = func() time.Time { return now }

	_, err := r.Init(context.Background(), "s1", "child-1", now)
	require.NoError(t, err)

	assert.False(t, r.Expire("s1"))
	assert.False(t, r.Expire("missing"))

	r.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.True(t, r.Expire("s1"))

	_, ok := r.Snapshot("s1")
	assert.False(t, ok)
}

func TestSweep_ExpiresIdleSessions(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	now := time.Now()
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := r.Init(context.Background(), fmt.Sprintf("s%d", i), "child-1", now)
		require.NoError(t, err)
	}

	r.now = func() time.Time { return now.Add(2 * time.Hour) }
	r.sweep()

	for i := 0; i < 3; i++ {
		_, ok := r.Snapshot(fmt.Sprintf("s%d", i))
		assert.False(t, ok)
	}
}

type staticRehydrator struct {
	state *State
}

func (s *staticRehydrator) Rehydrate(_ context.Context, sessionID string) (*State, bool, error) {
	if s.state == nil || s.state.SessionID != sessionID {
		return nil, false, nil
	}
	return s.state, true, nil
}

func TestChat_RehydratesEvictedSession(t *testing.T) {
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	r, err := NewRegistry(DefaultConfig(), Deps{
		Replies:   reply.Mock{},
		Tokenizer: tokenize.NewLoose(),
		TTS:       &speech.MockTTS{Blobs: blobs},
		Rehydrator: &staticRehydrator{state: &State{
			SessionID: "s1",
			ChildID:   "child-1",
			StartedAt: now,
			Window:    []WindowTurn{{TurnID: "t1", ChildInput: "ねこ", Response: "にゃー", Timestamp: now}},
		}},
	})
	require.NoError(t, err)
	defer r.Close()
	r.now = func() time.Time { return now.Add(time.Minute) }

	res, err := r.Chat(context.Background(), "s1", "t2", "いぬ")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "いぬ")

	state, ok := r.Snapshot("s1")
	require.True(t, ok)
	assert.Len(t, state.Window, 2)
	assert.Equal(t, "t1", state.Window[0].TurnID)
}

func TestChat_PerSessionOrdering(t *testing.T) {
	r := newTestRegistry(t, DefaultConfig())

	_, err := r.Init(context.Background(), "s1", "child-1", time.Time{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Chat(context.Background(), "s1", fmt.Sprintf("t%d", i), "ことば")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	state, ok := r.Snapshot("s1")
	require.True(t, ok)
	assert.Len(t, state.Window, DefaultContextWindow)
	assert.Equal(t, []string{"ことば"}, state.NewThisSession)
}
