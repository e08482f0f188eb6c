package aggregate

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagi-dev/usagi/core/analysis"
	"github.com/usagi-dev/usagi/core/database"
	"github.com/usagi-dev/usagi/core/store"
	"github.com/usagi-dev/usagi/core/tokenize"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	pool, err := database.Open(filepath.Join(t.TempDir(), "usagi.db"), database.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	require.NoError(t, database.NewMigrator(pool, database.Migrations()).Migrate(context.Background()))
	return store.New(pool)
}

// Three sessions, ten turns, five distinct words.
func seedFixture(t *testing.T, st *store.Store, now time.Time) {
	t.Helper()
	ctx := context.Background()

	worker := analysis.NewWorker(st, tokenize.NewLoose(), analysis.Config{}, nil)

	inputs := []string{"ねこ", "いぬ", "うさぎ", "とり", "さかな", "ねこ", "いぬ", "うさぎ", "とり", "さかな"}
	turn := 0
	for s := 0; s < 3; s++ {
		sessionID := fmt.Sprintf("s%d", s)
		require.NoError(t, st.EnsureSession(ctx, sessionID, "child-1", now))

		perSession := 3
		if s == 0 {
			perSession = 4 // 4 + 3 + 3 = 10
		}
		for i := 0; i < perSession; i++ {
			turnID := fmt.Sprintf("t%d", turn)
			at := now.Add(time.Duration(turn) * time.Minute)
			require.NoError(t, st.InsertTurn(ctx, &store.Turn{
				ID:             turnID,
				SessionID:      sessionID,
				Timestamp:      at,
				ChildInput:     inputs[turn%len(inputs)],
				RabbitResponse: "うんうん！",
			}))
			require.NoError(t, st.TouchSession(ctx, sessionID, at))
			require.NoError(t, worker.Process(ctx, analysis.Request{
				TurnID:    turnID,
				SessionID: sessionID,
				Text:      inputs[turn%len(inputs)],
				Timestamp: at,
			}))
			turn++
		}
	}
}

func TestRunOnce_RollsUpFixture(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	seedFixture(t, st, now.Add(-time.Hour))

	a := New(st, Config{}, nil)
	a.now = func() time.Time { return now }

	stats, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.ActiveSessions)
	assert.Equal(t, 10, stats.TotalTurns)
	assert.Equal(t, 5, stats.DistinctWords)

	// New-word highlights dedupe per session, so each session contributes
	// its own first sightings.
	assert.Equal(t, 4+3+3, stats.NewWords)

	summary, err := st.GetDailySummary(context.Background(), stats.Day)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 10, summary.TotalTurns)
	assert.Contains(t, summary.SummaryMarkdown, stats.Day)
}

func TestRunOnce_ReplacesSameDay(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	a := New(st, Config{}, nil)
	a.now = func() time.Time { return now }

	first, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first.ActiveSessions)

	seedFixture(t, st, now.Add(-time.Hour))

	second, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, second.ActiveSessions)

	summary, err := st.GetDailySummary(context.Background(), second.Day)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 3, summary.ActiveSessions)
}

func TestRunOnce_ExcludesSessionsOutsideWindow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.EnsureSession(ctx, "old", "child-1", now.Add(-48*time.Hour)))
	require.NoError(t, st.EnsureSession(ctx, "fresh", "child-1", now.Add(-time.Hour)))

	a := New(st, Config{}, nil)
	a.now = func() time.Time { return now }

	stats, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveSessions)
}
