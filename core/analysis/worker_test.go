package analysis

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagi-dev/usagi/core/database"
	"github.com/usagi-dev/usagi/core/queue"
	"github.com/usagi-dev/usagi/core/store"
	"github.com/usagi-dev/usagi/core/tokenize"
)

func newTestWorker(t *testing.T) (*Worker, *store.Store) {
	t.Helper()

	pool, err := database.Open(filepath.Join(t.TempDir(), "usagi.db"), database.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	require.NoError(t, database.NewMigrator(pool, database.Migrations()).Migrate(context.Background()))

	st := store.New(pool)
	return NewWorker(st, tokenize.NewLoose(), Config{}, nil), st
}

func seedTurn(t *testing.T, st *store.Store, sessionID, turnID, input string, at time.Time) Request {
	t.Helper()
	require.NoError(t, st.EnsureSession(context.Background(), sessionID, "child-1", at))
	require.NoError(t, st.InsertTurn(context.Background(), &store.Turn{
		ID:             turnID,
		SessionID:      sessionID,
		Timestamp:      at,
		ChildInput:     input,
		RabbitResponse: "うんうん！",
	}))
	return Request{TurnID: turnID, SessionID: sessionID, Text: input, Timestamp: at}
}

func TestProcess_WritesVocabularyHighlightsAndResult(t *testing.T) {
	w, st := newTestWorker(t)
	ctx := context.Background()
	now := time.Now()

	req := seedTurn(t, st, "s1", "t1", "ねこ　いぬ　ねこ", now)
	require.NoError(t, w.Process(ctx, req))

	job, err := st.GetJobByTurn(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(job.Result), &result))
	assert.Equal(t, 3, result.Tokens)
	assert.Equal(t, []string{"ねこ", "いぬ"}, result.NewWords)

	// One vocabulary row per occurrence.
	entries, distinct, err := st.VocabularyStats(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, entries)
	assert.Equal(t, 2, distinct)

	highlights, err := st.SessionHighlights(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, highlights, 2)

	words := make([]string, 0, len(highlights))
	for _, h := range highlights {
		assert.Equal(t, store.HighlightNewWord, h.Type)
		assert.Contains(t, h.Description, h.Word)
		assert.Equal(t, "ねこ　いぬ　ねこ", h.Excerpt)
		words = append(words, h.Word)
	}
	assert.ElementsMatch(t, []string{"ねこ", "いぬ"}, words)
}

func TestProcess_RedeliveryConverges(t *testing.T) {
	w, st := newTestWorker(t)
	ctx := context.Background()
	now := time.Now()

	req := seedTurn(t, st, "s1", "t1", "ねこ　いぬ", now)

	// Deliver the same request three times; a failed first write would look
	// exactly like this to the queue.
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Process(ctx, req))
	}

	entries, distinct, err := st.VocabularyStats(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, entries)
	assert.Equal(t, 2, distinct)

	highlights, err := st.SessionHighlights(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, highlights, 2)

	job, err := st.GetJobByTurn(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)
}

func TestProcess_EmptyInputCompletesWithNoRows(t *testing.T) {
	w, st := newTestWorker(t)
	ctx := context.Background()
	now := time.Now()

	req := seedTurn(t, st, "s1", "t1", "！？。", now)
	require.NoError(t, w.Process(ctx, req))

	job, err := st.GetJobByTurn(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(job.Result), &result))
	assert.Equal(t, 0, result.Tokens)
	assert.Empty(t, result.NewWords)

	entries, _, err := st.VocabularyStats(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, entries)
}

func TestProcess_KnownWordsNotHighlightedAgain(t *testing.T) {
	w, st := newTestWorker(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, w.Process(ctx, seedTurn(t, st, "s1", "t1", "ねこ", now)))
	require.NoError(t, w.Process(ctx, seedTurn(t, st, "s1", "t2", "ねこ　いぬ", now.Add(time.Minute))))

	highlights, err := st.SessionHighlights(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, highlights, 2)

	words := []string{highlights[0].Word, highlights[1].Word}
	assert.Equal(t, []string{"ねこ", "いぬ"}, words)

	job, err := st.GetJobByTurn(ctx, "t2")
	require.NoError(t, err)
	var result Result
	require.NoError(t, json.Unmarshal([]byte(job.Result), &result))
	assert.Equal(t, []string{"いぬ"}, result.NewWords)
}

func TestProcess_ReopensFailedJob(t *testing.T) {
	w, st := newTestWorker(t)
	ctx := context.Background()
	now := time.Now()

	req := seedTurn(t, st, "s1", "t1", "ねこ", now)

	job, claimed, err := st.ClaimJob(ctx, "t1", store.JobTypeVocabulary, now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, st.FailJob(ctx, job.ID, "database is locked", now))

	require.NoError(t, w.Process(ctx, req))

	reloaded, err := st.GetJobByTurn(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, reloaded.Status)
	assert.Equal(t, job.ID, reloaded.ID)
}

func TestHandle_EndToEndThroughQueue(t *testing.T) {
	w, st := newTestWorker(t)
	now := time.Now()

	req := seedTurn(t, st, "s1", "t1", "こんにちは", now)

	cfg := queue.DefaultConfig()
	cfg.Workers = 2
	cfg.InitialBackoff = 2 * time.Millisecond

	q, err := queue.New(cfg, w.Handle)
	require.NoError(t, err)
	q.Start()
	defer q.Close()

	_, err = q.Enqueue(req.SessionID, req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := st.GetJobByTurn(context.Background(), "t1")
		return err == nil && job.Status == store.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
