package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Text string `json:"text"`
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.InitialBackoff = 2 * time.Millisecond
	cfg.MaxBackoff = 10 * time.Millisecond
	return cfg
}

func TestNewMessage_Defaults(t *testing.T) {
	msg := NewMessage("s1", testPayload{Text: "ねこ"})
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, StatusQueued, msg.Status)
	assert.Equal(t, 1, msg.Attempt)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestQueue_DeliversMessage(t *testing.T) {
	var mu sync.Mutex
	var got []string

	q, err := New(fastConfig(), func(_ context.Context, msg *Message[testPayload]) error {
		mu.Lock()
		got = append(got, msg.Payload.Text)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	q.Start()
	defer q.Close()

	msg, err := q.Enqueue("s1", testPayload{Text: "こんにちは"})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, msg.Status)

	require.Eventually(t, func() bool {
		return q.Stats().Completed == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"こんにちは"}, got)
}

func TestQueue_EnqueueBeforeStartFails(t *testing.T) {
	q, err := New(fastConfig(), func(context.Context, *Message[testPayload]) error { return nil })
	require.NoError(t, err)

	_, err = q.Enqueue("s1", testPayload{})
	assert.Error(t, err)
}

func TestQueue_RedeliversUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	q, err := New(fastConfig(), func(_ context.Context, _ *Message[testPayload]) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	require.NoError(t, err)
	q.Start()
	defer q.Close()

	_, err = q.Enqueue("s1", testPayload{Text: "ねこ"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return q.Stats().Completed == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int64(2), q.Stats().Retried)
}

func TestQueue_PerSessionOrderSurvivesRetries(t *testing.T) {
	var mu sync.Mutex
	var order []string
	failedOnce := false

	cfg := fastConfig()
	cfg.Workers = 4

	q, err := New(cfg, func(_ context.Context, msg *Message[testPayload]) error {
		mu.Lock()
		defer mu.Unlock()
		if msg.Payload.Text == "b" && !failedOnce {
			failedOnce = true
			return errors.New("transient failure")
		}
		order = append(order, msg.Payload.Text)
		return nil
	})
	require.NoError(t, err)
	q.Start()
	defer q.Close()

	for _, text := range []string{"a", "b", "c", "d"} {
		_, err := q.Enqueue("s1", testPayload{Text: text})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return q.Stats().Completed == 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestQueue_DeadLettersAfterExhaustion(t *testing.T) {
	dlq, err := NewDeadLetterStore(filepath.Join(t.TempDir(), "dead.db"))
	require.NoError(t, err)
	defer dlq.Close()

	cfg := fastConfig()
	cfg.MaxAttempts = 2

	q, err := New(cfg, func(context.Context, *Message[testPayload]) error {
		return errors.New("poison payload")
	}, WithDeadLetters[testPayload](dlq))
	require.NoError(t, err)
	q.Start()
	defer q.Close()

	msg, err := q.Enqueue("s1", testPayload{Text: "うさぎ"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return q.Stats().Dead == 1
	}, time.Second, 5*time.Millisecond)

	letters, err := dlq.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, msg.ID, letters[0].MessageID)
	assert.Equal(t, "s1", letters[0].SessionID)
	assert.Equal(t, 2, letters[0].Attempts)
	assert.Equal(t, "poison payload", letters[0].LastError)

	var payload testPayload
	require.NoError(t, json.Unmarshal(letters[0].Payload, &payload))
	assert.Equal(t, "うさぎ", payload.Text)

	n, err := dlq.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, dlq.Remove(context.Background(), msg.ID))
	n, err = dlq.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_StatusCacheTracksLifecycle(t *testing.T) {
	cache, err := NewStatusCache(0)
	require.NoError(t, err)
	defer cache.Close()

	q, err := New(fastConfig(), func(context.Context, *Message[testPayload]) error {
		return nil
	}, WithStatusCache[testPayload](cache))
	require.NoError(t, err)
	q.Start()
	defer q.Close()

	msg, err := q.Enqueue("s1", testPayload{Text: "いぬ"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cache.Wait()
		record, ok := cache.Get(msg.ID)
		return ok && record.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	record, ok := cache.Get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, "s1", record.SessionID)
	assert.Equal(t, 1, record.Attempt)
}

func TestQueue_StopWithContendedLaneDoesNotPanic(t *testing.T) {
	q, err := New(fastConfig(), func(_ context.Context, _ *Message[testPayload]) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	q.Start()

	for i := 0; i < 50; i++ {
		_, err := q.Enqueue("s1", testPayload{Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	// Stop while the lane is still full of pending sends.
	time.Sleep(5 * time.Millisecond)
	q.Stop()

	// Start/Enqueue/Stop after a stop are safe no-ops.
	q.Start()
	_, err = q.Enqueue("s1", testPayload{Text: "late"})
	assert.Error(t, err)
	q.Stop()
	require.NoError(t, q.Close())
}

func TestQueue_StopDoesNotDeadLetterInFlightWork(t *testing.T) {
	dlq, err := NewDeadLetterStore(filepath.Join(t.TempDir(), "dead.db"))
	require.NoError(t, err)
	defer dlq.Close()

	started := make(chan struct{})
	release := make(chan struct{})

	q, err := New(fastConfig(), func(ctx context.Context, _ *Message[testPayload]) error {
		close(started)
		<-release
		// A live context here is the contract: shutdown must not surface
		// as a handler failure.
		return ctx.Err()
	}, WithDeadLetters[testPayload](dlq))
	require.NoError(t, err)
	q.Start()

	_, err = q.Enqueue("s1", testPayload{Text: "ねこ"})
	require.NoError(t, err)

	<-started
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(release)
	}()
	q.Stop()

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(0), stats.Dead)

	n, err := dlq.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, q.Close())
}

func TestQueue_FairAcrossSessions(t *testing.T) {
	var mu sync.Mutex
	perSession := map[string]int{}

	cfg := fastConfig()
	cfg.Workers = 1

	q, err := New(cfg, func(_ context.Context, msg *Message[testPayload]) error {
		mu.Lock()
		perSession[msg.SessionID]++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	q.Start()
	defer q.Close()

	for i := 0; i < 5; i++ {
		for s := 0; s < 3; s++ {
			_, err := q.Enqueue(fmt.Sprintf("s%d", s), testPayload{Text: fmt.Sprintf("m%d", i)})
			require.NoError(t, err)
		}
	}

	require.Eventually(t, func() bool {
		return q.Stats().Completed == 15
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for s := 0; s < 3; s++ {
		assert.Equal(t, 5, perSession[fmt.Sprintf("s%d", s)])
	}
}
