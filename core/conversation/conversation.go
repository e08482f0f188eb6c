// Package conversation is the synchronous request path: it glues the actor,
// the relational store, the speech capabilities, and the analysis queue into
// the two operations the device calls, session start and turn.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/usagi-dev/usagi/core/actor"
	"github.com/usagi-dev/usagi/core/analysis"
	"github.com/usagi-dev/usagi/core/blob"
	"github.com/usagi-dev/usagi/core/queue"
	"github.com/usagi-dev/usagi/core/speech"
	"github.com/usagi-dev/usagi/core/store"
)

// TurnResult is the reply surface of one handled turn.
type TurnResult struct {
	TurnID      string   `json:"turn_id"`
	Reply       string   `json:"reply"`
	TTSAudioRef string   `json:"tts_audio_ref"`
	Vocabulary  []string `json:"vocabulary"`
}

// Coordinator drives the interactive path. The turn is durable once
// InsertTurn returns; everything after that is advisory or asynchronous.
type Coordinator struct {
	store  *store.Store
	actors *actor.Registry
	stt    speech.SpeechToText
	blobs  blob.Store
	queue  *queue.Queue[analysis.Request]
	logger *slog.Logger

	now func() time.Time
}

// New creates a coordinator.
func New(st *store.Store, actors *actor.Registry, stt speech.SpeechToText, blobs blob.Store, q *queue.Queue[analysis.Request], logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  st,
		actors: actors,
		stt:    stt,
		blobs:  blobs,
		queue:  q,
		logger: logger.With("component", "conversation"),
		now:    time.Now,
	}
}

// StartSession ensures the durable session row and initializes the actor.
func (c *Coordinator) StartSession(ctx context.Context, sessionID, childID string) (actor.InitResult, error) {
	now := c.now()
	if err := c.store.EnsureSession(ctx, sessionID, childID, now); err != nil {
		return actor.InitResult{}, err
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return actor.InitResult{}, err
	}
	return c.actors.Init(ctx, sessionID, childID, sess.StartedAt)
}

// HandleText processes one text turn: actor chat, durable turn record,
// advisory session touch, then the analysis enqueue.
func (c *Coordinator) HandleText(ctx context.Context, sessionID, childInput string) (*TurnResult, error) {
	return c.handleTurn(ctx, sessionID, childInput, "")
}

// HandleAudio transcribes the child's audio, stores the original recording,
// and processes the transcript as a text turn.
func (c *Coordinator) HandleAudio(ctx context.Context, sessionID string, audio []byte) (*TurnResult, error) {
	transcript, err := c.stt.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	audioKey, err := c.blobs.Put(ctx, "audio/child", "wav", audio)
	if err != nil {
		return nil, fmt.Errorf("store child audio: %w", err)
	}

	return c.handleTurn(ctx, sessionID, transcript, audioKey)
}

func (c *Coordinator) handleTurn(ctx context.Context, sessionID, childInput, childAudioKey string) (*TurnResult, error) {
	started := c.now()
	turnID := uuid.New().String()

	res, err := c.actors.Chat(ctx, sessionID, turnID, childInput)
	if err != nil {
		return nil, err
	}

	turn := &store.Turn{
		ID:             turnID,
		SessionID:      sessionID,
		Timestamp:      started,
		ChildInput:     childInput,
		RabbitResponse: res.Reply,
		ChildAudioKey:  childAudioKey,
		RabbitAudioKey: res.TTSAudioRef,
		DurationMs:     c.now().Sub(started).Milliseconds(),
	}
	if err := c.store.InsertTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}

	// Advisory counter; the turn itself is already durable.
	if err := c.store.TouchSession(ctx, sessionID, started); err != nil {
		c.logger.Warn("touch session failed",
			"session_id", sessionID,
			"error", err)
	}

	if _, err := c.queue.Enqueue(sessionID, analysis.Request{
		TurnID:    turnID,
		SessionID: sessionID,
		Text:      childInput,
		Timestamp: started,
	}); err != nil {
		// The turn is recorded, so the child still gets the reply; the
		// analysis sweeper finds turns without a completed job and
		// re-enqueues them.
		c.logger.Error("enqueue analysis failed",
			"turn_id", turnID,
			"error", err)
	}

	return &TurnResult{
		TurnID:      turnID,
		Reply:       res.Reply,
		TTSAudioRef: res.TTSAudioRef,
		Vocabulary:  res.Vocabulary,
	}, nil
}
