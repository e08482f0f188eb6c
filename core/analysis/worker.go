// Package analysis is the asynchronous half of the pipeline: it turns a
// recorded conversation turn into vocabulary rows, new-word highlights, and a
// completed analysis job. Processing is idempotent, so the at-least-once
// queue can redeliver a request any number of times and the store converges
// to the single-delivery outcome.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/usagi-dev/usagi/core/queue"
	"github.com/usagi-dev/usagi/core/store"
	"github.com/usagi-dev/usagi/core/tokenize"
)

// DefaultExcerptLength caps the highlight excerpt, in runes.
const DefaultExcerptLength = 100

// Request is the payload carried from the turn handler to the worker.
type Request struct {
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Config configures the worker.
type Config struct {
	ExcerptLength int
}

// Result is the JSON payload stored on a completed job.
type Result struct {
	Tokens   int      `json:"tokens"`
	NewWords []string `json:"new_words"`
}

// Worker processes analysis requests against the relational store.
type Worker struct {
	store   *store.Store
	tok     tokenize.Tokenizer
	excerpt int
	logger  *slog.Logger
}

// NewWorker creates an analysis worker.
func NewWorker(st *store.Store, tok tokenize.Tokenizer, cfg Config, logger *slog.Logger) *Worker {
	excerpt := cfg.ExcerptLength
	if excerpt <= 0 {
		excerpt = DefaultExcerptLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:   st,
		tok:     tok,
		excerpt: excerpt,
		logger:  logger.With("component", "analysis_worker"),
	}
}

// Handle adapts the worker to the queue's handler signature.
func (w *Worker) Handle(ctx context.Context, msg *queue.Message[Request]) error {
	return w.Process(ctx, msg.Payload)
}

// Process runs one analysis. A request whose job is already completed is
// acknowledged without touching the store; a failed job is reopened and
// retried. Any error leaves the job failed and propagates so the queue
// redelivers.
func (w *Worker) Process(ctx context.Context, req Request) error {
	if req.TurnID == "" || req.SessionID == "" {
		return fmt.Errorf("analysis request missing turn or session id")
	}

	job, claimed, err := w.store.ClaimJob(ctx, req.TurnID, store.JobTypeVocabulary, time.Now())
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		w.logger.Debug("duplicate delivery for completed job",
			"turn_id", req.TurnID,
			"job_id", job.ID)
		return nil
	}

	if err := w.analyze(ctx, job, req); err != nil {
		if failErr := w.store.FailJob(ctx, job.ID, err.Error(), time.Now()); failErr != nil {
			w.logger.Error("mark job failed",
				"job_id", job.ID,
				"error", failErr)
		}
		return err
	}
	return nil
}

func (w *Worker) analyze(ctx context.Context, job *store.AnalysisJob, req Request) error {
	words := w.tok.Tokenize(req.Text)

	if len(words) == 0 {
		return w.complete(ctx, job, Result{Tokens: 0, NewWords: []string{}})
	}

	// The "already known" set is read before this turn's rows are written,
	// and excludes them, so reprocessing sees the same baseline.
	known, err := w.store.DistinctWordsExcluding(ctx, req.SessionID, req.TurnID)
	if err != nil {
		return fmt.Errorf("read known words: %w", err)
	}

	newWords := make([]string, 0)
	inTurn := make(map[string]struct{}, len(words))
	for _, word := range words {
		if _, dup := inTurn[word]; dup {
			continue
		}
		inTurn[word] = struct{}{}
		if _, ok := known[word]; !ok {
			newWords = append(newWords, word)
		}
	}

	if err := w.store.ReplaceTurnVocabulary(ctx, req.SessionID, req.TurnID, words, req.Timestamp); err != nil {
		return fmt.Errorf("write vocabulary: %w", err)
	}

	excerpt := truncateRunes(req.Text, w.excerpt)
	for _, word := range newWords {
		inserted, err := w.store.InsertNewWordHighlight(ctx, &store.Highlight{
			TurnID:      req.TurnID,
			SessionID:   req.SessionID,
			Timestamp:   req.Timestamp,
			Word:        word,
			Description: fmt.Sprintf("はじめて「%s」ということばをつかったよ", word),
			Excerpt:     excerpt,
		})
		if err != nil {
			return fmt.Errorf("write highlight for %q: %w", word, err)
		}
		if inserted {
			w.logger.Info("new word",
				"session_id", req.SessionID,
				"turn_id", req.TurnID,
				"word", word)
		}
	}

	return w.complete(ctx, job, Result{Tokens: len(words), NewWords: newWords})
}

func (w *Worker) complete(ctx context.Context, job *store.AnalysisJob, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := w.store.CompleteJob(ctx, job.ID, string(payload), time.Now()); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	w.logger.Debug("analysis completed",
		"job_id", job.ID,
		"turn_id", job.TurnID,
		"tokens", result.Tokens,
		"new_words", len(result.NewWords))
	return nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
