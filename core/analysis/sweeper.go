package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/usagi-dev/usagi/core/queue"
	"github.com/usagi-dev/usagi/core/store"
)

const (
	// DefaultSweepInterval is how often the sweep re-checks the job table.
	DefaultSweepInterval = time.Minute

	// DefaultSweepBatch caps how many turns one sweep re-enqueues.
	DefaultSweepBatch = 100

	// DefaultSweepGrace is how old a turn must be before the sweep picks it
	// up. It keeps the sweep from racing an enqueue that is still in flight
	// on the interactive path.
	DefaultSweepGrace = 30 * time.Second
)

// SweepConfig configures the sweeper.
type SweepConfig struct {
	Interval time.Duration
	Batch    int
	Grace    time.Duration
}

func normalizeSweepConfig(cfg SweepConfig) SweepConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultSweepBatch
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultSweepGrace
	}
	return cfg
}

// Enqueuer is the slice of the queue the sweeper needs.
type Enqueuer interface {
	Enqueue(sessionID string, payload Request) (*queue.Message[Request], error)
}

// Sweeper re-derives lost analysis work from the relational store. The
// in-process queue is volatile, so a crash, a full queue, or a shutdown with
// messages still in their lanes loses the request but not the turn row. The
// sweep finds turns without a completed job and enqueues them again; the
// worker's idempotent processing makes the occasional double enqueue
// harmless.
type Sweeper struct {
	store  *store.Store
	sink   Enqueuer
	cfg    SweepConfig
	logger *slog.Logger

	now func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewSweeper creates a sweeper feeding the given queue.
func NewSweeper(st *store.Store, sink Enqueuer, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  st,
		sink:   sink,
		cfg:    normalizeSweepConfig(cfg),
		logger: logger.With("component", "analysis_sweeper"),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs one sweep immediately, then launches the periodic loop. The
// immediate pass is what recovers work lost across a restart.
func (s *Sweeper) Start() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Error("startup sweep failed", "error", err)
	}
	go s.loop()
}

// Stop halts the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(context.Background()); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

// RunOnce enqueues an analysis request for every turn older than the grace
// window that has input but no completed job, up to the batch cap. Returns
// how many turns were enqueued.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Grace)

	turns, err := s.store.TurnsWithoutCompletedAnalysis(ctx, cutoff, s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("find unanalyzed turns: %w", err)
	}

	enqueued := 0
	for _, turn := range turns {
		_, err := s.sink.Enqueue(turn.SessionID, Request{
			TurnID:    turn.ID,
			SessionID: turn.SessionID,
			Text:      turn.ChildInput,
			Timestamp: turn.Timestamp,
		})
		if err != nil {
			// A full lane is not fatal; the next sweep retries.
			s.logger.Warn("sweep enqueue failed",
				"turn_id", turn.ID,
				"session_id", turn.SessionID,
				"error", err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Info("re-derived analysis work",
			"turns", enqueued,
			"candidates", len(turns))
	}
	return enqueued, nil
}
