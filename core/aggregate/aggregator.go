// Package aggregate produces the daily rollup: a per-day snapshot of session
// activity and vocabulary growth over the trailing window, persisted so a
// parent-facing surface can render it later. Re-running a day replaces the
// earlier row instead of appending.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/usagi-dev/usagi/core/store"
)

const (
	// DefaultPeriod is how often the loop aggregates.
	DefaultPeriod = time.Hour

	// DefaultWindow is the trailing window each rollup covers.
	DefaultWindow = 24 * time.Hour
)

// Config configures the aggregator.
type Config struct {
	Period time.Duration
	Window time.Duration
}

func normalizeConfig(cfg Config) Config {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return cfg
}

// Stats is one rollup over the trailing window.
type Stats struct {
	Day            string    `json:"day"`
	WindowStart    time.Time `json:"window_start"`
	ActiveSessions int       `json:"active_sessions"`
	TotalTurns     int       `json:"total_turns"`
	NewWords       int       `json:"new_words"`
	DistinctWords  int       `json:"distinct_words"`
}

// Aggregator periodically rolls up activity into daily_summaries.
type Aggregator struct {
	store  *store.Store
	cfg    Config
	logger *slog.Logger

	now func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates an aggregator.
func New(st *store.Store, cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:  st,
		cfg:    normalizeConfig(cfg),
		logger: logger.With("component", "aggregator"),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the periodic loop.
func (a *Aggregator) Start() {
	go a.loop()
}

// Stop halts the loop and waits for it to exit.
func (a *Aggregator) Stop() {
	close(a.stop)
	<-a.done
}

func (a *Aggregator) loop() {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := a.RunOnce(context.Background()); err != nil {
				a.logger.Error("aggregation failed", "error", err)
			}
		case <-a.stop:
			return
		}
	}
}

// RunOnce computes and persists one rollup for today. Safe to call any number
// of times per day; later runs replace earlier ones.
func (a *Aggregator) RunOnce(ctx context.Context) (*Stats, error) {
	now := a.now()
	cutoff := now.Add(-a.cfg.Window)

	sessions, err := a.store.ActiveSessions(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}

	totalTurns := 0
	for _, sess := range sessions {
		totalTurns += sess.TurnCount
	}

	_, distinct, err := a.store.VocabularyStats(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("vocabulary stats: %w", err)
	}

	newWords, err := a.store.CountNewWordHighlights(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("new-word count: %w", err)
	}

	stats := &Stats{
		Day:            now.UTC().Format("2006-01-02"),
		WindowStart:    cutoff,
		ActiveSessions: len(sessions),
		TotalTurns:     totalTurns,
		NewWords:       newWords,
		DistinctWords:  distinct,
	}

	summary := &store.DailySummary{
		Day:             stats.Day,
		CreatedAt:       now,
		ActiveSessions:  stats.ActiveSessions,
		TotalTurns:      stats.TotalTurns,
		NewWords:        stats.NewWords,
		DistinctWords:   stats.DistinctWords,
		SummaryMarkdown: renderMarkdown(stats),
	}
	if err := a.store.UpsertDailySummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("persist summary: %w", err)
	}

	a.logger.Info("daily rollup",
		"day", stats.Day,
		"active_sessions", stats.ActiveSessions,
		"total_turns", stats.TotalTurns,
		"new_words", stats.NewWords,
		"distinct_words", stats.DistinctWords)

	return stats, nil
}

func renderMarkdown(stats *Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# きょうのおはなし (%s)\n\n", stats.Day)
	fmt.Fprintf(&b, "- おはなしした回数: %d セッション / %d ターン\n", stats.ActiveSessions, stats.TotalTurns)
	fmt.Fprintf(&b, "- あたらしいことば: %d\n", stats.NewWords)
	fmt.Fprintf(&b, "- つかったことばのしゅるい: %d\n", stats.DistinctWords)
	return b.String()
}
