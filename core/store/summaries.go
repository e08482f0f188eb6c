package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// Daily Summaries
// =============================================================================

// UpsertDailySummary writes the rollup for a day, replacing any earlier run
// for the same day.
func (s *Store) UpsertDailySummary(ctx context.Context, summary *DailySummary) error {
	if summary.ID == "" {
		summary.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_summaries
		(id, day, created_at, active_sessions, total_turns, new_words, distinct_words, summary_markdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			created_at = excluded.created_at,
			active_sessions = excluded.active_sessions,
			total_turns = excluded.total_turns,
			new_words = excluded.new_words,
			distinct_words = excluded.distinct_words,
			summary_markdown = excluded.summary_markdown
	`, summary.ID, summary.Day, summary.CreatedAt.UTC(), summary.ActiveSessions,
		summary.TotalTurns, summary.NewWords, summary.DistinctWords, summary.SummaryMarkdown)
	if err != nil {
		return fmt.Errorf("upsert daily summary: %w", err)
	}
	return nil
}

// GetDailySummary returns the rollup for a day (YYYY-MM-DD), or nil.
func (s *Store) GetDailySummary(ctx context.Context, day string) (*DailySummary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, day, created_at, active_sessions, total_turns, new_words, distinct_words, summary_markdown
		FROM daily_summaries WHERE day = ?
	`, day)

	var summary DailySummary
	err := row.Scan(&summary.ID, &summary.Day, &summary.CreatedAt, &summary.ActiveSessions,
		&summary.TotalTurns, &summary.NewWords, &summary.DistinctWords, &summary.SummaryMarkdown)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily summary: %w", err)
	}
	return &summary, nil
}
