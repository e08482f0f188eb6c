package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Vocabulary
// =============================================================================

// DistinctWords returns the set of words already recorded for a session.
func (s *Store) DistinctWords(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT DISTINCT word FROM vocabulary WHERE session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query distinct words: %w", err)
	}
	defer rows.Close()

	words := make(map[string]struct{})
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			return nil, fmt.Errorf("scan word: %w", err)
		}
		words[word] = struct{}{}
	}
	return words, rows.Err()
}

// DistinctWordsExcluding returns the session's recorded words, ignoring rows
// from the given turn. The analysis worker uses this so a redelivered turn
// sees the same "already known" set as its first delivery did.
func (s *Store) DistinctWordsExcluding(ctx context.Context, sessionID, turnID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT DISTINCT word FROM vocabulary WHERE session_id = ? AND turn_id != ?",
		sessionID, turnID)
	if err != nil {
		return nil, fmt.Errorf("query distinct words: %w", err)
	}
	defer rows.Close()

	words := make(map[string]struct{})
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			return nil, fmt.Errorf("scan word: %w", err)
		}
		words[word] = struct{}{}
	}
	return words, rows.Err()
}

// ReplaceTurnVocabulary atomically replaces the vocabulary rows of a turn.
// Reprocessing a redelivered message therefore converges instead of
// accumulating duplicate occurrence rows.
func (s *Store) ReplaceTurnVocabulary(ctx context.Context, sessionID, turnID string, words []string, seenAt time.Time) error {
	return s.pool.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vocabulary WHERE turn_id = ?", turnID); err != nil {
			return fmt.Errorf("clear turn vocabulary: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO vocabulary (session_id, turn_id, word, first_seen_at)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare vocabulary insert: %w", err)
		}
		defer stmt.Close()

		for _, word := range words {
			if _, err := stmt.ExecContext(ctx, sessionID, turnID, word, seenAt.UTC()); err != nil {
				return fmt.Errorf("insert vocabulary %q: %w", word, err)
			}
		}
		return nil
	})
}

// VocabularyStats returns occurrence and distinct counts for entries first
// seen at or after cutoff.
func (s *Store) VocabularyStats(ctx context.Context, cutoff time.Time) (entries, distinct int, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT word)
		FROM vocabulary WHERE first_seen_at >= ?
	`, cutoff.UTC())
	if err := row.Scan(&entries, &distinct); err != nil {
		return 0, 0, fmt.Errorf("vocabulary stats: %w", err)
	}
	return entries, distinct, nil
}

// =============================================================================
// Highlights
// =============================================================================

// InsertNewWordHighlight records a new_word highlight if none exists for this
// (session, word) pair. The unique index makes this a safe no-op under
// concurrent analyses of the same session and under queue redelivery.
// Returns true if a row was inserted.
func (s *Store) InsertNewWordHighlight(ctx context.Context, h *Highlight) (bool, error) {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	h.Type = HighlightNewWord

	result, err := s.pool.Exec(ctx, `
		INSERT OR IGNORE INTO highlights
		(id, turn_id, session_id, timestamp, type, word, description, excerpt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.TurnID, h.SessionID, h.Timestamp.UTC(), h.Type, h.Word, h.Description, h.Excerpt)
	if err != nil {
		return false, fmt.Errorf("insert highlight: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// CountNewWordHighlights returns how many new_word highlights were recorded
// at or after cutoff.
func (s *Store) CountNewWordHighlights(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM highlights WHERE type = ? AND timestamp >= ?
	`, HighlightNewWord, cutoff.UTC())
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count new-word highlights: %w", err)
	}
	return n, nil
}

// SessionHighlights returns all highlights of a session in chronological order.
func (s *Store) SessionHighlights(ctx context.Context, sessionID string) ([]Highlight, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, turn_id, session_id, timestamp, type, word, description, excerpt
		FROM highlights WHERE session_id = ?
		ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query highlights: %w", err)
	}
	defer rows.Close()

	var highlights []Highlight
	for rows.Next() {
		var h Highlight
		var word sql.NullString
		if err := rows.Scan(&h.ID, &h.TurnID, &h.SessionID, &h.Timestamp,
			&h.Type, &word, &h.Description, &h.Excerpt); err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		h.Word = word.String
		highlights = append(highlights, h)
	}
	return highlights, rows.Err()
}
