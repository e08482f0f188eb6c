package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// Dead-Letter Store
// =============================================================================
//
// Exhausted messages are parked durably so an operator can inspect and replay
// them. The store lives in its own SQLite file, separate from the relational
// store, so a poisoned analysis payload can be examined even when the main
// database is the thing that is failing.

// DeadLetter is a parked message with its full payload and failure context.
type DeadLetter struct {
	MessageID  string    `json:"message_id"`
	SessionID  string    `json:"session_id"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	FailedAt   time.Time `json:"failed_at"`
}

// NewDeadLetter converts an exhausted message into a dead letter.
func NewDeadLetter[T any](msg *Message[T]) (DeadLetter, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return DeadLetter{}, fmt.Errorf("marshal dead-letter payload: %w", err)
	}
	failedAt := time.Now()
	if msg.ProcessedAt != nil {
		failedAt = *msg.ProcessedAt
	}
	return DeadLetter{
		MessageID:  msg.ID,
		SessionID:  msg.SessionID,
		Payload:    payload,
		Attempts:   msg.Attempt,
		LastError:  msg.Error,
		EnqueuedAt: msg.Timestamp,
		FailedAt:   failedAt,
	}, nil
}

// DeadLetterStore persists dead letters in a standalone SQLite database.
type DeadLetterStore struct {
	db   *sql.DB
	path string
}

// NewDeadLetterStore opens (creating if needed) the dead-letter database.
func NewDeadLetterStore(path string) (*DeadLetterStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dead-letter directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS dead_letters (
		message_id  TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		payload     BLOB NOT NULL,
		attempts    INTEGER NOT NULL,
		last_error  TEXT NOT NULL,
		enqueued_at TIMESTAMP NOT NULL,
		failed_at   TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letters_session ON dead_letters(session_id);
	CREATE INDEX IF NOT EXISTS idx_dead_letters_failed ON dead_letters(failed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dead-letter schema: %w", err)
	}

	return &DeadLetterStore{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *DeadLetterStore) Close() error {
	return s.db.Close()
}

// Add parks a dead letter. Re-adding the same message id overwrites the
// previous record, so redelivered-then-exhausted duplicates collapse.
func (s *DeadLetterStore) Add(ctx context.Context, letter DeadLetter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dead_letters
		(message_id, session_id, payload, attempts, last_error, enqueued_at, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		letter.MessageID, letter.SessionID, letter.Payload,
		letter.Attempts, letter.LastError, letter.EnqueuedAt, letter.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// List returns the most recent dead letters, newest first.
func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, session_id, payload, attempts, last_error, enqueued_at, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var l DeadLetter
		if err := rows.Scan(&l.MessageID, &l.SessionID, &l.Payload,
			&l.Attempts, &l.LastError, &l.EnqueuedAt, &l.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, l)
	}
	return letters, rows.Err()
}

// Remove deletes a dead letter after a successful replay.
func (s *DeadLetterStore) Remove(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("remove dead letter: %w", err)
	}
	return nil
}

// Count returns the number of parked messages.
func (s *DeadLetterStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}
