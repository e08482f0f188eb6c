package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/usagi-dev/usagi/core/database"
)

// Store provides typed access to the relational schema over a SQLite pool.
type Store struct {
	pool *database.Pool
}

// New wraps an opened pool. The pool must already be migrated.
func New(pool *database.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for lifecycle management.
func (s *Store) Pool() *database.Pool {
	return s.pool
}

// =============================================================================
// Sessions
// =============================================================================

// EnsureSession inserts the session row if it does not exist. Idempotent:
// calling it again for an existing id leaves the row untouched.
func (s *Store) EnsureSession(ctx context.Context, id, childID string, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT OR IGNORE INTO sessions (id, child_id, started_at, last_activity, turn_count, active)
		VALUES (?, ?, ?, ?, 0, 1)
	`, id, nullableString(childID), startedAt.UTC(), startedAt.UTC())
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// GetSession returns the session row by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, child_id, started_at, last_activity, turn_count, active, metadata
		FROM sessions WHERE id = ?
	`, id)

	var sess Session
	var childID, metadata sql.NullString
	err := row.Scan(&sess.ID, &childID, &sess.StartedAt, &sess.LastActivity,
		&sess.TurnCount, &sess.Active, &metadata)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess.ChildID = childID.String
	sess.Metadata = metadata.String
	return &sess, nil
}

// TouchSession bumps last_activity and the advisory turn counter. This is a
// separate write from the turn insert; see Session.TurnCount.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE sessions SET last_activity = ?, turn_count = turn_count + 1 WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return checkRowsAffected(result, ErrSessionNotFound)
}

// ActiveSessions returns sessions with last_activity at or after cutoff.
func (s *Store) ActiveSessions(ctx context.Context, cutoff time.Time) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, child_id, started_at, last_activity, turn_count, active, metadata
		FROM sessions
		WHERE last_activity >= ?
		ORDER BY last_activity DESC
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var childID, metadata sql.NullString
		if err := rows.Scan(&sess.ID, &childID, &sess.StartedAt, &sess.LastActivity,
			&sess.TurnCount, &sess.Active, &metadata); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.ChildID = childID.String
		sess.Metadata = metadata.String
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// =============================================================================
// Turns
// =============================================================================

// InsertTurn persists one immutable turn record.
func (s *Store) InsertTurn(ctx context.Context, turn *Turn) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_turns
		(id, session_id, timestamp, child_input, rabbit_response, child_audio_key, rabbit_audio_key, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.SessionID, turn.Timestamp.UTC(), turn.ChildInput, turn.RabbitResponse,
		nullableString(turn.ChildAudioKey), nullableString(turn.RabbitAudioKey),
		nullableInt(turn.DurationMs))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// GetTurn returns the turn row by id.
func (s *Store) GetTurn(ctx context.Context, id string) (*Turn, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, timestamp, child_input, rabbit_response,
		       child_audio_key, rabbit_audio_key, duration_ms
		FROM conversation_turns WHERE id = ?
	`, id)

	var turn Turn
	var childAudio, rabbitAudio sql.NullString
	var durationMs sql.NullInt64
	err := row.Scan(&turn.ID, &turn.SessionID, &turn.Timestamp, &turn.ChildInput,
		&turn.RabbitResponse, &childAudio, &rabbitAudio, &durationMs)
	if err == sql.ErrNoRows {
		return nil, ErrTurnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get turn: %w", err)
	}

	turn.ChildAudioKey = childAudio.String
	turn.RabbitAudioKey = rabbitAudio.String
	turn.DurationMs = durationMs.Int64
	return &turn, nil
}

// RecentTurns returns the most recent limit turns of a session, oldest first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, timestamp, child_input, rabbit_response,
		       child_audio_key, rabbit_audio_key, duration_ms
		FROM conversation_turns
		WHERE session_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var childAudio, rabbitAudio sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Timestamp, &turn.ChildInput,
			&turn.RabbitResponse, &childAudio, &rabbitAudio, &durationMs); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.ChildAudioKey = childAudio.String
		turn.RabbitAudioKey = rabbitAudio.String
		turn.DurationMs = durationMs.Int64
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// TurnsWithoutCompletedAnalysis returns turns recorded at or before cutoff
// whose analysis job is missing or not completed, oldest first. The sweep
// uses this to re-derive lost analysis work; the cutoff keeps it from racing
// turns whose enqueue is still in flight.
func (s *Store) TurnsWithoutCompletedAnalysis(ctx context.Context, cutoff time.Time, limit int) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.session_id, t.timestamp, t.child_input, t.rabbit_response,
		       t.child_audio_key, t.rabbit_audio_key, t.duration_ms
		FROM conversation_turns t
		LEFT JOIN analysis_jobs j ON j.turn_id = t.id AND j.status = ?
		WHERE j.id IS NULL AND t.child_input != '' AND t.timestamp <= ?
		ORDER BY t.timestamp ASC
		LIMIT ?
	`, JobCompleted, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query unanalyzed turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var childAudio, rabbitAudio sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Timestamp, &turn.ChildInput,
			&turn.RabbitResponse, &childAudio, &rabbitAudio, &durationMs); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.ChildAudioKey = childAudio.String
		turn.RabbitAudioKey = rabbitAudio.String
		turn.DurationMs = durationMs.Int64
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// =============================================================================
// Helpers
// =============================================================================

func checkRowsAffected(result sql.Result, notFoundErr error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFoundErr
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
