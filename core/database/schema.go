package database

import "database/sql"

// Migrations returns the ordered schema migrations for the conversation store.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "base conversation schema",
			Up:          migrateBaseSchema,
		},
		{
			Version:     2,
			Description: "daily summary rollups",
			Up:          migrateDailySummaries,
		},
	}
}

func migrateBaseSchema(tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		child_id TEXT,
		started_at TIMESTAMP NOT NULL,
		last_activity TIMESTAMP NOT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		timestamp TIMESTAMP NOT NULL,
		child_input TEXT NOT NULL,
		rabbit_response TEXT NOT NULL,
		child_audio_key TEXT,
		rabbit_audio_key TEXT,
		duration_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS vocabulary (
		session_id TEXT NOT NULL REFERENCES sessions(id),
		turn_id TEXT NOT NULL REFERENCES conversation_turns(id),
		word TEXT NOT NULL,
		first_seen_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vocabulary_session_word ON vocabulary(session_id, word);
	CREATE INDEX IF NOT EXISTS idx_vocabulary_turn ON vocabulary(turn_id);
	CREATE INDEX IF NOT EXISTS idx_vocabulary_first_seen ON vocabulary(first_seen_at);

	CREATE TABLE IF NOT EXISTS highlights (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL REFERENCES conversation_turns(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		timestamp TIMESTAMP NOT NULL,
		type TEXT NOT NULL,
		word TEXT,
		description TEXT NOT NULL,
		excerpt TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_highlights_session_word
		ON highlights(session_id, type, word);
	CREATE INDEX IF NOT EXISTS idx_highlights_session ON highlights(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS analysis_jobs (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL UNIQUE,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		result TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON analysis_jobs(status, created_at);
	`

	_, err := tx.Exec(schema)
	return err
}

func migrateDailySummaries(tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS daily_summaries (
		id TEXT PRIMARY KEY,
		day TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL,
		active_sessions INTEGER NOT NULL,
		total_turns INTEGER NOT NULL,
		new_words INTEGER NOT NULL,
		distinct_words INTEGER NOT NULL,
		summary_markdown TEXT NOT NULL
	);
	`

	_, err := tx.Exec(schema)
	return err
}
