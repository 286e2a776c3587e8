package storage

import (
	"database/sql"

	_ "github.com/lib/pq"
)

type PostgresRepository struct {
	*sqlRepository
}

func NewPostgresRepository(connStr string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	repo, err := newSQLRepository(db, postgresQueries)
	if err != nil {
		return nil, err
	}
	return &PostgresRepository{repo}, nil
}

var postgresQueries = queries{
	schema: `
	CREATE TABLE IF NOT EXISTS study_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		planned_minutes INTEGER NOT NULL,
		duration_actual INTEGER,
		mood TEXT NOT NULL,
		task_type TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		completed BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_study_sessions_user_id ON study_sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_study_sessions_ended_at ON study_sessions(ended_at);

	CREATE TABLE IF NOT EXISTS user_stats (
		user_id TEXT PRIMARY KEY,
		total_study_time INTEGER NOT NULL DEFAULT 0,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		current_streak INTEGER NOT NULL DEFAULT 0,
		longest_streak INTEGER NOT NULL DEFAULT 0,
		last_session_date TEXT,
		updated_at TIMESTAMPTZ
	);
	`,

	insertSession: `
		INSERT INTO study_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
	selectSession: `
		SELECT ` + sessionColumns + `
		FROM study_sessions
		WHERE id = $1 AND user_id = $2
	`,
	lockSession: `
		SELECT ` + sessionColumns + `
		FROM study_sessions
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`,
	listSessions: `
		SELECT ` + sessionColumns + `
		FROM study_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`,
	completeSession: `
		UPDATE study_sessions
		SET ended_at = $1, duration_actual = $2, notes = $3, completed = TRUE
		WHERE id = $4 AND user_id = $5
	`,
	sessionDates: `
		SELECT ended_at
		FROM study_sessions
		WHERE user_id = $1 AND completed AND ended_at IS NOT NULL
		ORDER BY ended_at ASC
	`,

	ensureStats: `
		INSERT INTO user_stats (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`,
	selectStats: `
		SELECT ` + statsColumns + `
		FROM user_stats
		WHERE user_id = $1
	`,
	lockStats: `
		SELECT ` + statsColumns + `
		FROM user_stats
		WHERE user_id = $1
		FOR UPDATE
	`,
	updateStats: `
		UPDATE user_stats
		SET total_study_time = $1, total_sessions = $2, current_streak = $3,
			longest_streak = $4, last_session_date = $5, updated_at = $6
		WHERE user_id = $7
	`,
}
