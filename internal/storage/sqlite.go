package storage

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	*sqlRepository
}

// NewSQLiteRepository opens dbPath with immediate transactions so the stats
// row is write-locked from the first statement of every transaction.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	repo, err := newSQLRepository(db, sqliteQueries)
	if err != nil {
		return nil, err
	}
	return &SQLiteRepository{repo}, nil
}

func sqliteDSN(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_txlock=immediate&_busy_timeout=5000"
}

var sqliteQueries = queries{
	schema: `
	CREATE TABLE IF NOT EXISTS study_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		planned_minutes INTEGER NOT NULL,
		duration_actual INTEGER,
		mood TEXT NOT NULL,
		task_type TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		completed BOOLEAN NOT NULL DEFAULT 0
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
		updated_at DATETIME
	);
	`,

	insertSession: `
		INSERT INTO study_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
	selectSession: `
		SELECT ` + sessionColumns + `
		FROM study_sessions
		WHERE id = ? AND user_id = ?
	`,
	lockSession: `
		SELECT ` + sessionColumns + `
		FROM study_sessions
		WHERE id = ? AND user_id = ?
	`,
	listSessions: `
		SELECT ` + sessionColumns + `
		FROM study_sessions
		WHERE user_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`,
	completeSession: `
		UPDATE study_sessions
		SET ended_at = ?, duration_actual = ?, notes = ?, completed = 1
		WHERE id = ? AND user_id = ?
	`,
	sessionDates: `
		SELECT ended_at
		FROM study_sessions
		WHERE user_id = ? AND completed = 1 AND ended_at IS NOT NULL
		ORDER BY ended_at ASC
	`,

	ensureStats: `
		INSERT INTO user_stats (user_id) VALUES (?)
		ON CONFLICT (user_id) DO NOTHING
	`,
	selectStats: `
		SELECT ` + statsColumns + `
		FROM user_stats
		WHERE user_id = ?
	`,
	lockStats: `
		SELECT ` + statsColumns + `
		FROM user_stats
		WHERE user_id = ?
	`,
	updateStats: `
		UPDATE user_stats
		SET total_study_time = ?, total_sessions = ?, current_streak = ?,
			longest_streak = ?, last_session_date = ?, updated_at = ?
		WHERE user_id = ?
	`,
}
