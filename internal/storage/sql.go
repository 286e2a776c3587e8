package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hperssn/moodflow/internal/domain"
)

// queries holds the dialect-specific statements of a sqlRepository.
type queries struct {
	schema string

	insertSession   string
	selectSession   string
	lockSession     string
	listSessions    string
	completeSession string
	sessionDates    string

	ensureStats string
	selectStats string
	lockStats   string
	updateStats string
}

// sqlRepository implements Repository over database/sql. Every aggregate
// write happens inside a transaction that holds the user's stats row.
type sqlRepository struct {
	db  *sql.DB
	q   queries
	now func() time.Time
}

func newSQLRepository(db *sql.DB, q queries) (*sqlRepository, error) {
	repo := &sqlRepository{db: db, q: q, now: time.Now}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *sqlRepository) createTables() error {
	_, err := r.db.Exec(r.q.schema)
	return err
}

func (r *sqlRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(
		ctx,
		r.q.insertSession,
		s.ID,
		s.UserID,
		s.StartedAt.UTC(),
		nullableTime(s.EndedAt),
		s.PlannedMinutes,
		nullableInt(s.DurationActual),
		string(s.Mood),
		string(s.TaskType),
		s.TaskID,
		s.Notes,
		s.Completed,
	)
	if err != nil {
		return unavailable("create session", err)
	}
	return nil
}

func (r *sqlRepository) GetSession(ctx context.Context, userID, id string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, r.q.selectSession, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	return s, nil
}

func (r *sqlRepository) ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, r.q.listSessions, userID, limit)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	return sessions, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *sqlRepository) SessionDates(ctx context.Context, userID string, loc *time.Location) ([]domain.CalendarDate, error) {
	dates, err := r.sessionDates(ctx, r.db, userID, loc)
	if err != nil {
		return nil, unavailable("session dates", err)
	}
	return dates, nil
}

func (r *sqlRepository) sessionDates(ctx context.Context, q querier, userID string, loc *time.Location) ([]domain.CalendarDate, error) {
	rows, err := q.QueryContext(ctx, r.q.sessionDates, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return datesFromRows(rows, loc)
}

func (r *sqlRepository) GetStats(ctx context.Context, userID string) (domain.StatsAggregate, error) {
	agg, err := scanStats(r.db.QueryRowContext(ctx, r.q.selectStats, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatsAggregate{UserID: userID}, nil
	}
	if err != nil {
		return domain.StatsAggregate{}, unavailable("get stats", err)
	}
	return agg, nil
}

func (r *sqlRepository) UpdateStats(ctx context.Context, userID string, fn StatsMutator) (domain.StatsAggregate, error) {
	var out domain.StatsAggregate
	err := r.withinTx(ctx, func(tx *sql.Tx) error {
		next, err := r.mutateStats(ctx, tx, userID, fn)
		out = next
		return err
	})
	if err != nil {
		return domain.StatsAggregate{}, passthrough("update stats", err)
	}
	return out, nil
}

func (r *sqlRepository) ReconcileStats(ctx context.Context, userID string, loc *time.Location, fn HistoryMutator) (domain.StatsAggregate, error) {
	var out domain.StatsAggregate
	err := r.withinTx(ctx, func(tx *sql.Tx) error {
		next, err := r.mutateStats(ctx, tx, userID, func(current domain.StatsAggregate) (domain.StatsAggregate, error) {
			// Completions lock the stats row first, so every one that
			// committed before the lock is visible here.
			dates, err := r.sessionDates(ctx, tx, userID, loc)
			if err != nil {
				return domain.StatsAggregate{}, err
			}
			return fn(current, dates)
		})
		out = next
		return err
	})
	if err != nil {
		return domain.StatsAggregate{}, passthrough("reconcile stats", err)
	}
	return out, nil
}

func (r *sqlRepository) CompleteSession(ctx context.Context, c Completion, fn StatsMutator) (*domain.Session, domain.StatsAggregate, error) {
	var session *domain.Session
	var agg domain.StatsAggregate

	err := r.withinTx(ctx, func(tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRowContext(ctx, r.q.lockSession, c.SessionID, c.UserID))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := s.Complete(c.EndedAt.UTC(), c.DurationMinutes, c.Notes); err != nil {
			return err
		}

		_, err = tx.ExecContext(
			ctx,
			r.q.completeSession,
			nullableTime(s.EndedAt),
			nullableInt(s.DurationActual),
			s.Notes,
			s.ID,
			s.UserID,
		)
		if err != nil {
			return err
		}

		next, err := r.mutateStats(ctx, tx, c.UserID, fn)
		if err != nil {
			return err
		}

		session, agg = s, next
		return nil
	})
	if err != nil {
		return nil, domain.StatsAggregate{}, passthrough("complete session", err)
	}
	return session, agg, nil
}

// mutateStats makes sure the row exists, locks it, and writes fn's result.
func (r *sqlRepository) mutateStats(ctx context.Context, tx *sql.Tx, userID string, fn StatsMutator) (domain.StatsAggregate, error) {
	if _, err := tx.ExecContext(ctx, r.q.ensureStats, userID); err != nil {
		return domain.StatsAggregate{}, err
	}

	current, err := scanStats(tx.QueryRowContext(ctx, r.q.lockStats, userID))
	if err != nil {
		return domain.StatsAggregate{}, err
	}

	next, err := fn(current)
	if err != nil {
		return domain.StatsAggregate{}, err
	}
	next = finishStats(userID, next, r.now())

	_, err = tx.ExecContext(
		ctx,
		r.q.updateStats,
		next.TotalStudyTime,
		next.TotalSessions,
		next.CurrentStreak,
		next.LongestStreak,
		nullableDate(next.LastSessionDate),
		next.UpdatedAt,
		userID,
	)
	if err != nil {
		return domain.StatsAggregate{}, err
	}
	return next, nil
}

func (r *sqlRepository) withinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (r *sqlRepository) Close() error {
	return r.db.Close()
}
