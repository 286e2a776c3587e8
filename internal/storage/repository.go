package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hperssn/moodflow/internal/domain"
)

// StatsMutator computes the next aggregate from the current one. It runs
// inside the per-user transaction; returning an error aborts the write.
type StatsMutator func(current domain.StatsAggregate) (domain.StatsAggregate, error)

// HistoryMutator is a StatsMutator that also sees the user's distinct
// completion days, read under the same lock as the aggregate.
type HistoryMutator func(current domain.StatsAggregate, dates []domain.CalendarDate) (domain.StatsAggregate, error)

// Completion describes a session being marked finished.
type Completion struct {
	UserID          string
	SessionID       string
	EndedAt         time.Time
	DurationMinutes int
	Notes           string
}

type Repository interface {
	CreateSession(ctx context.Context, s *domain.Session) error

	GetSession(ctx context.Context, userID, id string) (*domain.Session, error)

	// ListSessions returns at most limit sessions, newest first.
	ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error)

	// CompleteSession marks the session finished and applies fn to the
	// user's aggregate in one atomic write.
	CompleteSession(ctx context.Context, c Completion, fn StatsMutator) (*domain.Session, domain.StatsAggregate, error)

	// SessionDates returns the distinct ascending days, in loc, on which the
	// user completed at least one session.
	SessionDates(ctx context.Context, userID string, loc *time.Location) ([]domain.CalendarDate, error)

	// GetStats returns the zero aggregate when the user has no row yet.
	GetStats(ctx context.Context, userID string) (domain.StatsAggregate, error)

	// UpdateStats is an atomic read-modify-write of the user's aggregate.
	UpdateStats(ctx context.Context, userID string, fn StatsMutator) (domain.StatsAggregate, error)

	// ReconcileStats is UpdateStats with the session history, in loc, read
	// after the aggregate is locked. No completion can land between the
	// two reads.
	ReconcileStats(ctx context.Context, userID string, loc *time.Location, fn HistoryMutator) (domain.StatsAggregate, error)

	Close() error
}

// Open returns the repository for driver.
func Open(driver, dsn string) (Repository, error) {
	switch driver {
	case "postgres":
		return NewPostgresRepository(dsn)
	case "sqlite":
		return NewSQLiteRepository(dsn)
	case "memory":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}

// passthrough keeps domain errors and mutator errors unwrapped.
func passthrough(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrSessionCompleted) ||
		errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrStorageUnavailable) {
		return err
	}
	return unavailable(op, err)
}
