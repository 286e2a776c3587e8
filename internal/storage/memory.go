package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hperssn/moodflow/internal/domain"
)

// MemoryRepository keeps everything in process. Each user has its own lock,
// so writers for different users never wait on each other.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*userState
	now   func() time.Time
}

type userState struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	stats    *domain.StatsAggregate
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[string]*userState),
		now:   time.Now,
	}
}

// lookup returns the user's state without creating it.
func (r *MemoryRepository) lookup(userID string) (*userState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	return u, ok
}

// user returns the user's state, creating it for writers.
func (r *MemoryRepository) user(userID string) *userState {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		u = &userState{sessions: make(map[string]*domain.Session)}
		r.users[userID] = u
	}
	return u
}

func copySession(s *domain.Session) *domain.Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.DurationActual != nil {
		d := *s.DurationActual
		c.DurationActual = &d
	}
	return &c
}

func (r *MemoryRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return unavailable("create session", err)
	}
	u := r.user(s.UserID)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.sessions[s.ID] = copySession(s)
	return nil
}

func (r *MemoryRepository) GetSession(ctx context.Context, userID, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get session", err)
	}
	u, ok := r.lookup(userID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copySession(s), nil
}

func (r *MemoryRepository) ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list sessions", err)
	}
	u, ok := r.lookup(userID)
	if !ok {
		return []domain.Session{}, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	sessions := make([]domain.Session, 0, len(u.sessions))
	for _, s := range u.sessions {
		sessions = append(sessions, *copySession(s))
	}
	slices.SortFunc(sessions, func(a, b domain.Session) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (r *MemoryRepository) CompleteSession(ctx context.Context, c Completion, fn StatsMutator) (*domain.Session, domain.StatsAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StatsAggregate{}, unavailable("complete session", err)
	}
	u, ok := r.lookup(c.UserID)
	if !ok {
		return nil, domain.StatsAggregate{}, domain.ErrNotFound
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	stored, ok := u.sessions[c.SessionID]
	if !ok {
		return nil, domain.StatsAggregate{}, domain.ErrNotFound
	}

	s := copySession(stored)
	if err := s.Complete(c.EndedAt.UTC(), c.DurationMinutes, c.Notes); err != nil {
		return nil, domain.StatsAggregate{}, err
	}

	next, err := r.mutateLocked(u, c.UserID, fn)
	if err != nil {
		return nil, domain.StatsAggregate{}, err
	}

	u.sessions[s.ID] = s
	return copySession(s), next, nil
}

func (r *MemoryRepository) SessionDates(ctx context.Context, userID string, loc *time.Location) ([]domain.CalendarDate, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("session dates", err)
	}
	u, ok := r.lookup(userID)
	if !ok {
		return []domain.CalendarDate{}, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	return sessionDatesLocked(u, loc), nil
}

// sessionDatesLocked requires u.mu to be held.
func sessionDatesLocked(u *userState, loc *time.Location) []domain.CalendarDate {
	var dates []domain.CalendarDate
	for _, s := range u.sessions {
		if s.Completed && s.EndedAt != nil {
			dates = append(dates, domain.DateOf(*s.EndedAt, loc))
		}
	}
	return domain.UniqueDates(dates)
}

func (r *MemoryRepository) GetStats(ctx context.Context, userID string) (domain.StatsAggregate, error) {
	if err := ctx.Err(); err != nil {
		return domain.StatsAggregate{}, unavailable("get stats", err)
	}
	u, ok := r.lookup(userID)
	if !ok {
		return domain.StatsAggregate{UserID: userID}, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.stats == nil {
		return domain.StatsAggregate{UserID: userID}, nil
	}
	return *u.stats, nil
}

func (r *MemoryRepository) UpdateStats(ctx context.Context, userID string, fn StatsMutator) (domain.StatsAggregate, error) {
	if err := ctx.Err(); err != nil {
		return domain.StatsAggregate{}, unavailable("update stats", err)
	}
	u := r.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	return r.mutateLocked(u, userID, fn)
}

func (r *MemoryRepository) ReconcileStats(ctx context.Context, userID string, loc *time.Location, fn HistoryMutator) (domain.StatsAggregate, error) {
	if err := ctx.Err(); err != nil {
		return domain.StatsAggregate{}, unavailable("reconcile stats", err)
	}
	u := r.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	dates := sessionDatesLocked(u, loc)
	return r.mutateLocked(u, userID, func(current domain.StatsAggregate) (domain.StatsAggregate, error) {
		return fn(current, dates)
	})
}

// mutateLocked requires u.mu to be held.
func (r *MemoryRepository) mutateLocked(u *userState, userID string, fn StatsMutator) (domain.StatsAggregate, error) {
	current := domain.StatsAggregate{UserID: userID}
	if u.stats != nil {
		current = *u.stats
	}

	next, err := fn(current)
	if err != nil {
		return domain.StatsAggregate{}, err
	}
	next = finishStats(userID, next, r.now())
	u.stats = &next
	return next, nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
