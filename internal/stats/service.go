// Package stats drives session completion and the per-user study statistics.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hperssn/moodflow/internal/domain"
	"github.com/hperssn/moodflow/internal/notify"
	"github.com/hperssn/moodflow/internal/storage"
)

const DefaultRecentLimit = 20

// Clock abstracts time to keep the service deterministic in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type Options struct {
	// Location is the reference time zone for calendar days. Defaults to UTC.
	Location *time.Location
	// RecomputeOnRead makes Report prefer streaks recomputed from history.
	RecomputeOnRead bool
	RecentLimit     int
	Clock           Clock
	Logger          *slog.Logger
	Hub             *notify.Hub
}

type Service struct {
	repo      storage.Repository
	loc       *time.Location
	recompute bool
	limit     int
	clock     Clock
	log       *slog.Logger
	hub       *notify.Hub

	history singleflight.Group
}

func NewService(repo storage.Repository, opts Options) *Service {
	s := &Service{
		repo:      repo,
		loc:       opts.Location,
		recompute: opts.RecomputeOnRead,
		limit:     opts.RecentLimit,
		clock:     opts.Clock,
		log:       opts.Logger,
		hub:       opts.Hub,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.limit <= 0 {
		s.limit = DefaultRecentLimit
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func requireUser(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user id", domain.ErrInvalidArgument)
	}
	return nil
}

func (s *Service) StartSession(ctx context.Context, userID string, draft domain.SessionDraft) (*domain.Session, error) {
	session, err := domain.NewSession(userID, draft, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.log.Info("session started", "user", userID, "session", session.ID, "task_type", session.TaskType)
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, userID, id string) (*domain.Session, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.repo.GetSession(ctx, userID, id)
}

func (s *Service) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.repo.ListSessions(ctx, userID, s.limit)
}

// CompleteInput is what the client sends when finishing a session.
type CompleteInput struct {
	DurationMinutes int
	Notes           string
	// LocalDate is the client's calendar day, YYYY-MM-DD. Optional.
	LocalDate string
}

// CompleteSession marks the session finished and folds it into the user's
// aggregate in one atomic write.
func (s *Service) CompleteSession(ctx context.Context, userID, sessionID string, in CompleteInput) (*domain.Session, domain.StatsAggregate, error) {
	event := domain.SessionCompletionEvent{
		UserID:          userID,
		CompletedAt:     s.clock.Now(),
		DurationMinutes: in.DurationMinutes,
		LocalDate:       in.LocalDate,
	}
	if err := event.Validate(); err != nil {
		return nil, domain.StatsAggregate{}, err
	}
	if sessionID == "" {
		return nil, domain.StatsAggregate{}, fmt.Errorf("%w: missing session id", domain.ErrInvalidArgument)
	}

	day := event.Day(s.loc)
	completion := storage.Completion{
		UserID:          userID,
		SessionID:       sessionID,
		EndedAt:         event.CompletedAt,
		DurationMinutes: event.DurationMinutes,
		Notes:           in.Notes,
	}

	session, agg, err := s.repo.CompleteSession(ctx, completion, func(current domain.StatsAggregate) (domain.StatsAggregate, error) {
		return domain.ApplyCompletion(current, day, event.DurationMinutes)
	})
	if err != nil {
		return nil, domain.StatsAggregate{}, err
	}

	s.log.Info("session completed",
		"user", userID,
		"session", sessionID,
		"day", day.String(),
		"current_streak", agg.CurrentStreak,
		"longest_streak", agg.LongestStreak,
	)
	s.publish(userID, agg)
	return session, agg, nil
}

// Report returns the user's statistics as of clientToday (YYYY-MM-DD, may be
// empty). Streaks come from a recompute over history when enabled; the cached
// aggregate is used when history cannot be read. The staleness policy is
// applied last and never persisted.
func (s *Service) Report(ctx context.Context, userID, clientToday string) (domain.StatsReport, error) {
	if err := requireUser(userID); err != nil {
		return domain.StatsReport{}, err
	}

	agg, err := s.repo.GetStats(ctx, userID)
	if err != nil {
		return domain.StatsReport{}, err
	}
	report := domain.ReportFrom(agg)

	if s.recompute {
		dates, err := s.historyDates(ctx, userID)
		switch {
		case err != nil:
			s.log.Warn("history unavailable, using cached streaks", "user", userID, "error", err)
		case len(dates) > 0:
			report = report.Reconcile(domain.ComputeStreaks(dates), dates[len(dates)-1])
		}
	}

	today := domain.ResolveToday(clientToday, s.clock.Now(), s.loc)
	return domain.ApplyStaleness(report, today), nil
}

// Recompute derives the user's streaks from full session history.
func (s *Service) Recompute(ctx context.Context, userID string) (domain.Streaks, error) {
	if err := requireUser(userID); err != nil {
		return domain.Streaks{}, err
	}
	dates, err := s.historyDates(ctx, userID)
	if err != nil {
		return domain.Streaks{}, err
	}
	return domain.ComputeStreaks(dates), nil
}

// Reconcile persists the recomputed streaks into the cached aggregate.
// History is read under the user's lock, so a concurrent completion is either
// fully visible to the recompute or applied after it. LongestStreak only ever
// grows; totals are left alone.
func (s *Service) Reconcile(ctx context.Context, userID string) (domain.StatsAggregate, error) {
	if err := requireUser(userID); err != nil {
		return domain.StatsAggregate{}, err
	}

	agg, err := s.repo.ReconcileStats(ctx, userID, s.loc, func(current domain.StatsAggregate, dates []domain.CalendarDate) (domain.StatsAggregate, error) {
		if len(dates) == 0 {
			return current, nil
		}
		streaks := domain.ComputeStreaks(dates)
		last := dates[len(dates)-1]

		before := current
		current.CurrentStreak = streaks.Current
		current.LongestStreak = max(current.LongestStreak, streaks.Longest)
		if last.After(current.LastSessionDate) {
			current.LastSessionDate = last
		}
		if before.CurrentStreak != current.CurrentStreak || before.LongestStreak != current.LongestStreak {
			s.log.Info("streak drift corrected",
				"user", userID,
				"cached_current", before.CurrentStreak,
				"current", current.CurrentStreak,
				"cached_longest", before.LongestStreak,
				"longest", current.LongestStreak,
			)
		}
		return current, nil
	})
	if err != nil {
		return domain.StatsAggregate{}, err
	}

	s.publish(userID, agg)
	return agg, nil
}

// historyDates collapses concurrent history reads for the same user. The
// shared read runs detached from any one caller's cancellation; each caller
// still stops waiting when its own ctx is done.
func (s *Service) historyDates(ctx context.Context, userID string) ([]domain.CalendarDate, error) {
	ch := s.history.DoChan(userID, func() (any, error) {
		return s.repo.SessionDates(context.WithoutCancel(ctx), userID, s.loc)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.CalendarDate), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: session dates: %w", domain.ErrStorageUnavailable, ctx.Err())
	}
}

func (s *Service) publish(userID string, agg domain.StatsAggregate) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(userID, domain.ReportFrom(agg))
}
