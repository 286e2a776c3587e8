package domain

import (
	"fmt"
	"slices"
	"time"
)

// StatsAggregate is the cached per-user summary row.
type StatsAggregate struct {
	UserID          string       `json:"-"`
	TotalStudyTime  int          `json:"totalStudyTime"`
	TotalSessions   int          `json:"totalSessions"`
	CurrentStreak   int          `json:"currentStreak"`
	LongestStreak   int          `json:"longestStreak"`
	LastSessionDate CalendarDate `json:"lastSessionDate"`
	UpdatedAt       time.Time    `json:"-"`
}

// SessionCompletionEvent is produced when a user finishes a study session.
type SessionCompletionEvent struct {
	UserID          string
	CompletedAt     time.Time
	DurationMinutes int
	// LocalDate is the caller's calendar day as YYYY-MM-DD. It wins over
	// CompletedAt when valid.
	LocalDate string
}

// Day returns the calendar day the completion counts for.
func (e SessionCompletionEvent) Day(loc *time.Location) CalendarDate {
	return ResolveToday(e.LocalDate, e.CompletedAt, loc)
}

func (e SessionCompletionEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidArgument)
	}
	if e.DurationMinutes < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalidArgument, e.DurationMinutes)
	}
	return nil
}

// ApplyCompletion folds one completed session on day today into agg.
//
// A completion dated before agg.LastSessionDate leaves the streak fields and
// LastSessionDate alone and only adds to the totals.
func ApplyCompletion(agg StatsAggregate, today CalendarDate, durationMinutes int) (StatsAggregate, error) {
	if today.IsZero() {
		return agg, fmt.Errorf("%w: missing completion date", ErrInvalidArgument)
	}
	if durationMinutes < 0 {
		return agg, fmt.Errorf("%w: negative duration %d", ErrInvalidArgument, durationMinutes)
	}

	next := agg
	next.TotalStudyTime += durationMinutes
	next.TotalSessions++

	if agg.LastSessionDate.IsZero() {
		next.CurrentStreak = 1
		next.LastSessionDate = today
	} else {
		switch daysSince := today.DaysSince(agg.LastSessionDate); {
		case daysSince < 0:
		case daysSince == 0:
			next.LastSessionDate = today
		case daysSince == 1:
			next.CurrentStreak = agg.CurrentStreak + 1
			next.LastSessionDate = today
		default:
			next.CurrentStreak = 1
			next.LastSessionDate = today
		}
	}

	next.LongestStreak = max(agg.LongestStreak, next.CurrentStreak)
	return next, nil
}

// Streaks is the result of a recompute over session history.
type Streaks struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// ComputeStreaks derives the longest run of consecutive days and the run
// ending at the most recent day from dates. Input order and duplicates do
// not matter. It does not know today; stale runs are not zeroed here.
func ComputeStreaks(dates []CalendarDate) Streaks {
	days := UniqueDates(dates)
	if len(days) == 0 {
		return Streaks{}
	}

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i].DaysSince(days[i-1]) == 1 {
			run++
			longest = max(longest, run)
		} else {
			run = 1
		}
	}

	current := 1
	for i := len(days) - 1; i > 0; i-- {
		if days[i].DaysSince(days[i-1]) != 1 {
			break
		}
		current++
	}

	return Streaks{Current: current, Longest: longest}
}

// UniqueDates returns the non-zero dates ascending without duplicates.
func UniqueDates(dates []CalendarDate) []CalendarDate {
	out := make([]CalendarDate, 0, len(dates))
	for _, d := range dates {
		if !d.IsZero() {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b CalendarDate) int {
		return a.Time().Compare(b.Time())
	})
	return slices.Compact(out)
}

// StatsReport is what the stats endpoint returns.
type StatsReport struct {
	TotalStudyTime  int          `json:"totalStudyTime"`
	TotalSessions   int          `json:"totalSessions"`
	CurrentStreak   int          `json:"currentStreak"`
	LongestStreak   int          `json:"longestStreak"`
	LastSessionDate CalendarDate `json:"lastSessionDate"`
}

func ReportFrom(agg StatsAggregate) StatsReport {
	return StatsReport{
		TotalStudyTime:  agg.TotalStudyTime,
		TotalSessions:   agg.TotalSessions,
		CurrentStreak:   agg.CurrentStreak,
		LongestStreak:   agg.LongestStreak,
		LastSessionDate: agg.LastSessionDate,
	}
}

// Reconcile replaces the current streak of r with a recompute over history
// whose most recent day is last. LongestStreak never drops below the cached
// value.
func (r StatsReport) Reconcile(s Streaks, last CalendarDate) StatsReport {
	r.CurrentStreak = s.Current
	r.LongestStreak = max(r.LongestStreak, s.Longest)
	if last.After(r.LastSessionDate) {
		r.LastSessionDate = last
	}
	return r
}

// IsStale reports whether a streak ending on last no longer includes today
// or yesterday.
func IsStale(last, today CalendarDate) bool {
	return last.IsZero() || today.DaysSince(last) > 1
}

// ApplyStaleness zeroes the reported current streak once more than a day has
// passed since the last session. LongestStreak is untouched.
func ApplyStaleness(r StatsReport, today CalendarDate) StatsReport {
	if IsStale(r.LastSessionDate, today) {
		r.CurrentStreak = 0
	}
	return r
}
