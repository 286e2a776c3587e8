package storage

import (
	"database/sql"
	"time"

	"github.com/hperssn/moodflow/internal/domain"
)

const sessionColumns = `id, user_id, started_at, ended_at, planned_minutes, duration_actual, mood, task_type, task_id, notes, completed`

const statsColumns = `user_id, total_study_time, total_sessions, current_streak, longest_streak, last_session_date, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var endedAt sql.NullTime
	var duration sql.NullInt64
	var mood, taskType string

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.StartedAt,
		&endedAt,
		&s.PlannedMinutes,
		&duration,
		&mood,
		&taskType,
		&s.TaskID,
		&s.Notes,
		&s.Completed,
	)
	if err != nil {
		return nil, err
	}

	s.StartedAt = s.StartedAt.UTC()
	s.Mood = domain.Mood(mood)
	s.TaskType = domain.TaskType(taskType)
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		s.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationActual = &d
	}
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]domain.Session, error) {
	sessions := []domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanStats(row rowScanner) (domain.StatsAggregate, error) {
	var agg domain.StatsAggregate
	var last sql.NullString
	var updatedAt sql.NullTime

	err := row.Scan(
		&agg.UserID,
		&agg.TotalStudyTime,
		&agg.TotalSessions,
		&agg.CurrentStreak,
		&agg.LongestStreak,
		&last,
		&updatedAt,
	)
	if err != nil {
		return domain.StatsAggregate{}, err
	}

	if last.Valid && last.String != "" {
		d, err := domain.ParseDate(last.String)
		if err != nil {
			return domain.StatsAggregate{}, err
		}
		agg.LastSessionDate = d
	}
	if updatedAt.Valid {
		agg.UpdatedAt = updatedAt.Time.UTC()
	}
	return agg, nil
}

func nullableDate(d domain.CalendarDate) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// datesFromRows collects ended_at timestamps into distinct days in loc.
func datesFromRows(rows *sql.Rows, loc *time.Location) ([]domain.CalendarDate, error) {
	var dates []domain.CalendarDate
	for rows.Next() {
		var endedAt time.Time
		if err := rows.Scan(&endedAt); err != nil {
			return nil, err
		}
		dates = append(dates, domain.DateOf(endedAt, loc))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return domain.UniqueDates(dates), nil
}

// finishStats stamps the mutator result so it always belongs to userID.
func finishStats(userID string, next domain.StatsAggregate, now time.Time) domain.StatsAggregate {
	next.UserID = userID
	next.UpdatedAt = now.UTC()
	return next
}
