package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Mood string

const (
	MoodLow      Mood = "low"
	MoodModerate Mood = "moderate"
	MoodHigh     Mood = "high"
)

type TaskType string

const (
	TaskAssignment   TaskType = "assignment"
	TaskExam         TaskType = "exam"
	TaskCoding       TaskType = "coding"
	TaskReading      TaskType = "reading"
	TaskGeneralStudy TaskType = "general_study"
	TaskOther        TaskType = "other"
)

const DefaultPlannedMinutes = 30

type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt"`
	PlannedMinutes int        `json:"plannedMinutes"`
	DurationActual *int       `json:"durationActual"`
	Mood           Mood       `json:"mood"`
	TaskType       TaskType   `json:"taskType"`
	TaskID         string     `json:"taskId,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	Completed      bool       `json:"completed"`
}

// SessionDraft carries the optional fields of a session being started.
type SessionDraft struct {
	PlannedMinutes int
	Mood           Mood
	TaskType       TaskType
	TaskID         string
	Notes          string
	StartedAt      time.Time
}

func validMood(m Mood) bool {
	switch m {
	case MoodLow, MoodModerate, MoodHigh:
		return true
	}
	return false
}

func validTaskType(t TaskType) bool {
	switch t {
	case TaskAssignment, TaskExam, TaskCoding, TaskReading, TaskGeneralStudy, TaskOther:
		return true
	}
	return false
}

// NewSession fills defaults for a fresh session owned by userID.
func NewSession(userID string, draft SessionDraft, now time.Time) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidArgument)
	}
	if draft.PlannedMinutes < 0 {
		return nil, fmt.Errorf("%w: negative planned minutes", ErrInvalidArgument)
	}

	s := &Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		StartedAt:      draft.StartedAt,
		PlannedMinutes: draft.PlannedMinutes,
		Mood:           draft.Mood,
		TaskType:       draft.TaskType,
		TaskID:         draft.TaskID,
		Notes:          draft.Notes,
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	if s.PlannedMinutes == 0 {
		s.PlannedMinutes = DefaultPlannedMinutes
	}
	if s.Mood == "" {
		s.Mood = MoodModerate
	}
	if s.TaskType == "" {
		s.TaskType = TaskGeneralStudy
	}

	if !validMood(s.Mood) {
		return nil, fmt.Errorf("%w: unknown mood %q", ErrInvalidArgument, s.Mood)
	}
	if !validTaskType(s.TaskType) {
		return nil, fmt.Errorf("%w: unknown task type %q", ErrInvalidArgument, s.TaskType)
	}
	return s, nil
}

// Complete marks s finished at endedAt.
func (s *Session) Complete(endedAt time.Time, durationMinutes int, notes string) error {
	if s.Completed {
		return ErrSessionCompleted
	}
	if durationMinutes < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalidArgument, durationMinutes)
	}
	s.EndedAt = &endedAt
	s.DurationActual = &durationMinutes
	if notes != "" {
		s.Notes = notes
	}
	s.Completed = true
	return nil
}
