package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

const dateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// CalendarDate is a day without a time of day. The zero value means "no date".
type CalendarDate struct {
	year  int
	month time.Month
	day   int
}

func NewDate(year int, month time.Month, day int) CalendarDate {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return CalendarDate{year: t.Year(), month: t.Month(), day: t.Day()}
}

// DateOf truncates t to the calendar day it falls on in loc.
func DateOf(t time.Time, loc *time.Location) CalendarDate {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return CalendarDate{year: y, month: m, day: d}
}

// ParseDate accepts only strict YYYY-MM-DD strings naming a real day.
func ParseDate(s string) (CalendarDate, error) {
	if !datePattern.MatchString(s) {
		return CalendarDate{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidArgument, s)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return CalendarDate{}, fmt.Errorf("%w: date %q: %v", ErrInvalidArgument, s, err)
	}
	return DateOf(t, time.UTC), nil
}

func (d CalendarDate) IsZero() bool {
	return d == CalendarDate{}
}

// Time returns midnight UTC of the day.
func (d CalendarDate) Time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

func (d CalendarDate) AddDays(n int) CalendarDate {
	return DateOf(d.Time().AddDate(0, 0, n), time.UTC)
}

// DaysSince returns the number of whole days from other to d.
func (d CalendarDate) DaysSince(other CalendarDate) int {
	return int(d.Time().Sub(other.Time()).Hours() / 24)
}

func (d CalendarDate) Before(other CalendarDate) bool {
	return d.Time().Before(other.Time())
}

func (d CalendarDate) After(other CalendarDate) bool {
	return d.Time().After(other.Time())
}

func (d CalendarDate) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(dateLayout)
}

func (d CalendarDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *CalendarDate) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = CalendarDate{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = CalendarDate{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ResolveToday picks the caller's local date when it is a strict YYYY-MM-DD
// value and falls back to now's date in loc otherwise.
func ResolveToday(override string, now time.Time, loc *time.Location) CalendarDate {
	if override != "" {
		if d, err := ParseDate(override); err == nil {
			return d
		}
	}
	return DateOf(now, loc)
}
