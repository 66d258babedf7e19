package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidClock = errors.New("time must be formatted HH:MM")

// AvailableSlot is a weekly window in which a tutor takes sessions. DayOfWeek runs from
// 0 (Monday) to 6 (Sunday); times are HH:MM on the platform clock.
type AvailableSlot struct {
	ID        int64     `json:"id"`
	TutorID   int64     `json:"tutor_id"`
	DayOfWeek int       `json:"day_of_week"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseClock returns the minutes after midnight of an HH:MM value
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, ErrInvalidClock
	}
	digit := func(b byte) (int, bool) { return int(b - '0'), b >= '0' && b <= '9' }
	h1, ok1 := digit(s[0])
	h2, ok2 := digit(s[1])
	m1, ok3 := digit(s[3])
	m2, ok4 := digit(s[4])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0, ErrInvalidClock
	}
	h, m := h1*10+h2, m1*10+m2
	if h > 23 || m > 59 {
		return 0, ErrInvalidClock
	}
	return h*60 + m, nil
}

// MondayIndex maps a weekday onto the 0 (Monday) to 6 (Sunday) scale
func MondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func (a *AvailableSlot) Validate() error {
	if a.DayOfWeek < 0 || a.DayOfWeek > 6 {
		return fmt.Errorf("day_of_week must be between 0 (Monday) and 6 (Sunday)")
	}
	from, err := ParseClock(a.StartTime)
	if err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	to, err := ParseClock(a.EndTime)
	if err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	if from >= to {
		return fmt.Errorf("start_time must be before end_time")
	}
	return nil
}

// Includes reports whether minute (after midnight) of day falls inside the window
func (a *AvailableSlot) Includes(day, minute int) bool {
	if !a.IsActive || day != a.DayOfWeek {
		return false
	}
	from, err1 := ParseClock(a.StartTime)
	to, err2 := ParseClock(a.EndTime)
	return err1 == nil && err2 == nil && minute >= from && minute < to
}

// Covers reports whether [start, end) lies inside the window on one local day
func (a *AvailableSlot) Covers(start, end time.Time, loc *time.Location) bool {
	ls, le := start.In(loc), end.In(loc)
	if !a.IsActive || MondayIndex(ls.Weekday()) != a.DayOfWeek {
		return false
	}
	from, err1 := ParseClock(a.StartTime)
	to, err2 := ParseClock(a.EndTime)
	if err1 != nil || err2 != nil {
		return false
	}
	dayStart := time.Date(ls.Year(), ls.Month(), ls.Day(), 0, 0, 0, 0, loc)
	return !ls.Before(dayStart.Add(time.Duration(from)*time.Minute)) &&
		!le.After(dayStart.Add(time.Duration(to)*time.Minute))
}
