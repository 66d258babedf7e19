package attendance

import (
	"fmt"
	"time"

	"github.com/zbnerd/TutorFlow/internal/domain"
)

// UnmarkedRule decides the status of a session nobody marked before its deadline
type UnmarkedRule string

const (
	// FailOpenAttended counts an unmarked session as delivered
	FailOpenAttended UnmarkedRule = "ATTENDED"

	// FailClosedNoShow runs an unmarked session through the tutor's no-show policy
	FailClosedNoShow UnmarkedRule = "NO_SHOW"
)

// ParseUnmarkedRule parses UNMARKED_SESSION_OUTCOME
func ParseUnmarkedRule(s string) (UnmarkedRule, error) {
	switch r := UnmarkedRule(s); r {
	case FailOpenAttended, FailClosedNoShow:
		return r, nil
	}
	return "", fmt.Errorf("unknown unmarked session outcome %q", s)
}

func (r UnmarkedRule) Status() domain.SessionStatus {
	if r == FailClosedNoShow {
		return domain.SessionStatusNoShow
	}
	return domain.SessionStatusAttended
}

// MarkingDeadline is 23:59 on the day after the session's local date
func MarkingDeadline(startsAt time.Time, loc *time.Location) time.Time {
	lt := startsAt.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 23, 59, 0, 0, loc)
}

// startOfDay returns local midnight of t's date shifted by days
func startOfDay(t time.Time, loc *time.Location, days int) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+days, 0, 0, 0, 0, loc)
}
