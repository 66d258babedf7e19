package domain

import "time"

// SessionStatus represents the attendance state of one scheduled occurrence
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "SCHEDULED"
	SessionStatusAttended  SessionStatus = "ATTENDED"
	SessionStatusNoShow    SessionStatus = "NO_SHOW"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// Session is one scheduled occurrence of a booking.
// Consumed sessions count toward the booking's completed_sessions,
// billable sessions count toward the tutor's settlement.
type Session struct {
	ID                int64         `json:"id"`
	BookingID         int64         `json:"booking_id"`
	StartsAt          time.Time     `json:"starts_at"`
	EndsAt            time.Time     `json:"ends_at"`
	Status            SessionStatus `json:"status"`
	Consumed          bool          `json:"consumed"`
	Billable          bool          `json:"billable"`
	PendingResolution bool          `json:"pending_resolution"`
	AutoMarked        bool          `json:"auto_marked"`
	MarkedAt          *time.Time    `json:"marked_at,omitempty"`
	MarkedBy          *int64        `json:"marked_by,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// IsFinal reports whether the session no longer blocks booking completion
func (s *Session) IsFinal() bool {
	return s.Status != SessionStatusScheduled && !s.PendingResolution
}

func (s *Session) Clone() *Session {
	cp := *s
	if s.MarkedAt != nil {
		t := *s.MarkedAt
		cp.MarkedAt = &t
	}
	if s.MarkedBy != nil {
		id := *s.MarkedBy
		cp.MarkedBy = &id
	}
	return &cp
}
