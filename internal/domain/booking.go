package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/zbnerd/TutorFlow/internal/money"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusApproved  BookingStatus = "APPROVED"
	BookingStatusRejected  BookingStatus = "REJECTED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSessionOverflow   = errors.New("completed sessions would exceed total sessions")
	ErrSessionUnderflow  = errors.New("completed sessions would drop below zero")
	ErrInvalidSlot       = errors.New("slot must end after it starts")
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:  {BookingStatusApproved, BookingStatusRejected, BookingStatusCancelled},
	BookingStatusApproved: {BookingStatusCompleted, BookingStatusCancelled},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to to
func (s BookingStatus) CanTransitionTo(to BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusRejected || s == BookingStatusCancelled || s == BookingStatusCompleted
}

// Slot is one requested time range
type Slot struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

func (s Slot) Validate() error {
	if !s.EndsAt.After(s.StartsAt) {
		return fmt.Errorf("%w: %s", ErrInvalidSlot, s.StartsAt.Format(time.RFC3339))
	}
	return nil
}

// Overlaps uses half-open intervals, so back-to-back slots do not overlap
func (s Slot) Overlaps(o Slot) bool {
	return s.StartsAt.Before(o.EndsAt) && o.StartsAt.Before(s.EndsAt)
}

// Booking is a purchase of TotalSessions sessions between one tutor and one student
type Booking struct {
	ID                int64         `json:"id"`
	TutorID           int64         `json:"tutor_id"`
	StudentID         int64         `json:"student_id"`
	Subject           string        `json:"subject"`
	SessionPrice      money.Money   `json:"session_price"`
	TotalSessions     int           `json:"total_sessions"`
	CompletedSessions int           `json:"completed_sessions"`
	Status            BookingStatus `json:"status"`
	StartDate         time.Time     `json:"start_date"`
	EndDate           time.Time     `json:"end_date"`
	Slots             []Slot        `json:"slots"`
	Notes             *string       `json:"notes,omitempty"`
	Version           int64         `json:"-"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Transition moves the booking to status to if the lifecycle allows it
func (b *Booking) Transition(to BookingStatus) error {
	if !b.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	return nil
}

// ConsumeSession records one more consumed session
func (b *Booking) ConsumeSession() error {
	if b.CompletedSessions+1 > b.TotalSessions {
		return fmt.Errorf("%w: booking %d has %d/%d", ErrSessionOverflow, b.ID, b.CompletedSessions, b.TotalSessions)
	}
	b.CompletedSessions++
	return nil
}

// ReleaseSession reverses ConsumeSession
func (b *Booking) ReleaseSession() error {
	if b.CompletedSessions == 0 {
		return fmt.Errorf("%w: booking %d", ErrSessionUnderflow, b.ID)
	}
	b.CompletedSessions--
	return nil
}

func (b *Booking) IsParticipant(userID int64) bool {
	return b.TutorID == userID || b.StudentID == userID
}

// ShouldComplete reports whether every session reached a final state.
// A no-show waiting for manual resolution keeps the booking open.
func (b *Booking) ShouldComplete(sessions []*Session) bool {
	if b.Status != BookingStatusApproved || len(sessions) == 0 {
		return false
	}
	for _, s := range sessions {
		if !s.IsFinal() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (b *Booking) Clone() *Booking {
	cp := *b
	cp.Slots = append([]Slot(nil), b.Slots...)
	if b.Notes != nil {
		n := *b.Notes
		cp.Notes = &n
	}
	return &cp
}

// SpanOf returns the earliest start and latest end of slots
func SpanOf(slots []Slot) (start, end time.Time) {
	for i, s := range slots {
		if i == 0 || s.StartsAt.Before(start) {
			start = s.StartsAt
		}
		if i == 0 || s.EndsAt.After(end) {
			end = s.EndsAt
		}
	}
	return start, end
}
