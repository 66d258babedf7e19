package booking

import (
	"strings"
	"unicode/utf8"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/refund"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

const (
	maxSlots      = 100
	maxSubjectLen = 100
	maxNotesLen   = 1000
)

// CreateBookingRequest represents the request to book sessions with a tutor
type CreateBookingRequest struct {
	TutorID int64         `json:"tutor_id"`
	Subject string        `json:"subject"`
	Slots   []domain.Slot `json:"slots"`
	Notes   *string       `json:"notes,omitempty"`
}

// Validate checks the request shape; scheduling rules are checked by the service
func (r *CreateBookingRequest) Validate() error {
	r.Subject = strings.TrimSpace(r.Subject)
	switch {
	case r.TutorID <= 0:
		return apperr.ErrValidation.WithMessage("tutor_id is required")
	case r.Subject == "" || utf8.RuneCountInString(r.Subject) > maxSubjectLen:
		return apperr.ErrValidation.WithMessage("subject must be 1-%d characters", maxSubjectLen)
	case len(r.Slots) == 0 || len(r.Slots) > maxSlots:
		return apperr.ErrValidation.WithMessage("between 1 and %d slots are required", maxSlots)
	case r.Notes != nil && utf8.RuneCountInString(*r.Notes) > maxNotesLen:
		return apperr.ErrValidation.WithMessage("notes must be at most %d characters", maxNotesLen)
	}
	for _, s := range r.Slots {
		if err := s.Validate(); err != nil {
			return apperr.ErrValidation.WithMessage("%v", err)
		}
	}
	return nil
}

// ReasonRequest carries the reason of a rejection or cancellation
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// TransitionResult is a terminal transition together with the refund it opened
type TransitionResult struct {
	Booking   *domain.Booking   `json:"booking"`
	Refund    *domain.Refund    `json:"refund,omitempty"`
	Breakdown *refund.Breakdown `json:"refund_breakdown,omitempty"`
}
