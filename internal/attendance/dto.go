package attendance

import (
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

// MarkRequest is the tutor's attendance mark
type MarkRequest struct {
	Status domain.SessionStatus `json:"status"`
}

func (r *MarkRequest) Validate() error {
	switch r.Status {
	case domain.SessionStatusAttended, domain.SessionStatusNoShow:
		return nil
	}
	return apperr.ErrValidation.WithMessage("status must be ATTENDED or NO_SHOW")
}

// ResolveRequest is an administrator's decision on a pending no-show
type ResolveRequest struct {
	Billable bool `json:"billable"`
}

// MarkResult is the marked session together with its booking after the change
type MarkResult struct {
	Session *domain.Session `json:"session"`
	Booking *domain.Booking `json:"booking"`
}

// SweepReport summarizes one sweep over overdue sessions
type SweepReport struct {
	Scanned int `json:"scanned"`
	Marked  int `json:"marked"`
	Failed  int `json:"failed"`
}
