// Package refund computes and issues refunds of unconsumed sessions.
package refund

import (
	"time"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/money"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

// Input is the booking state a refund is computed from
type Input struct {
	PaymentAmount     money.Money
	TotalSessions     int
	CompletedSessions int

	// Forfeit consumes the next unconsumed session before the refund is computed
	Forfeit bool
}

// Breakdown is the itemized refund of a booking
type Breakdown struct {
	PerSession         money.Money `json:"per_session"`
	Remainder          money.Money `json:"remainder"`
	TotalSessions      int         `json:"total_sessions"`
	CompletedSessions  int         `json:"completed_sessions"`
	ForfeitedSessions  int         `json:"forfeited_sessions"`
	RefundableSessions int         `json:"refundable_sessions"`
	Amount             money.Money `json:"amount"`
}

// Calculate returns per_session x unconsumed sessions.
// The per-session price is rounded down; the remainder belongs to the last session,
// which is always among the unconsumed ones while any remain.
func Calculate(in Input) (Breakdown, error) {
	if in.TotalSessions < 1 || in.CompletedSessions < 0 || in.CompletedSessions > in.TotalSessions {
		return Breakdown{}, apperr.ErrInvariant.WithMessage("refund input out of range: %d/%d sessions", in.CompletedSessions, in.TotalSessions)
	}
	if in.PaymentAmount.IsNegative() {
		return Breakdown{}, apperr.ErrInvariant.WithMessage("negative payment amount %s", in.PaymentAmount)
	}

	per, rem, err := in.PaymentAmount.DivideEvenly(in.TotalSessions)
	if err != nil {
		return Breakdown{}, apperr.ErrInvariant.Wrap(err)
	}

	b := Breakdown{
		PerSession:        per,
		Remainder:         rem,
		TotalSessions:     in.TotalSessions,
		CompletedSessions: in.CompletedSessions,
	}
	if in.Forfeit && in.CompletedSessions < in.TotalSessions {
		b.ForfeitedSessions = 1
	}
	b.RefundableSessions = in.TotalSessions - in.CompletedSessions - b.ForfeitedSessions

	b.Amount = per.Times(int64(b.RefundableSessions))
	if b.RefundableSessions > 0 {
		if b.Amount, err = b.Amount.Add(rem); err != nil {
			return Breakdown{}, apperr.ErrInvariant.Wrap(err)
		}
	}
	return b, nil
}

// InputFor builds the calculator input from persisted state
func InputFor(b *domain.Booking, p *domain.Payment, forfeit bool) Input {
	return Input{
		PaymentAmount:     p.Amount,
		TotalSessions:     b.TotalSessions,
		CompletedSessions: b.CompletedSessions,
		Forfeit:           forfeit,
	}
}

// ForfeitsNextSession reports whether a cancellation at now gives up the next session.
// Only students forfeit, and only once the session is inside the tutor's cancellation window.
func ForfeitsNextSession(by domain.Role, cancellationHours int, nextStart, now time.Time) bool {
	if by != domain.RoleStudent {
		return false
	}
	deadline := nextStart.Add(-time.Duration(cancellationHours) * time.Hour)
	return !now.Before(deadline)
}
