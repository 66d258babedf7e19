package refund

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/zbnerd/TutorFlow/internal/audit"
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/gateway"
	"github.com/zbnerd/TutorFlow/internal/money"
	"github.com/zbnerd/TutorFlow/internal/notification"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

var (
	ErrRefundNotFound     = apperr.NotFound("NOT_FOUND", "refund not found")
	ErrAlreadyRefunded    = apperr.Conflict("ALREADY_REFUNDED", "payment has already been refunded")
	ErrRefundInFlight     = apperr.Conflict("STATE_CONFLICT", "refund is already being processed")
	ErrPaymentNotCaptured = apperr.Conflict("PAYMENT_NOT_CAPTURED", "payment has not been captured")
)

// Settings configures refund execution
type Settings struct {
	// ProcessingTimeout is how long a refund may stay PROCESSING before it is issued again
	ProcessingTimeout time.Duration
}

// Service issues refunds against the payment gateway
type Service struct {
	store    store.Store
	gateway  gateway.PaymentGateway
	notifier *notification.Service
	settings Settings
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a new refund service
func NewService(st store.Store, gw gateway.PaymentGateway, notifier *notification.Service, settings Settings, log *slog.Logger) *Service {
	return &Service{
		store:    st,
		gateway:  gw,
		notifier: notifier,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the service clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open records a PENDING refund of p inside the caller's transaction.
// The caller issues it once the transaction committed.
func Open(ctx context.Context, tx store.Tx, p *domain.Payment, amount money.Money, reason string, actorID *int64) (*domain.Refund, error) {
	if existing, err := tx.GetRefundByPayment(ctx, p.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAlreadyRefunded.WithCurrent(existing)
	}

	r := &domain.Refund{
		BookingID:   p.BookingID,
		PaymentID:   p.ID,
		Amount:      amount,
		Reason:      reason,
		Status:      domain.RefundStatusPending,
		RequestedBy: actorID,
	}
	if err := tx.CreateRefund(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyRefunded
		}
		return nil, err
	}
	if err := audit.Record(ctx, tx, domain.EntityRefund, r.ID, "open", actorID, nil, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetByID returns a refund visible to actor
func (s *Service) GetByID(ctx context.Context, id int64, actor domain.Actor) (*domain.Refund, error) {
	var r *domain.Refund
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.GetRefund(ctx, id); err != nil {
			return err
		}
		if r == nil {
			return ErrRefundNotFound
		}
		if actor.IsAdmin() {
			return nil
		}
		b, err := tx.GetBooking(ctx, r.BookingID)
		if err != nil {
			return err
		}
		if b == nil || !b.IsParticipant(actor.ID) {
			return ErrRefundNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Issue moves the refund's money through the gateway.
// Success completes the refund and moves the payment from PAID to REFUNDED exactly once;
// a gateway failure leaves the refund FAILED for RetryFailed.
func (s *Service) Issue(ctx context.Context, refundID int64, actorID *int64) (*domain.Refund, error) {
	var (
		r       *domain.Refund
		key     string
		settled bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRefund(ctx, refundID); err != nil {
			return err
		}
		if r == nil {
			return ErrRefundNotFound
		}
		switch r.Status {
		case domain.RefundStatusCompleted:
			return ErrAlreadyRefunded.WithCurrent(r)
		case domain.RefundStatusProcessing:
			if s.now().Sub(r.UpdatedAt) < s.settings.ProcessingTimeout {
				return ErrRefundInFlight.WithCurrent(r)
			}
		}

		p, err := tx.LockPayment(ctx, r.PaymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return apperr.ErrInvariant.WithMessage("refund %d has no payment", r.ID)
		}
		switch p.Status {
		case domain.PaymentStatusRefunded:
			return ErrAlreadyRefunded.WithCurrent(p.Status)
		case domain.PaymentStatusPaid:
		default:
			return ErrPaymentNotCaptured.WithCurrent(p.Status)
		}

		old := r.Clone()
		if r.Amount.IsZero() {
			// nothing to move; the payment stays PAID
			now := s.now()
			r.Status = domain.RefundStatusCompleted
			r.CompletedAt = &now
			settled = true
			if err := tx.UpdateRefund(ctx, r); err != nil {
				return err
			}
			return audit.Record(ctx, tx, domain.EntityRefund, r.ID, "complete", actorID, old, r)
		}

		if p.PaymentKey == nil {
			return apperr.ErrInvariant.WithMessage("paid payment %d has no gateway key", p.ID)
		}
		key = *p.PaymentKey
		r.Status = domain.RefundStatusProcessing
		r.Attempts++
		if err := tx.UpdateRefund(ctx, r); err != nil {
			return err
		}
		return audit.Record(ctx, tx, domain.EntityRefund, r.ID, "process", actorID, old, r)
	})
	if err != nil {
		return nil, err
	}
	if settled {
		return r, nil
	}

	res, callErr := s.gateway.Refund(ctx, key, r.Amount, r.Reason, IdempotencyKey(r))
	if callErr != nil {
		s.log.WarnContext(ctx, "refund call failed", "refund_id", r.ID, "attempt", r.Attempts, "error", callErr)
	}

	var studentID int64
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRefund(ctx, refundID); err != nil {
			return err
		}
		if r.Status == domain.RefundStatusCompleted {
			return ErrAlreadyRefunded.WithCurrent(r)
		}
		old := r.Clone()
		now := s.now()

		if callErr != nil {
			reason := callErr.Error()
			r.Status = domain.RefundStatusFailed
			r.FailureReason = &reason
			if err := tx.UpdateRefund(ctx, r); err != nil {
				return err
			}
			return audit.Record(ctx, tx, domain.EntityRefund, r.ID, "fail", actorID, old, r)
		}

		r.Status = domain.RefundStatusCompleted
		r.GatewayRef = &res.Reference
		r.FailureReason = nil
		r.CompletedAt = &now
		if err := tx.UpdateRefund(ctx, r); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, domain.EntityRefund, r.ID, "complete", actorID, old, r); err != nil {
			return err
		}

		p, err := tx.LockPayment(ctx, r.PaymentID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusPaid {
			return apperr.ErrInvariant.WithMessage("payment %d is %s after refund %d", p.ID, p.Status, r.ID)
		}
		oldPayment := p.Clone()
		p.Status = domain.PaymentStatusRefunded
		p.RefundedAt = &now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			if errors.Is(err, store.ErrStaleState) {
				return apperr.ErrStale.Wrap(err)
			}
			return err
		}
		if err := audit.Record(ctx, tx, domain.EntityPayment, p.ID, "refund", actorID, oldPayment, p); err != nil {
			return err
		}

		b, err := tx.GetBooking(ctx, r.BookingID)
		if err != nil {
			return err
		}
		if b != nil {
			studentID = b.StudentID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		return r, apperr.ErrExternal.WithMessage("refund %d failed at the payment gateway", r.ID).Wrap(callErr)
	}

	s.notifier.NotifyRefundIssued(ctx, studentID, r.BookingID, r.Amount)
	return r, nil
}

// IdempotencyKey is the key every attempt of refund r is sent under
func IdempotencyKey(r *domain.Refund) string {
	return "refund-" + strconv.FormatInt(r.ID, 10)
}

// RetryReport summarizes one reconciliation pass
type RetryReport struct {
	Attempted int `json:"attempted"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// RetryFailed issues every PENDING or FAILED refund again, plus PROCESSING ones whose
// call outlived ProcessingTimeout. Each refund is its own unit; one failure does not stop the pass.
func (s *Service) RetryFailed(ctx context.Context, limit int) (RetryReport, error) {
	var due []*domain.Refund
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		for _, status := range []domain.RefundStatus{domain.RefundStatusPending, domain.RefundStatusFailed, domain.RefundStatusProcessing} {
			rows, err := tx.ListRefundsByStatus(ctx, status, limit)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if r.Status == domain.RefundStatusProcessing && s.now().Sub(r.UpdatedAt) < s.settings.ProcessingTimeout {
					continue
				}
				due = append(due, r)
			}
		}
		return nil
	})
	if err != nil {
		return RetryReport{}, err
	}

	var report RetryReport
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++
		if _, err := s.Issue(ctx, r.ID, nil); err != nil {
			report.Failed++
			s.log.WarnContext(ctx, "refund retry failed", "refund_id", r.ID, "error", err)
			continue
		}
		report.Completed++
	}
	return report, nil
}
