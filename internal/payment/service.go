package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/zbnerd/TutorFlow/internal/audit"
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/gateway"
	"github.com/zbnerd/TutorFlow/internal/money"
	"github.com/zbnerd/TutorFlow/internal/notification"
	"github.com/zbnerd/TutorFlow/internal/refund"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

// Common errors
var (
	ErrPaymentNotFound    = apperr.NotFound("NOT_FOUND", "payment not found")
	ErrAmountMismatch     = apperr.Validation("AMOUNT_MISMATCH", "captured amount does not match the payment")
	ErrInvalidSignature   = apperr.Authorization("INVALID_SIGNATURE", "webhook signature is invalid")
	ErrPaymentNotCaptured = apperr.Conflict("PAYMENT_NOT_CAPTURED", "payment has not been captured yet")
	ErrKeyConflict        = apperr.Conflict("STATE_CONFLICT", "payment was captured under a different key")
)

// capture is one verified statement about a payment, from the client flow or a webhook
type capture struct {
	orderID    string
	paymentKey string
	status     gateway.CaptureStatus
	amount     int64

	// currency is empty when the source only reports minor units
	currency money.Currency
	eventID  string
	eventKey string
	source   string
}

// Service applies captures to payments
type Service struct {
	store         store.Store
	gateway       gateway.PaymentGateway
	refunds       *refund.Service
	notifier      *notification.Service
	webhookSecret []byte
	log           *slog.Logger
	now           func() time.Time
}

// NewService creates a new payment service
func NewService(st store.Store, gw gateway.PaymentGateway, refunds *refund.Service, notifier *notification.Service, webhookSecret string, log *slog.Logger) *Service {
	return &Service{
		store:         st,
		gateway:       gw,
		refunds:       refunds,
		notifier:      notifier,
		webhookSecret: []byte(webhookSecret),
		log:           log,
		now:           time.Now,
	}
}

// WithClock overrides the service clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Confirm verifies the capture with the gateway and marks the payment PAID.
// Confirming an already captured payment again returns it unchanged.
func (s *Service) Confirm(ctx context.Context, actor domain.Actor, req *ConfirmRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var current *domain.Payment
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPaymentByOrderID(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrPaymentNotFound
		}
		b, err := tx.GetBooking(ctx, p.BookingID)
		if err != nil {
			return err
		}
		if b == nil || (b.StudentID != actor.ID && !actor.IsAdmin()) {
			return ErrPaymentNotFound
		}
		current = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if current.IsCaptured() {
		if current.PaymentKey != nil && *current.PaymentKey != req.PaymentKey {
			return nil, ErrKeyConflict.WithCurrent(current.Status)
		}
		return &Result{Payment: current}, nil
	}

	v, err := s.gateway.VerifyPayment(ctx, req.PaymentKey)
	if err != nil {
		return nil, apperr.ErrExternal.WithMessage("payment verification failed").Wrap(err)
	}
	if v.Status == gateway.CapturePending {
		return nil, ErrPaymentNotCaptured
	}

	return s.apply(ctx, capture{
		orderID:    req.OrderID,
		paymentKey: req.PaymentKey,
		status:     v.Status,
		amount:     v.Amount.Amount(),
		currency:   v.Amount.Currency(),
		source:     "confirm",
	}, audit.Actor(actor.ID))
}

// HandleWebhook authenticates a gateway callback and applies it.
// Redeliveries of an already processed event return a nil result.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (*Result, error) {
	if !gateway.VerifySignature(s.webhookSecret, body, signature) {
		return nil, ErrInvalidSignature
	}

	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, apperr.ErrValidation.WithMessage("malformed webhook payload")
	}
	if evt.OrderID == "" || evt.PaymentKey == "" {
		return nil, apperr.ErrValidation.WithMessage("order_id and payment_key are required")
	}
	status, ok := evt.CaptureStatus()
	if !ok {
		s.log.InfoContext(ctx, "ignoring in-progress payment event", "order_id", evt.OrderID, "status", evt.Status)
		return nil, nil
	}

	return s.apply(ctx, capture{
		orderID:    evt.OrderID,
		paymentKey: evt.PaymentKey,
		status:     status,
		amount:     evt.Amount,
		eventID:    evt.DedupeKey(),
		eventKey:   evt.PaymentKey + ":" + evt.Status,
		source:     "webhook",
	}, nil)
}

// apply moves the payment in one transaction. PAID is never downgraded, and a capture
// for a booking that was rejected or cancelled meanwhile is recorded and refunded in full.
func (s *Service) apply(ctx context.Context, c capture, actorID *int64) (*Result, error) {
	var (
		res       *Result
		booking   *domain.Booking
		mismatch  bool
		duplicate bool
		newlyPaid bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if c.eventID != "" {
			fresh, err := tx.MarkEventProcessed(ctx, c.eventID, c.eventKey)
			if err != nil {
				return err
			}
			if !fresh {
				duplicate = true
				return nil
			}
		}

		found, err := tx.GetPaymentByOrderID(ctx, c.orderID)
		if err != nil {
			return err
		}
		if found == nil {
			return ErrPaymentNotFound
		}
		// booking before payment, like every other writer
		if booking, err = tx.LockBooking(ctx, found.BookingID); err != nil {
			return err
		}
		p, err := tx.LockPayment(ctx, found.ID)
		if err != nil {
			return err
		}
		res = &Result{Payment: p}

		if p.IsCaptured() {
			if c.status == gateway.CaptureCaptured && p.PaymentKey != nil && *p.PaymentKey != c.paymentKey {
				return ErrKeyConflict.WithCurrent(p.Status)
			}
			return nil
		}

		old := p.Clone()
		now := s.now()
		switch c.status {
		case gateway.CaptureCaptured:
			currency := c.currency
			if currency == "" {
				currency = p.Amount.Currency()
			}
			if !money.New(c.amount, currency).Equal(p.Amount) {
				mismatch = true
				reason := "amount mismatch: captured " + money.New(c.amount, currency).String() + ", expected " + p.Amount.String()
				p.Status = domain.PaymentStatusFailed
				p.FailureReason = &reason
				p.PaymentKey = &c.paymentKey
				break
			}
			p.Status = domain.PaymentStatusPaid
			p.PaymentKey = &c.paymentKey
			p.PaidAt = &now
			p.FailureReason = nil
			newlyPaid = true
		case gateway.CaptureFailed:
			if p.Status == domain.PaymentStatusFailed {
				return nil
			}
			reason := c.source + " reported the payment failed"
			p.Status = domain.PaymentStatusFailed
			p.FailureReason = &reason
		default:
			return nil
		}

		if err := tx.UpdatePayment(ctx, p); err != nil {
			if errors.Is(err, store.ErrStaleState) {
				return apperr.ErrStale.Wrap(err)
			}
			return err
		}
		res.Changed = true
		if err := audit.Record(ctx, tx, domain.EntityPayment, p.ID, c.source, actorID, old, p); err != nil {
			return err
		}

		if newlyPaid && (booking.Status == domain.BookingStatusRejected || booking.Status == domain.BookingStatusCancelled) {
			r, err := refund.Open(ctx, tx, p, p.Amount, "captured after booking was "+string(booking.Status), actorID)
			if err != nil {
				return err
			}
			res.Refund = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		s.log.InfoContext(ctx, "duplicate payment event", "event_id", c.eventID, "order_id", c.orderID)
		return nil, nil
	}
	if mismatch {
		return res, ErrAmountMismatch.WithCurrent(res.Payment.Status)
	}

	if res.Refund != nil {
		if r, err := s.refunds.Issue(ctx, res.Refund.ID, actorID); err != nil {
			s.log.WarnContext(ctx, "late capture refund not issued", "refund_id", res.Refund.ID, "error", err)
		} else {
			res.Refund = r
		}
	} else if newlyPaid {
		s.notifier.NotifyPaymentConfirmed(ctx, booking, res.Payment)
	}
	return res, nil
}

// GetByOrderID returns a payment visible to actor
func (s *Service) GetByOrderID(ctx context.Context, actor domain.Actor, orderID string) (*domain.Payment, error) {
	var p *domain.Payment
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if p, err = tx.GetPaymentByOrderID(ctx, orderID); err != nil {
			return err
		}
		if p == nil {
			return ErrPaymentNotFound
		}
		if actor.IsAdmin() {
			return nil
		}
		b, err := tx.GetBooking(ctx, p.BookingID)
		if err != nil {
			return err
		}
		if b == nil || !b.IsParticipant(actor.ID) {
			return ErrPaymentNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
