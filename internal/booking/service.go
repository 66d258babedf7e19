package booking

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zbnerd/TutorFlow/internal/audit"
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/notification"
	"github.com/zbnerd/TutorFlow/internal/refund"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

// Common errors
var (
	ErrBookingNotFound     = apperr.NotFound("NOT_FOUND", "booking not found")
	ErrTutorNotFound       = apperr.NotFound("NOT_FOUND", "tutor not found")
	ErrLeadTimeViolation   = apperr.Validation("LEAD_TIME_VIOLATION", "booking must start after the minimum lead time")
	ErrSchedulingConflict  = apperr.Conflict("SCHEDULING_CONFLICT", "requested slot overlaps an existing booking")
	ErrOutsideAvailability = apperr.Validation("OUTSIDE_AVAILABILITY", "requested slot is outside the tutor's weekly availability")
	ErrPaymentNotCaptured  = apperr.Conflict("PAYMENT_NOT_CAPTURED", "booking has not been paid")
	ErrNotStudent          = apperr.ErrForbidden.WithMessage("only the student of the booking can do this")
	ErrNotTutor            = apperr.ErrForbidden.WithMessage("only the tutor of the booking can do this")
)

// Settings configures the booking lifecycle
type Settings struct {
	MinLeadTime time.Duration

	// FeeRate is the platform fee applied to each payment
	FeeRate decimal.Decimal

	// Location places slots on the tutor's weekly availability
	Location *time.Location
}

// Service owns booking status transitions
type Service struct {
	store    store.Store
	refunds  *refund.Service
	notifier *notification.Service
	settings Settings
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a new booking service
func NewService(st store.Store, refunds *refund.Service, notifier *notification.Service, settings Settings, log *slog.Logger) *Service {
	return &Service{
		store:    st,
		refunds:  refunds,
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

// Create books the requested slots. The overlap check and the insert run under the
// tutor's row lock, so two overlapping requests cannot both succeed.
func (s *Service) Create(ctx context.Context, actor domain.Actor, req *CreateBookingRequest) (*domain.Booking, error) {
	if actor.Role != domain.RoleStudent {
		return nil, apperr.ErrForbidden.WithMessage("only students can book sessions")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TutorID == actor.ID {
		return nil, apperr.ErrValidation.WithMessage("cannot book yourself")
	}

	slots := append([]domain.Slot(nil), req.Slots...)
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartsAt.Before(slots[j].StartsAt) })

	earliest := s.now().Add(s.settings.MinLeadTime)
	if slots[0].StartsAt.Before(earliest) {
		return nil, ErrLeadTimeViolation.WithCurrent(map[string]time.Time{"earliest_start": earliest})
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].Overlaps(slots[i-1]) {
			return nil, ErrSchedulingConflict.WithMessage("requested slots overlap each other")
		}
	}
	start, end := domain.SpanOf(slots)

	var b *domain.Booking
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		tutor, err := tx.LockTutorProfile(ctx, req.TutorID)
		if err != nil {
			return err
		}
		if tutor == nil || !tutor.IsApproved {
			return ErrTutorNotFound
		}

		if err := s.checkAvailability(ctx, tx, req.TutorID, slots); err != nil {
			return err
		}

		taken, err := tx.ListActiveSlots(ctx, req.TutorID, start, end)
		if err != nil {
			return err
		}
		for _, want := range slots {
			for _, have := range taken {
				if want.Overlaps(have) {
					return ErrSchedulingConflict.WithCurrent(have)
				}
			}
		}

		b = &domain.Booking{
			TutorID:       req.TutorID,
			StudentID:     actor.ID,
			Subject:       req.Subject,
			SessionPrice:  tutor.SessionPrice,
			TotalSessions: len(slots),
			Status:        domain.BookingStatusPending,
			StartDate:     start,
			EndDate:       end,
			Slots:         slots,
			Notes:         req.Notes,
		}
		if err := tx.CreateBooking(ctx, b); err != nil {
			return err
		}
		return audit.Record(ctx, tx, domain.EntityBooking, b.ID, "create", audit.Actor(actor.ID), nil, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// checkAvailability requires every slot to sit inside an active weekly window. A tutor
// without windows takes any time.
func (s *Service) checkAvailability(ctx context.Context, tx store.Tx, tutorID int64, slots []domain.Slot) error {
	windows, err := tx.ListAvailableSlots(ctx, tutorID, true)
	if err != nil || len(windows) == 0 {
		return err
	}
	loc := s.settings.Location
	if loc == nil {
		loc = time.Local
	}
	for _, want := range slots {
		covered := false
		for _, w := range windows {
			if w.Covers(want.StartsAt, want.EndsAt, loc) {
				covered = true
				break
			}
		}
		if !covered {
			return ErrOutsideAvailability.WithCurrent(want)
		}
	}
	return nil
}

// Checkout opens the booking's single payment. A second checkout returns the pending
// payment unchanged; a failed payment is reopened under the same order id.
func (s *Service) Checkout(ctx context.Context, actor domain.Actor, bookingID int64) (*domain.Payment, error) {
	var p *domain.Payment
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := s.lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.StudentID != actor.ID {
			return ErrNotStudent
		}
		if b.Status != domain.BookingStatusPending {
			return apperr.ErrStateConflict.WithCurrent(b.Status)
		}

		if p, err = tx.GetPaymentByBooking(ctx, b.ID); err != nil {
			return err
		}
		if p == nil {
			p = domain.NewPayment(b, uuid.NewString(), s.settings.FeeRate)
			if err := tx.CreatePayment(ctx, p); err != nil {
				return err
			}
			return audit.Record(ctx, tx, domain.EntityPayment, p.ID, "checkout", audit.Actor(actor.ID), nil, p)
		}

		switch p.Status {
		case domain.PaymentStatusPending:
			return nil
		case domain.PaymentStatusFailed:
			old := p.Clone()
			p.Status = domain.PaymentStatusPending
			p.FailureReason = nil
			if err := updatePayment(ctx, tx, p); err != nil {
				return err
			}
			return audit.Record(ctx, tx, domain.EntityPayment, p.ID, "checkout", audit.Actor(actor.ID), old, p)
		default:
			return apperr.ErrStateConflict.WithMessage("booking is already paid").WithCurrent(p.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Approve confirms a paid booking and materializes one session per requested slot
func (s *Service) Approve(ctx context.Context, actor domain.Actor, bookingID int64) (*domain.Booking, error) {
	var b *domain.Booking
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if b, err = s.lockBooking(ctx, tx, bookingID); err != nil {
			return err
		}
		if b.TutorID != actor.ID {
			return ErrNotTutor
		}
		if b.Status != domain.BookingStatusPending {
			return apperr.ErrStateConflict.WithCurrent(b.Status)
		}

		p, err := s.lockPayment(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if p == nil || p.Status != domain.PaymentStatusPaid {
			var current any
			if p != nil {
				current = p.Status
			}
			return ErrPaymentNotCaptured.WithCurrent(current)
		}

		old := b.Clone()
		if err := b.Transition(domain.BookingStatusApproved); err != nil {
			return apperr.ErrStateConflict.WithCurrent(b.Status).Wrap(err)
		}
		if err := updateBooking(ctx, tx, b); err != nil {
			return err
		}

		sessions := make([]*domain.Session, len(b.Slots))
		for i, slot := range b.Slots {
			sessions[i] = &domain.Session{
				BookingID: b.ID,
				StartsAt:  slot.StartsAt,
				EndsAt:    slot.EndsAt,
				Status:    domain.SessionStatusScheduled,
			}
		}
		if err := tx.CreateSessions(ctx, sessions); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.ErrInvariant.WithMessage("sessions of booking %d already exist", b.ID).Wrap(err)
			}
			return err
		}
		return audit.Record(ctx, tx, domain.EntityBooking, b.ID, "approve", audit.Actor(actor.ID), old, b)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyBookingApproved(ctx, b)
	return b, nil
}

// Reject declines a pending booking; a paid booking is refunded in full
func (s *Service) Reject(ctx context.Context, actor domain.Actor, bookingID int64, reason string) (*TransitionResult, error) {
	var res *TransitionResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := s.lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.TutorID != actor.ID {
			return ErrNotTutor
		}
		if b.Status != domain.BookingStatusPending {
			return apperr.ErrStateConflict.WithCurrent(b.Status)
		}

		old := b.Clone()
		if err := b.Transition(domain.BookingStatusRejected); err != nil {
			return apperr.ErrStateConflict.WithCurrent(b.Status).Wrap(err)
		}
		if err := updateBooking(ctx, tx, b); err != nil {
			return err
		}

		res = &TransitionResult{Booking: b}
		if err := s.openRefund(ctx, tx, res, false, reasonOr(reason, "rejected by tutor"), actor); err != nil {
			return err
		}
		return audit.Record(ctx, tx, domain.EntityBooking, b.ID, "reject", audit.Actor(actor.ID), old, transitionPayload(res, reason))
	})
	if err != nil {
		return nil, err
	}

	s.issue(ctx, res, actor)
	return res, nil
}

// Cancel ends a pending or approved booking. Remaining sessions are cancelled and the
// unconsumed ones refunded; a student cancelling inside the tutor's cancellation window
// forfeits the next session.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, bookingID int64, reason string) (*TransitionResult, error) {
	var res *TransitionResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := s.lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if !b.IsParticipant(actor.ID) && !actor.IsAdmin() {
			return ErrBookingNotFound
		}
		if b.Status != domain.BookingStatusPending && b.Status != domain.BookingStatusApproved {
			return apperr.ErrStateConflict.WithCurrent(b.Status)
		}

		old := b.Clone()
		forfeit := false
		if b.Status == domain.BookingStatusApproved {
			if forfeit, err = s.cancelSessions(ctx, tx, b, actor); err != nil {
				return err
			}
		}
		if err := b.Transition(domain.BookingStatusCancelled); err != nil {
			return apperr.ErrStateConflict.WithCurrent(b.Status).Wrap(err)
		}

		res = &TransitionResult{Booking: b}
		// priced on the state before the forfeited session was consumed
		if err := s.openRefundFor(ctx, tx, res, old, forfeit, reasonOr(reason, "cancelled"), actor); err != nil {
			return err
		}
		if err := updateBooking(ctx, tx, b); err != nil {
			return err
		}
		return audit.Record(ctx, tx, domain.EntityBooking, b.ID, "cancel", audit.Actor(actor.ID), old, transitionPayload(res, reason))
	})
	if err != nil {
		return nil, err
	}

	s.issue(ctx, res, actor)
	return res, nil
}

// cancelSessions cancels every SCHEDULED session of b and reports whether the next one was forfeited
func (s *Service) cancelSessions(ctx context.Context, tx store.Tx, b *domain.Booking, actor domain.Actor) (bool, error) {
	sessions, err := tx.ListSessionsByBooking(ctx, b.ID)
	if err != nil {
		return false, err
	}
	profile, err := tx.GetTutorProfile(ctx, b.TutorID)
	if err != nil {
		return false, err
	}
	if profile == nil {
		return false, apperr.ErrInvariant.WithMessage("tutor %d of booking %d has no profile", b.TutorID, b.ID)
	}

	now := s.now()
	by := cancellingParty(b, actor)
	forfeited := false
	for _, sess := range sessions {
		old := sess.Clone()
		switch {
		case sess.Status == domain.SessionStatusScheduled:
			sess.Status = domain.SessionStatusCancelled
			if !forfeited && refund.ForfeitsNextSession(by, profile.CancellationHours, sess.StartsAt, now) {
				forfeited = true
				sess.Consumed = true
				sess.Billable = true
				if err := b.ConsumeSession(); err != nil {
					return false, apperr.ErrInvariant.Wrap(err)
				}
			}
		case sess.PendingResolution:
			// an unresolved no-show is settled in the student's favor
			sess.PendingResolution = false
			sess.Billable = false
		default:
			continue
		}
		sess.MarkedAt = &now
		sess.MarkedBy = audit.Actor(actor.ID)
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return false, err
		}
		if err := audit.Record(ctx, tx, domain.EntitySession, sess.ID, "cancel", audit.Actor(actor.ID), old, sess); err != nil {
			return false, err
		}
	}
	return forfeited, nil
}

func cancellingParty(b *domain.Booking, actor domain.Actor) domain.Role {
	switch {
	case actor.IsAdmin():
		return domain.RoleAdmin
	case actor.ID == b.StudentID:
		return domain.RoleStudent
	default:
		return domain.RoleTutor
	}
}

func (s *Service) openRefund(ctx context.Context, tx store.Tx, res *TransitionResult, forfeit bool, reason string, actor domain.Actor) error {
	return s.openRefundFor(ctx, tx, res, res.Booking, forfeit, reason, actor)
}

// openRefundFor prices the refund on priced and records it when the payment was captured
func (s *Service) openRefundFor(ctx context.Context, tx store.Tx, res *TransitionResult, priced *domain.Booking, forfeit bool, reason string, actor domain.Actor) error {
	p, err := s.lockPayment(ctx, tx, priced.ID)
	if err != nil {
		return err
	}
	if p == nil || p.Status != domain.PaymentStatusPaid {
		return nil
	}
	breakdown, err := refund.Calculate(refund.InputFor(priced, p, forfeit))
	if err != nil {
		return err
	}
	r, err := refund.Open(ctx, tx, p, breakdown.Amount, reason, audit.Actor(actor.ID))
	if err != nil {
		return err
	}
	res.Refund = r
	res.Breakdown = &breakdown
	return nil
}

// issue moves the opened refund's money; a failure leaves it FAILED for the reconciliation job
func (s *Service) issue(ctx context.Context, res *TransitionResult, actor domain.Actor) {
	if res.Refund == nil {
		return
	}
	r, err := s.refunds.Issue(ctx, res.Refund.ID, audit.Actor(actor.ID))
	if r != nil {
		res.Refund = r
	}
	if err != nil {
		s.log.WarnContext(ctx, "refund not issued", "booking_id", res.Booking.ID, "refund_id", res.Refund.ID, "error", err)
	}
}

// GetByID returns a booking visible to actor
func (s *Service) GetByID(ctx context.Context, actor domain.Actor, id int64) (*domain.Booking, error) {
	var b *domain.Booking
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		b, err = s.visibleBooking(ctx, tx, actor, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Sessions returns the sessions of a booking ordered by start
func (s *Service) Sessions(ctx context.Context, actor domain.Actor, id int64) ([]*domain.Session, error) {
	var sessions []*domain.Session
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := s.visibleBooking(ctx, tx, actor, id); err != nil {
			return err
		}
		var err error
		sessions, err = tx.ListSessionsByBooking(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// List returns the bookings of actor; admins may filter by any party
func (s *Service) List(ctx context.Context, actor domain.Actor, f store.BookingFilter, page, perPage int) ([]*domain.Booking, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	switch actor.Role {
	case domain.RoleTutor:
		f.TutorID, f.StudentID = actor.ID, 0
	case domain.RoleStudent:
		f.TutorID, f.StudentID = 0, actor.ID
	}
	f.Limit = perPage
	f.Offset = (page - 1) * perPage

	var (
		bookings []*domain.Booking
		total    int
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		bookings, total, err = tx.ListBookings(ctx, f)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// RefundEstimate prices a cancellation by actor at the current moment without changing anything
func (s *Service) RefundEstimate(ctx context.Context, actor domain.Actor, id int64) (*refund.Breakdown, error) {
	var breakdown refund.Breakdown
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := s.visibleBooking(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		p, err := tx.GetPaymentByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if p == nil || p.Status != domain.PaymentStatusPaid {
			var current any
			if p != nil {
				current = p.Status
			}
			return ErrPaymentNotCaptured.WithCurrent(current)
		}

		forfeit := false
		if b.Status == domain.BookingStatusApproved {
			profile, err := tx.GetTutorProfile(ctx, b.TutorID)
			if err != nil {
				return err
			}
			sessions, err := tx.ListSessionsByBooking(ctx, b.ID)
			if err != nil {
				return err
			}
			for _, sess := range sessions {
				if sess.Status == domain.SessionStatusScheduled {
					forfeit = profile != nil && refund.ForfeitsNextSession(cancellingParty(b, actor), profile.CancellationHours, sess.StartsAt, s.now())
					break
				}
			}
		}
		breakdown, err = refund.Calculate(refund.InputFor(b, p, forfeit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &breakdown, nil
}

func (s *Service) visibleBooking(ctx context.Context, tx store.Tx, actor domain.Actor, id int64) (*domain.Booking, error) {
	b, err := tx.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil || (!b.IsParticipant(actor.ID) && !actor.IsAdmin()) {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

func (s *Service) lockBooking(ctx context.Context, tx store.Tx, id int64) (*domain.Booking, error) {
	b, err := tx.LockBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

func (s *Service) lockPayment(ctx context.Context, tx store.Tx, bookingID int64) (*domain.Payment, error) {
	p, err := tx.GetPaymentByBooking(ctx, bookingID)
	if err != nil || p == nil {
		return nil, err
	}
	return tx.LockPayment(ctx, p.ID)
}

func updateBooking(ctx context.Context, tx store.Tx, b *domain.Booking) error {
	if err := tx.UpdateBooking(ctx, b); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return apperr.ErrStale.Wrap(err)
		}
		return err
	}
	return nil
}

func updatePayment(ctx context.Context, tx store.Tx, p *domain.Payment) error {
	if err := tx.UpdatePayment(ctx, p); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return apperr.ErrStale.Wrap(err)
		}
		return err
	}
	return nil
}

func transitionPayload(res *TransitionResult, reason string) map[string]any {
	payload := map[string]any{
		"status":             res.Booking.Status,
		"completed_sessions": res.Booking.CompletedSessions,
		"reason":             reason,
		"refund_amount":      nil,
	}
	if res.Breakdown != nil {
		payload["refund_amount"] = res.Breakdown.Amount
		payload["forfeited_sessions"] = res.Breakdown.ForfeitedSessions
	}
	return payload
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
