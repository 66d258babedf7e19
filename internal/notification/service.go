package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/money"
)

// Service emits events after the owning transaction committed.
// Delivery failures are logged and never undo the state change.
type Service struct {
	pub Publisher
	log *slog.Logger
	now func() time.Time
}

// NewService creates a new notification service
func NewService(pub Publisher, log *slog.Logger) *Service {
	return &Service{pub: pub, log: log, now: time.Now}
}

func (s *Service) emit(ctx context.Context, e Event) {
	e.ID = uuid.NewString()
	e.OccurredAt = s.now().UTC()
	if err := s.pub.Publish(ctx, e); err != nil {
		s.log.WarnContext(ctx, "failed to publish notification", "type", e.Type, "booking_id", e.BookingID, "error", err)
	}
}

// NotifyBookingApproved tells the student their booking was approved
func (s *Service) NotifyBookingApproved(ctx context.Context, b *domain.Booking) {
	start := b.StartDate
	s.emit(ctx, Event{
		Type:        EventBookingApproved,
		RecipientID: b.StudentID,
		BookingID:   b.ID,
		ScheduledAt: &start,
	})
}

// NotifyPaymentConfirmed tells the tutor a booking awaiting approval was paid
func (s *Service) NotifyPaymentConfirmed(ctx context.Context, b *domain.Booking, p *domain.Payment) {
	amount := p.Amount
	s.emit(ctx, Event{
		Type:        EventPaymentConfirmed,
		RecipientID: b.TutorID,
		BookingID:   b.ID,
		Amount:      &amount,
	})
}

func (s *Service) NotifyRefundIssued(ctx context.Context, studentID, bookingID int64, amount money.Money) {
	s.emit(ctx, Event{
		Type:        EventRefundIssued,
		RecipientID: studentID,
		BookingID:   bookingID,
		Amount:      &amount,
	})
}

// NotifyAttendanceReminder asks the tutor to mark a session that has started
func (s *Service) NotifyAttendanceReminder(ctx context.Context, tutorID int64, sess *domain.Session) {
	id := sess.ID
	at := sess.StartsAt
	s.emit(ctx, Event{
		Type:        EventAttendanceReminderDue,
		RecipientID: tutorID,
		BookingID:   sess.BookingID,
		SessionID:   &id,
		ScheduledAt: &at,
	})
}

// NotifySessionReminder tells the student about a session starting the next day
func (s *Service) NotifySessionReminder(ctx context.Context, studentID int64, sess *domain.Session) {
	id := sess.ID
	at := sess.StartsAt
	s.emit(ctx, Event{
		Type:        EventSessionReminderDue,
		RecipientID: studentID,
		BookingID:   sess.BookingID,
		SessionID:   &id,
		ScheduledAt: &at,
	})
}
