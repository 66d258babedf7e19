package notification

import (
	"time"

	"github.com/zbnerd/TutorFlow/internal/money"
)

// EventType doubles as the routing key on the event exchange
type EventType string

const (
	EventBookingApproved       EventType = "booking.approved"
	EventPaymentConfirmed      EventType = "payment.confirmed"
	EventRefundIssued          EventType = "refund.issued"
	EventAttendanceReminderDue EventType = "attendance.reminder_due"
	EventSessionReminderDue    EventType = "session.reminder_due"
)

// Event is a fact handed to the delivery collaborator; templating happens there
type Event struct {
	ID          string       `json:"id"`
	Type        EventType    `json:"type"`
	RecipientID int64        `json:"recipient_id"`
	BookingID   int64        `json:"booking_id"`
	SessionID   *int64       `json:"session_id,omitempty"`
	Amount      *money.Money `json:"amount,omitempty"`
	ScheduledAt *time.Time   `json:"scheduled_at,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}
