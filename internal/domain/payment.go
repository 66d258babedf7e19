package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zbnerd/TutorFlow/internal/money"
)

// PaymentStatus represents the capture state of a booking's payment
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Payment is the single payment of a booking
type Payment struct {
	ID            int64           `json:"id"`
	BookingID     int64           `json:"booking_id"`
	OrderID       string          `json:"order_id"`
	PaymentKey    *string         `json:"payment_key,omitempty"`
	Amount        money.Money     `json:"amount"`
	FeeRate       decimal.Decimal `json:"fee_rate"`
	FeeAmount     money.Money     `json:"fee_amount"`
	NetAmount     money.Money     `json:"net_amount"`
	Status        PaymentStatus   `json:"status"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
	Version       int64           `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewPayment prices a booking: amount = session price x total sessions, fee = round(amount x rate)
func NewPayment(b *Booking, orderID string, feeRate decimal.Decimal) *Payment {
	amount := b.SessionPrice.Times(int64(b.TotalSessions))
	fee, net := amount.Split(feeRate)
	return &Payment{
		BookingID: b.ID,
		OrderID:   orderID,
		Amount:    amount,
		FeeRate:   feeRate,
		FeeAmount: fee,
		NetAmount: net,
		Status:    PaymentStatusPending,
	}
}

// IsCaptured reports whether the student's funds were captured at some point.
// A REFUNDED payment was captured and refunded only for its unconsumed sessions.
func (p *Payment) IsCaptured() bool {
	return p.Status == PaymentStatusPaid || p.Status == PaymentStatusRefunded
}

func (p *Payment) Clone() *Payment {
	cp := *p
	cp.PaymentKey = cloneString(p.PaymentKey)
	cp.FailureReason = cloneString(p.FailureReason)
	cp.PaidAt = cloneTime(p.PaidAt)
	cp.RefundedAt = cloneTime(p.RefundedAt)
	return &cp
}

// RefundStatus marks the external refund effect explicitly so failed units can be retried
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusCompleted RefundStatus = "COMPLETED"
	RefundStatusFailed    RefundStatus = "FAILED"

	// RefundStatusProcessing marks a refund whose gateway call is in flight
	RefundStatusProcessing RefundStatus = "PROCESSING"
)

// Refund is the single refund of a payment
type Refund struct {
	ID            int64        `json:"id"`
	BookingID     int64        `json:"booking_id"`
	PaymentID     int64        `json:"payment_id"`
	Amount        money.Money  `json:"amount"`
	Reason        string       `json:"reason"`
	Status        RefundStatus `json:"status"`
	GatewayRef    *string      `json:"gateway_ref,omitempty"`
	FailureReason *string      `json:"failure_reason,omitempty"`
	Attempts      int          `json:"attempts"`
	RequestedBy   *int64       `json:"requested_by,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (r *Refund) Clone() *Refund {
	cp := *r
	cp.GatewayRef = cloneString(r.GatewayRef)
	cp.FailureReason = cloneString(r.FailureReason)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	if r.RequestedBy != nil {
		id := *r.RequestedBy
		cp.RequestedBy = &id
	}
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
