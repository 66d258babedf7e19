package domain

import (
	"fmt"
	"time"

	"github.com/zbnerd/TutorFlow/internal/money"
)

// SettlementStatus tracks the disbursement of a monthly settlement
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "PENDING"
	SettlementStatusCompleted SettlementStatus = "COMPLETED"
	SettlementStatusFailed    SettlementStatus = "FAILED"
)

// YearMonth is a calendar month in the platform timezone
type YearMonth struct {
	Year  int
	Month time.Month
}

// ParseYearMonth parses "YYYY-MM"
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid year-month %q: %w", s, err)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

// YearMonthOf returns the month t falls in when observed from loc
func YearMonthOf(t time.Time, loc *time.Location) YearMonth {
	lt := t.In(loc)
	return YearMonth{Year: lt.Year(), Month: lt.Month()}
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// Range returns [start, end) of the month in loc
func (ym YearMonth) Range(loc *time.Location) (time.Time, time.Time) {
	start := time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// Previous returns the month before ym
func (ym YearMonth) Previous() YearMonth {
	t := time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// Settlement is the monthly payout record of one tutor
type Settlement struct {
	ID              int64            `json:"id"`
	TutorID         int64            `json:"tutor_id"`
	YearMonth       string           `json:"year_month"`
	TotalSessions   int              `json:"total_sessions"`
	TotalAmount     money.Money      `json:"total_amount"`
	PlatformFee     money.Money      `json:"platform_fee"`
	PGFee           money.Money      `json:"pg_fee"`
	NetAmount       money.Money      `json:"net_amount"`
	Status          SettlementStatus `json:"status"`
	DisbursementRef *string          `json:"disbursement_ref,omitempty"`
	FailureReason   *string          `json:"failure_reason,omitempty"`
	Attempts        int              `json:"attempts"`
	PaidAt          *time.Time       `json:"paid_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (s *Settlement) Clone() *Settlement {
	cp := *s
	cp.DisbursementRef = cloneString(s.DisbursementRef)
	cp.FailureReason = cloneString(s.FailureReason)
	cp.PaidAt = cloneTime(s.PaidAt)
	return &cp
}

// BillableSession is one session the tutor is paid for, together with the
// payment data needed to price it.
type BillableSession struct {
	SessionID     int64       `json:"session_id"`
	BookingID     int64       `json:"booking_id"`
	StartsAt      time.Time   `json:"starts_at"`
	PaymentAmount money.Money `json:"payment_amount"`
	TotalSessions int         `json:"total_sessions"`

	// Ordinal is the 1-based position of the session in its booking ordered by start time
	Ordinal int `json:"ordinal"`
}

// Price returns the session's share of the payment; the last session carries the remainder
func (b BillableSession) Price() (money.Money, error) {
	per, rem, err := b.PaymentAmount.DivideEvenly(b.TotalSessions)
	if err != nil {
		return money.Money{}, err
	}
	if b.Ordinal == b.TotalSessions {
		return per.Add(rem)
	}
	return per, nil
}
