// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/money"
	"github.com/zbnerd/TutorFlow/internal/store"
)

// Seoul is the platform timezone used across tests
var Seoul = mustLoad("Asia/Seoul")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Won builds a KRW amount
func Won(amount int64) money.Money {
	return money.New(amount, money.KRW)
}

// FeeRate is the platform's default payment fee rate in tests
var FeeRate = decimal.RequireFromString("0.05")

// TutorOptions configures SeedTutor
type TutorOptions struct {
	Price             int64
	Policy            domain.NoShowPolicy
	CancellationHours int
	PayoutAccount     string
}

// SeedTutor creates an approved tutor with a profile
func SeedTutor(t *testing.T, st store.Store, opts TutorOptions) int64 {
	t.Helper()
	if opts.Price == 0 {
		opts.Price = 50000
	}
	if opts.Policy == "" {
		opts.Policy = domain.NoShowFullDeduction
	}
	var id int64
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		u := &domain.User{Name: "tutor", Role: domain.RoleTutor}
		if err := tx.CreateUser(context.Background(), u); err != nil {
			return err
		}
		id = u.ID
		account := opts.PayoutAccount
		if account == "" {
			account = "recp_" + u.Name
		}
		return tx.UpsertTutorProfile(context.Background(), &domain.TutorProfile{
			UserID:            u.ID,
			SessionPrice:      Won(opts.Price),
			NoShowPolicy:      opts.Policy,
			CancellationHours: opts.CancellationHours,
			PayoutAccount:     account,
			IsApproved:        true,
		})
	})
	if err != nil {
		t.Fatalf("seed tutor: %v", err)
	}
	return id
}

// SeedUser creates a user with role
func SeedUser(t *testing.T, st store.Store, role domain.Role) int64 {
	t.Helper()
	var id int64
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		u := &domain.User{Name: string(role), Role: role}
		if err := tx.CreateUser(context.Background(), u); err != nil {
			return err
		}
		id = u.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

// Slots returns n one-hour slots, one every interval from start
func Slots(start time.Time, n int, interval time.Duration) []domain.Slot {
	slots := make([]domain.Slot, n)
	for i := range slots {
		s := start.Add(time.Duration(i) * interval)
		slots[i] = domain.Slot{StartsAt: s, EndsAt: s.Add(time.Hour)}
	}
	return slots
}

// Seeded is an APPROVED booking with a PAID payment and materialized sessions
type Seeded struct {
	Booking  *domain.Booking
	Payment  *domain.Payment
	Sessions []*domain.Session
}

// SeedApprovedBooking writes an APPROVED, PAID booking over slots straight to the store
func SeedApprovedBooking(t *testing.T, st store.Store, tutorID, studentID int64, price int64, slots []domain.Slot) Seeded {
	t.Helper()
	ctx := context.Background()
	var out Seeded
	err := st.WithTx(ctx, func(tx store.Tx) error {
		start, end := domain.SpanOf(slots)
		b := &domain.Booking{
			TutorID:       tutorID,
			StudentID:     studentID,
			Subject:       "math",
			SessionPrice:  Won(price),
			TotalSessions: len(slots),
			Status:        domain.BookingStatusApproved,
			StartDate:     start,
			EndDate:       end,
			Slots:         slots,
		}
		if err := tx.CreateBooking(ctx, b); err != nil {
			return err
		}
		p := domain.NewPayment(b, uuid.NewString(), FeeRate)
		key := "chrg_" + p.OrderID
		p.PaymentKey = &key
		p.Status = domain.PaymentStatusPaid
		paidAt := start.Add(-48 * time.Hour)
		p.PaidAt = &paidAt
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		sessions := make([]*domain.Session, len(slots))
		for i, s := range slots {
			sessions[i] = &domain.Session{
				BookingID: b.ID,
				StartsAt:  s.StartsAt,
				EndsAt:    s.EndsAt,
				Status:    domain.SessionStatusScheduled,
			}
		}
		if err := tx.CreateSessions(ctx, sessions); err != nil {
			return err
		}
		out = Seeded{Booking: b, Payment: p, Sessions: sessions}
		return nil
	})
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return out
}

// Booking reloads a booking
func Booking(t *testing.T, st store.Store, id int64) *domain.Booking {
	t.Helper()
	var b *domain.Booking
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		b, err = tx.GetBooking(context.Background(), id)
		return err
	})
	if err != nil || b == nil {
		t.Fatalf("load booking %d: %v", id, err)
	}
	return b
}

// Payment reloads the payment of a booking
func Payment(t *testing.T, st store.Store, bookingID int64) *domain.Payment {
	t.Helper()
	var p *domain.Payment
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		p, err = tx.GetPaymentByBooking(context.Background(), bookingID)
		return err
	})
	if err != nil || p == nil {
		t.Fatalf("load payment of booking %d: %v", bookingID, err)
	}
	return p
}

// Session reloads a session
func Session(t *testing.T, st store.Store, id int64) *domain.Session {
	t.Helper()
	var s *domain.Session
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		s, err = tx.GetSession(context.Background(), id)
		return err
	})
	if err != nil || s == nil {
		t.Fatalf("load session %d: %v", id, err)
	}
	return s
}
