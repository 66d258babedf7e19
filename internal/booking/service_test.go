package booking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/notification"
	"github.com/zbnerd/TutorFlow/internal/refund"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/internal/store/memory"
	"github.com/zbnerd/TutorFlow/internal/testutil"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

type fixture struct {
	store   *memory.Store
	clock   *testutil.Clock
	gw      *testutil.FakeGateway
	pub     *testutil.RecordingPublisher
	service *Service
	tutor   domain.Actor
	student domain.Actor
}

func newFixture(t *testing.T, opts testutil.TutorOptions) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, testutil.Seoul))
	st := memory.New().WithClock(clock.Now)
	gw := &testutil.FakeGateway{}
	pub := &testutil.RecordingPublisher{}

	refunds := refund.NewService(st, gw, pub.Notifier(), refund.Settings{ProcessingTimeout: time.Minute}, testutil.Logger()).
		WithClock(clock.Now)
	svc := NewService(st, refunds, pub.Notifier(), Settings{
		MinLeadTime: 24 * time.Hour,
		FeeRate:     testutil.FeeRate,
		Location:    testutil.Seoul,
	}, testutil.Logger()).WithClock(clock.Now)

	return &fixture{
		store:   st,
		clock:   clock,
		gw:      gw,
		pub:     pub,
		service: svc,
		tutor:   domain.Actor{ID: testutil.SeedTutor(t, st, opts), Role: domain.RoleTutor},
		student: domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleStudent), Role: domain.RoleStudent},
	}
}

func (f *fixture) request(start time.Time, n int) *CreateBookingRequest {
	return &CreateBookingRequest{
		TutorID: f.tutor.ID,
		Subject: "math",
		Slots:   testutil.Slots(start, n, 24*time.Hour),
	}
}

// pay records a verified capture of the booking's payment
func (f *fixture) pay(t *testing.T, bookingID int64) *domain.Payment {
	t.Helper()
	p, err := f.service.Checkout(context.Background(), f.student, bookingID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	err = f.store.WithTx(context.Background(), func(tx store.Tx) error {
		key := "chrg_" + p.OrderID
		now := f.clock.Now()
		p.PaymentKey = &key
		p.Status = domain.PaymentStatusPaid
		p.PaidAt = &now
		return tx.UpdatePayment(context.Background(), p)
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	return p
}

// approved creates, pays and approves a booking of n daily sessions starting in three days
func (f *fixture) approved(t *testing.T, n int) *domain.Booking {
	t.Helper()
	b, err := f.service.Create(context.Background(), f.student, f.request(f.clock.Now().Add(72*time.Hour), n))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.pay(t, b.ID)
	b, err = f.service.Approve(context.Background(), f.tutor, b.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	return b
}

// attend marks the first n sessions attended straight in the store
func (f *fixture) attend(t *testing.T, bookingID int64, n int) {
	t.Helper()
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		b, _ := tx.LockBooking(context.Background(), bookingID)
		sessions, _ := tx.ListSessionsByBooking(context.Background(), bookingID)
		for _, s := range sessions[:n] {
			s.Status = domain.SessionStatusAttended
			s.Consumed = true
			s.Billable = true
			if err := tx.UpdateSession(context.Background(), s); err != nil {
				return err
			}
			if err := b.ConsumeSession(); err != nil {
				return err
			}
		}
		return tx.UpdateBooking(context.Background(), b)
	})
	if err != nil {
		t.Fatalf("attend: %v", err)
	}
}

func TestCreateEnforcesLeadTime(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{})

	_, err := f.service.Create(context.Background(), f.student, f.request(f.clock.Now().Add(23*time.Hour), 1))
	if !errors.Is(err, ErrLeadTimeViolation) {
		t.Fatalf("Expected ErrLeadTimeViolation, got %v", err)
	}

	var total int
	_ = f.store.WithTx(context.Background(), func(tx store.Tx) error {
		_, total, _ = tx.ListBookings(context.Background(), store.BookingFilter{})
		return nil
	})
	if total != 0 {
		t.Errorf("Expected no booking persisted, got %d", total)
	}

	if _, err := f.service.Create(context.Background(), f.student, f.request(f.clock.Now().Add(24*time.Hour), 1)); err != nil {
		t.Errorf("Expected booking exactly at the lead time to succeed, got %v", err)
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{})
	other := domain.Actor{ID: testutil.SeedUser(t, f.store, domain.RoleStudent), Role: domain.RoleStudent}
	start := f.clock.Now().Add(48 * time.Hour)

	if _, err := f.service.Create(context.Background(), f.student, f.request(start, 2)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name    string
		slots   []domain.Slot
		wantErr error
	}{
		{"same slot", []domain.Slot{{StartsAt: start, EndsAt: start.Add(time.Hour)}}, ErrSchedulingConflict},
		{"partial overlap", []domain.Slot{{StartsAt: start.Add(30 * time.Minute), EndsAt: start.Add(90 * time.Minute)}}, ErrSchedulingConflict},
		{"back to back", []domain.Slot{{StartsAt: start.Add(time.Hour), EndsAt: start.Add(2 * time.Hour)}}, nil},
		{"overlapping each other", []domain.Slot{
			{StartsAt: start.Add(5 * time.Hour), EndsAt: start.Add(7 * time.Hour)},
			{StartsAt: start.Add(6 * time.Hour), EndsAt: start.Add(8 * time.Hour)},
		}, ErrSchedulingConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Create(context.Background(), other, &CreateBookingRequest{TutorID: f.tutor.ID, Subject: "math", Slots: tt.slots})
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected success, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateWithinWeeklyAvailability(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{})
	ctx := context.Background()
	tuesday := time.Date(2026, 3, 3, 9, 0, 0, 0, testutil.Seoul)

	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateAvailableSlot(ctx, &domain.AvailableSlot{
			TutorID: f.tutor.ID, DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", IsActive: true,
		})
	})
	if err != nil {
		t.Fatalf("CreateAvailableSlot: %v", err)
	}

	tests := []struct {
		name    string
		start   time.Time
		wantErr error
	}{
		{"opening hour", tuesday, nil},
		{"last hour", tuesday.Add(2 * time.Hour), nil},
		{"runs past closing", tuesday.Add(150 * time.Minute), ErrOutsideAvailability},
		{"other weekday", tuesday.Add(24 * time.Hour), ErrOutsideAvailability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := []domain.Slot{{StartsAt: tt.start, EndsAt: tt.start.Add(time.Hour)}}
			_, err := f.service.Create(ctx, f.student, &CreateBookingRequest{TutorID: f.tutor.ID, Subject: "math", Slots: slots})
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected success, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConcurrentRequestsForSameSlot(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{})
	second := domain.Actor{ID: testutil.SeedUser(t, f.store, domain.RoleStudent), Role: domain.RoleStudent}
	req := f.request(f.clock.Now().Add(48*time.Hour), 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, a := range []domain.Actor{f.student, second} {
		wg.Add(1)
		go func(i int, a domain.Actor) {
			defer wg.Done()
			r := *req
			_, errs[i] = f.service.Create(context.Background(), a, &r)
		}(i, a)
	}
	wg.Wait()

	succeeded, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSchedulingConflict):
			conflicted++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Errorf("Expected one success and one conflict, got %d and %d", succeeded, conflicted)
	}
}

func TestCheckoutIsIdempotent(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{Price: 50000})
	b, err := f.service.Create(context.Background(), f.student, f.request(f.clock.Now().Add(48*time.Hour), 10))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := f.service.Checkout(context.Background(), f.student, b.ID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if first.Amount.Amount() != 500000 || first.FeeAmount.Amount() != 25000 || first.NetAmount.Amount() != 475000 {
		t.Errorf("Expected 500000 = 25000 + 475000, got %s = %s + %s", first.Amount, first.FeeAmount, first.NetAmount)
	}

	second, err := f.service.Checkout(context.Background(), f.student, b.ID)
	if err != nil {
		t.Fatalf("second Checkout: %v", err)
	}
	if second.ID != first.ID || second.OrderID != first.OrderID {
		t.Errorf("Expected the same payment, got %d/%s and %d/%s", first.ID, first.OrderID, second.ID, second.OrderID)
	}

	if _, err := f.service.Checkout(context.Background(), f.tutor, b.ID); apperr.KindOf(err) != apperr.KindAuthorization {
		t.Errorf("Expected authorization error for the tutor, got %v", err)
	}
}

func TestApproveRequiresPayment(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{})
	b, err := f.service.Create(context.Background(), f.student, f.request(f.clock.Now().Add(48*time.Hour), 4))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.service.Approve(context.Background(), f.tutor, b.ID); !errors.Is(err, ErrPaymentNotCaptured) {
		t.Fatalf("Expected ErrPaymentNotCaptured, got %v", err)
	}

	f.pay(t, b.ID)
	if _, err := f.service.Approve(context.Background(), f.student, b.ID); !errors.Is(err, ErrNotTutor) {
		t.Errorf("Expected ErrNotTutor for the student, got %v", err)
	}

	approved, err := f.service.Approve(context.Background(), f.tutor, b.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != domain.BookingStatusApproved {
		t.Errorf("Expected APPROVED, got %s", approved.Status)
	}

	sessions, err := f.service.Sessions(context.Background(), f.student, b.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 4 {
		t.Fatalf("Expected 4 sessions, got %d", len(sessions))
	}
	for _, s := range sessions {
		if s.Status != domain.SessionStatusScheduled {
			t.Errorf("Expected SCHEDULED, got %s", s.Status)
		}
	}
	if f.pub.Count(notification.EventBookingApproved) != 1 {
		t.Error("Expected one BookingApproved event")
	}

	_, err = f.service.Approve(context.Background(), f.tutor, b.ID)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != "STATE_CONFLICT" || appErr.Current != domain.BookingStatusApproved {
		t.Errorf("Expected STATE_CONFLICT carrying APPROVED, got %v", err)
	}
}

func TestCancelRefundsUnconsumedSessions(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{Price: 50000, CancellationHours: 24})
	b := f.approved(t, 10)
	f.attend(t, b.ID, 3)

	res, err := f.service.Cancel(context.Background(), f.student, b.ID, "moving away")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Booking.Status != domain.BookingStatusCancelled {
		t.Errorf("Expected CANCELLED, got %s", res.Booking.Status)
	}
	if res.Breakdown == nil || res.Breakdown.Amount.Amount() != 350000 {
		t.Fatalf("Expected refund of 350000, got %+v", res.Breakdown)
	}
	if res.Refund.Status != domain.RefundStatusCompleted {
		t.Errorf("Expected refund COMPLETED, got %s", res.Refund.Status)
	}
	if calls := f.gw.Refunds(); len(calls) != 1 || calls[0].Amount.Amount() != 350000 {
		t.Errorf("Expected one gateway refund of 350000, got %+v", calls)
	}
	if p := testutil.Payment(t, f.store, b.ID); p.Status != domain.PaymentStatusRefunded {
		t.Errorf("Expected REFUNDED payment, got %s", p.Status)
	}

	sessions, _ := f.service.Sessions(context.Background(), f.student, b.ID)
	cancelled := 0
	for _, s := range sessions {
		if s.Status == domain.SessionStatusCancelled {
			cancelled++
			if s.Billable || s.Consumed {
				t.Errorf("Expected cancelled session %d to be neither billable nor consumed", s.ID)
			}
		}
	}
	if cancelled != 7 {
		t.Errorf("Expected 7 cancelled sessions, got %d", cancelled)
	}

	var entries []*domain.AuditEntry
	_ = f.store.WithTx(context.Background(), func(tx store.Tx) error {
		entries, _ = tx.ListAudit(context.Background(), domain.EntityBooking, b.ID)
		return nil
	})
	last := entries[len(entries)-1]
	var payload struct {
		Status       domain.BookingStatus `json:"status"`
		RefundAmount struct {
			Amount int64 `json:"amount"`
		} `json:"refund_amount"`
	}
	if err := json.Unmarshal(last.NewValue, &payload); err != nil {
		t.Fatalf("audit payload: %v", err)
	}
	if last.Action != "cancel" || payload.Status != domain.BookingStatusCancelled || payload.RefundAmount.Amount != 350000 {
		t.Errorf("Expected cancel audit with refund 350000, got %s %s", last.Action, last.NewValue)
	}

	_, err = f.service.Cancel(context.Background(), f.student, b.ID, "")
	if !errors.Is(err, apperr.ErrStateConflict) {
		t.Errorf("Expected cancelled booking to stay terminal, got %v", err)
	}
}

func TestCancelInsideWindow(t *testing.T) {
	tests := []struct {
		name          string
		byTutor       bool
		wantRefund    int64
		wantCompleted int
	}{
		{"student forfeits next session", false, 300000, 4},
		{"tutor refunds everything unconsumed", true, 350000, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testutil.TutorOptions{Price: 50000, CancellationHours: 24})
			b := f.approved(t, 10)
			f.attend(t, b.ID, 3)
			// two hours before the fourth session
			f.clock.Set(b.Slots[3].StartsAt.Add(-2 * time.Hour))

			by := f.student
			if tt.byTutor {
				by = f.tutor
			}
			res, err := f.service.Cancel(context.Background(), by, b.ID, "")
			if err != nil {
				t.Fatalf("Cancel: %v", err)
			}
			if got := res.Breakdown.Amount.Amount(); got != tt.wantRefund {
				t.Errorf("Expected refund %d, got %d", tt.wantRefund, got)
			}
			if got := testutil.Booking(t, f.store, b.ID).CompletedSessions; got != tt.wantCompleted {
				t.Errorf("Expected %d completed sessions, got %d", tt.wantCompleted, got)
			}
		})
	}
}

func TestRejectRefundsInFull(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{Price: 30000})
	b, err := f.service.Create(context.Background(), f.student, f.request(f.clock.Now().Add(48*time.Hour), 3))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.pay(t, b.ID)

	res, err := f.service.Reject(context.Background(), f.tutor, b.ID, "fully booked")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if res.Booking.Status != domain.BookingStatusRejected || res.Breakdown.Amount.Amount() != 90000 {
		t.Errorf("Expected REJECTED with 90000 refund, got %s %+v", res.Booking.Status, res.Breakdown)
	}
	if _, err := f.service.Approve(context.Background(), f.tutor, b.ID); !errors.Is(err, apperr.ErrStateConflict) {
		t.Errorf("Expected rejected booking to stay terminal, got %v", err)
	}
}

func TestRejectUnpaidOpensNoRefund(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{})
	b, err := f.service.Create(context.Background(), f.student, f.request(f.clock.Now().Add(48*time.Hour), 1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := f.service.Reject(context.Background(), f.tutor, b.ID, "")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if res.Refund != nil || len(f.gw.Refunds()) != 0 {
		t.Errorf("Expected no refund for an unpaid booking, got %+v", res.Refund)
	}
}

func TestApproveCancelRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, testutil.TutorOptions{Price: 10000})
		b, err := f.service.Create(context.Background(), f.student, f.request(f.clock.Now().Add(48*time.Hour), 2))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		f.pay(t, b.ID)

		var wg sync.WaitGroup
		var approveErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, approveErr = f.service.Approve(context.Background(), f.tutor, b.ID)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.service.Cancel(context.Background(), f.student, b.ID, "")
		}()
		wg.Wait()

		final := testutil.Booking(t, f.store, b.ID)
		switch {
		case approveErr == nil && cancelErr == nil:
			// approve committed first, then the approved booking was cancelled
			if final.Status != domain.BookingStatusCancelled {
				t.Fatalf("Expected CANCELLED, got %s", final.Status)
			}
		case approveErr != nil:
			if !errors.Is(approveErr, apperr.ErrStateConflict) || final.Status != domain.BookingStatusCancelled {
				t.Fatalf("Expected approve to lose with STATE_CONFLICT, got %v (%s)", approveErr, final.Status)
			}
			sessions, _ := f.service.Sessions(context.Background(), f.student, b.ID)
			if len(sessions) != 0 {
				t.Fatalf("Expected no sessions for a booking cancelled before approval, got %d", len(sessions))
			}
		default:
			t.Fatalf("Unexpected cancel error: %v", cancelErr)
		}
		if p := testutil.Payment(t, f.store, b.ID); p.Status != domain.PaymentStatusRefunded {
			t.Fatalf("Expected the cancelled booking to be refunded, got %s", p.Status)
		}
	}
}

func TestRefundEstimate(t *testing.T) {
	f := newFixture(t, testutil.TutorOptions{Price: 50000})
	b := f.approved(t, 10)
	f.attend(t, b.ID, 3)

	got, err := f.service.RefundEstimate(context.Background(), f.student, b.ID)
	if err != nil {
		t.Fatalf("RefundEstimate: %v", err)
	}
	if got.Amount.Amount() != 350000 || got.RefundableSessions != 7 {
		t.Errorf("Expected 7 sessions worth 350000, got %+v", got)
	}
	if testutil.Booking(t, f.store, b.ID).Status != domain.BookingStatusApproved {
		t.Error("Expected the estimate to leave the booking untouched")
	}
}

func TestCompletedSessionsStayInBounds(t *testing.T) {
	b := &domain.Booking{TotalSessions: 2}
	for i := 0; i < 2; i++ {
		if err := b.ConsumeSession(); err != nil {
			t.Fatalf("ConsumeSession %d: %v", i, err)
		}
	}
	if err := b.ConsumeSession(); !errors.Is(err, domain.ErrSessionOverflow) {
		t.Errorf("Expected ErrSessionOverflow, got %v", err)
	}
	if b.CompletedSessions != 2 {
		t.Errorf("Expected 2 completed sessions, got %d", b.CompletedSessions)
	}
}
