package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/gateway"
	"github.com/zbnerd/TutorFlow/internal/notification"
	"github.com/zbnerd/TutorFlow/internal/refund"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/internal/store/memory"
	"github.com/zbnerd/TutorFlow/internal/testutil"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

const webhookSecret = "whsec_test"

type fixture struct {
	store   *memory.Store
	gw      *testutil.FakeGateway
	pub     *testutil.RecordingPublisher
	service *Service
	student domain.Actor
	booking *domain.Booking
	payment *domain.Payment
}

func newFixture(t *testing.T, status domain.BookingStatus) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, testutil.Seoul))
	st := memory.New().WithClock(clock.Now)
	gw := &testutil.FakeGateway{Captured: testutil.Won(150000)}
	pub := &testutil.RecordingPublisher{}
	refunds := refund.NewService(st, gw, pub.Notifier(), refund.Settings{ProcessingTimeout: time.Minute}, testutil.Logger()).
		WithClock(clock.Now)

	f := &fixture{
		store:   st,
		gw:      gw,
		pub:     pub,
		service: NewService(st, gw, refunds, pub.Notifier(), webhookSecret, testutil.Logger()).WithClock(clock.Now),
		student: domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleStudent), Role: domain.RoleStudent},
	}
	tutor := testutil.SeedTutor(t, st, testutil.TutorOptions{Price: 50000})

	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		slots := testutil.Slots(clock.Now().Add(72*time.Hour), 3, 24*time.Hour)
		start, end := domain.SpanOf(slots)
		f.booking = &domain.Booking{
			TutorID:       tutor,
			StudentID:     f.student.ID,
			Subject:       "english",
			SessionPrice:  testutil.Won(50000),
			TotalSessions: 3,
			Status:        status,
			StartDate:     start,
			EndDate:       end,
			Slots:         slots,
		}
		if err := tx.CreateBooking(context.Background(), f.booking); err != nil {
			return err
		}
		f.payment = domain.NewPayment(f.booking, uuid.NewString(), testutil.FeeRate)
		return tx.CreatePayment(context.Background(), f.payment)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f
}

func (f *fixture) webhook(t *testing.T, evt WebhookEvent) (*Result, error) {
	t.Helper()
	body, _ := json.Marshal(evt)
	return f.service.HandleWebhook(context.Background(), body, gateway.Sign([]byte(webhookSecret), body))
}

func TestConfirmAppliesCaptureOnce(t *testing.T) {
	f := newFixture(t, domain.BookingStatusPending)
	req := &ConfirmRequest{OrderID: f.payment.OrderID, PaymentKey: "chrg_1"}

	first, err := f.service.Confirm(context.Background(), f.student, req)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !first.Changed || first.Payment.Status != domain.PaymentStatusPaid || first.Payment.PaidAt == nil {
		t.Fatalf("Expected payment to become PAID, got %+v", first)
	}

	second, err := f.service.Confirm(context.Background(), f.student, req)
	if err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if second.Changed || second.Payment.Status != domain.PaymentStatusPaid {
		t.Errorf("Expected a no-op on the second confirmation, got %+v", second)
	}
	if n := f.pub.Count(notification.EventPaymentConfirmed); n != 1 {
		t.Errorf("Expected 1 PaymentConfirmed event, got %d", n)
	}

	// the same capture arriving by webhook is also a no-op
	res, err := f.webhook(t, WebhookEvent{EventID: "evt_1", PaymentKey: "chrg_1", OrderID: f.payment.OrderID, Status: "DONE", Amount: 150000})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if res.Changed {
		t.Error("Expected webhook after confirmation to change nothing")
	}

	var audits []*domain.AuditEntry
	_ = f.store.WithTx(context.Background(), func(tx store.Tx) error {
		audits, _ = tx.ListAudit(context.Background(), domain.EntityPayment, f.payment.ID)
		return nil
	})
	if len(audits) != 1 {
		t.Errorf("Expected exactly one payment transition, got %d", len(audits))
	}
}

func TestConfirmRejectsOtherStudents(t *testing.T) {
	f := newFixture(t, domain.BookingStatusPending)
	other := domain.Actor{ID: 4242, Role: domain.RoleStudent}

	_, err := f.service.Confirm(context.Background(), other, &ConfirmRequest{OrderID: f.payment.OrderID, PaymentKey: "chrg_1"})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("Expected ErrPaymentNotFound, got %v", err)
	}
	if len(f.gw.VerifyCalls) != 0 {
		t.Error("Expected no gateway call")
	}
}

func TestConfirmAmountMismatch(t *testing.T) {
	f := newFixture(t, domain.BookingStatusPending)
	f.gw.Captured = testutil.Won(100)

	res, err := f.service.Confirm(context.Background(), f.student, &ConfirmRequest{OrderID: f.payment.OrderID, PaymentKey: "chrg_1"})
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("Expected ErrAmountMismatch, got %v", err)
	}
	if res == nil || res.Payment.Status != domain.PaymentStatusFailed {
		t.Errorf("Expected FAILED payment, got %+v", res)
	}
	if p := testutil.Payment(t, f.store, f.booking.ID); p.Status != domain.PaymentStatusFailed || p.FailureReason == nil {
		t.Errorf("Expected persisted FAILED payment with reason, got %s", p.Status)
	}
}

func TestConfirmGatewayErrors(t *testing.T) {
	tests := []struct {
		name   string
		verify func(context.Context, string) (gateway.Verification, error)
		want   error
	}{
		{"timeout", func(context.Context, string) (gateway.Verification, error) {
			return gateway.Verification{}, gateway.ErrTimeout
		}, apperr.ErrExternal},
		{"still pending", func(_ context.Context, ref string) (gateway.Verification, error) {
			return gateway.Verification{Reference: ref, Status: gateway.CapturePending, Amount: testutil.Won(150000)}, nil
		}, ErrPaymentNotCaptured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.BookingStatusPending)
			f.gw.VerifyFunc = tt.verify

			_, err := f.service.Confirm(context.Background(), f.student, &ConfirmRequest{OrderID: f.payment.OrderID, PaymentKey: "chrg_1"})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if p := testutil.Payment(t, f.store, f.booking.ID); p.Status != domain.PaymentStatusPending {
				t.Errorf("Expected payment to stay PENDING, got %s", p.Status)
			}
		})
	}
}

func TestWebhookRedeliveryIsIgnored(t *testing.T) {
	f := newFixture(t, domain.BookingStatusPending)
	evt := WebhookEvent{EventID: "evt_9", PaymentKey: "chrg_9", OrderID: f.payment.OrderID, Status: "DONE", Amount: 150000}

	first, err := f.webhook(t, evt)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if first == nil || !first.Changed {
		t.Fatalf("Expected first delivery to apply, got %+v", first)
	}

	second, err := f.webhook(t, evt)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if second != nil {
		t.Errorf("Expected redelivery to be dropped, got %+v", second)
	}
	if n := f.pub.Count(notification.EventPaymentConfirmed); n != 1 {
		t.Errorf("Expected 1 PaymentConfirmed event, got %d", n)
	}
}

func TestWebhookNeverDowngradesPaid(t *testing.T) {
	f := newFixture(t, domain.BookingStatusPending)
	if _, err := f.webhook(t, WebhookEvent{PaymentKey: "chrg_2", OrderID: f.payment.OrderID, Status: "DONE", Amount: 150000}); err != nil {
		t.Fatalf("webhook DONE: %v", err)
	}

	res, err := f.webhook(t, WebhookEvent{PaymentKey: "chrg_2", OrderID: f.payment.OrderID, Status: "EXPIRED"})
	if err != nil {
		t.Fatalf("webhook EXPIRED: %v", err)
	}
	if res.Changed {
		t.Error("Expected out-of-order failure to be ignored")
	}
	if p := testutil.Payment(t, f.store, f.booking.ID); p.Status != domain.PaymentStatusPaid {
		t.Errorf("Expected PAID, got %s", p.Status)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, domain.BookingStatusPending)
	body, _ := json.Marshal(WebhookEvent{PaymentKey: "chrg_3", OrderID: f.payment.OrderID, Status: "DONE", Amount: 150000})

	_, err := f.service.HandleWebhook(context.Background(), body, gateway.Sign([]byte("wrong"), body))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Expected ErrInvalidSignature, got %v", err)
	}
	if p := testutil.Payment(t, f.store, f.booking.ID); p.Status != domain.PaymentStatusPending {
		t.Errorf("Expected PENDING, got %s", p.Status)
	}
}

func TestLateCaptureIsRefunded(t *testing.T) {
	f := newFixture(t, domain.BookingStatusCancelled)

	res, err := f.webhook(t, WebhookEvent{EventID: "evt_late", PaymentKey: "chrg_4", OrderID: f.payment.OrderID, Status: "DONE", Amount: 150000})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if res.Refund == nil || res.Refund.Status != domain.RefundStatusCompleted || res.Refund.Amount.Amount() != 150000 {
		t.Fatalf("Expected completed full refund, got %+v", res.Refund)
	}
	if p := testutil.Payment(t, f.store, f.booking.ID); p.Status != domain.PaymentStatusRefunded {
		t.Errorf("Expected REFUNDED, got %s", p.Status)
	}
	if f.pub.Count(notification.EventPaymentConfirmed) != 0 {
		t.Error("Expected no PaymentConfirmed for a cancelled booking")
	}
}

func TestWebhookHandler(t *testing.T) {
	f := newFixture(t, domain.BookingStatusPending)
	router := NewHandler(f.service).WebhookRoutes()
	body, _ := json.Marshal(WebhookEvent{EventID: "evt_h", PaymentKey: "chrg_h", OrderID: f.payment.OrderID, Status: "DONE", Amount: 150000})

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{"missing signature", "", http.StatusUnauthorized},
		{"valid signature", gateway.Sign([]byte(webhookSecret), body), http.StatusOK},
		{"redelivery", gateway.Sign([]byte(webhookSecret), body), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
			if tt.signature != "" {
				req.Header.Set(gateway.SignatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
	if p := testutil.Payment(t, f.store, f.booking.ID); p.Status != domain.PaymentStatusPaid {
		t.Errorf("Expected PAID, got %s", p.Status)
	}
}
