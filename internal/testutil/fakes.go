package testutil

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/zbnerd/TutorFlow/internal/gateway"
	"github.com/zbnerd/TutorFlow/internal/money"
	"github.com/zbnerd/TutorFlow/internal/notification"
)

// Logger discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Clock is a settable time source safe for concurrent use
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// RefundCall records one Refund request
type RefundCall struct {
	Reference      string
	Amount         money.Money
	Reason         string
	IdempotencyKey string
}

// FakeGateway is a gateway.PaymentGateway with overridable behavior.
// Without VerifyFunc every reference verifies as captured for Captured.
type FakeGateway struct {
	mu          sync.Mutex
	Captured    money.Money
	VerifyFunc  func(ctx context.Context, reference string) (gateway.Verification, error)
	RefundFunc  func(ctx context.Context, reference string, amount money.Money) (gateway.RefundResult, error)
	VerifyCalls []string
	RefundCalls []RefundCall
}

func (f *FakeGateway) VerifyPayment(ctx context.Context, reference string) (gateway.Verification, error) {
	f.mu.Lock()
	f.VerifyCalls = append(f.VerifyCalls, reference)
	fn := f.VerifyFunc
	captured := f.Captured
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, reference)
	}
	return gateway.Verification{Reference: reference, Status: gateway.CaptureCaptured, Amount: captured}, nil
}

func (f *FakeGateway) Refund(ctx context.Context, reference string, amount money.Money, reason, idempotencyKey string) (gateway.RefundResult, error) {
	f.mu.Lock()
	f.RefundCalls = append(f.RefundCalls, RefundCall{Reference: reference, Amount: amount, Reason: reason, IdempotencyKey: idempotencyKey})
	fn := f.RefundFunc
	n := len(f.RefundCalls)
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, reference, amount)
	}
	return gateway.RefundResult{Reference: "rfnd_" + reference + "_" + strconv.Itoa(n)}, nil
}

// Refunds returns a snapshot of the recorded refund calls
func (f *FakeGateway) Refunds() []RefundCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RefundCall(nil), f.RefundCalls...)
}

// DisburseCall records one Disburse request
type DisburseCall struct {
	Account        string
	Amount         money.Money
	IdempotencyKey string
}

// FakeDisburser is a gateway.Disburser; DisburseFunc may fail selected accounts
type FakeDisburser struct {
	mu           sync.Mutex
	DisburseFunc func(ctx context.Context, account string, amount money.Money) (gateway.Disbursement, error)
	Calls        []DisburseCall
}

func (f *FakeDisburser) Disburse(ctx context.Context, account string, amount money.Money, idempotencyKey string) (gateway.Disbursement, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, DisburseCall{Account: account, Amount: amount, IdempotencyKey: idempotencyKey})
	fn := f.DisburseFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, account, amount)
	}
	return gateway.Disbursement{ConfirmationID: "trsf_" + idempotencyKey}, nil
}

// CallsFor returns the recorded calls to account
func (f *FakeDisburser) CallsFor(account string) []DisburseCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []DisburseCall
	for _, c := range f.Calls {
		if c.Account == account {
			out = append(out, c)
		}
	}
	return out
}

// RecordingPublisher keeps every published event
type RecordingPublisher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (p *RecordingPublisher) Publish(_ context.Context, e notification.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *RecordingPublisher) Events() []notification.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notification.Event(nil), p.events...)
}

// Count returns how many events of type t were published
func (p *RecordingPublisher) Count(t notification.EventType) int {
	n := 0
	for _, e := range p.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Notifier returns a notification service backed by p
func (p *RecordingPublisher) Notifier() *notification.Service {
	return notification.NewService(p, Logger())
}
