// Package gateway holds the boundaries to the payment gateway and the bank disbursement rail.
package gateway

import (
	"context"
	"errors"

	"github.com/zbnerd/TutorFlow/internal/money"
)

var (
	ErrTimeout  = errors.New("gateway call timed out")
	ErrDeclined = errors.New("gateway declined the request")

	ErrNotConfigured = errors.New("gateway credentials are not configured")
)

// CaptureStatus is the gateway's view of a payment
type CaptureStatus string

const (
	CaptureCaptured CaptureStatus = "CAPTURED"
	CapturePending  CaptureStatus = "PENDING"
	CaptureFailed   CaptureStatus = "FAILED"
)

// Verification is the result of VerifyPayment
type Verification struct {
	Reference string
	Status    CaptureStatus
	Amount    money.Money
}

// RefundResult is the result of a refund request
type RefundResult struct {
	Reference string
}

// Disbursement is the bank's confirmation of a payout
type Disbursement struct {
	ConfirmationID string
}

// PaymentGateway verifies captures and moves refunds.
// A Refund retried with the same idempotency key returns the first refund instead of a second one.
type PaymentGateway interface {
	VerifyPayment(ctx context.Context, reference string) (Verification, error)
	Refund(ctx context.Context, reference string, amount money.Money, reason, idempotencyKey string) (RefundResult, error)
}

// Disburser pays tutors out; callers retry with the same idempotency key
type Disburser interface {
	Disburse(ctx context.Context, account string, amount money.Money, idempotencyKey string) (Disbursement, error)
}

// Unconfigured fails every call; it stands in when no gateway credentials are set
type Unconfigured struct{}

func (Unconfigured) VerifyPayment(context.Context, string) (Verification, error) {
	return Verification{}, ErrNotConfigured
}

func (Unconfigured) Refund(context.Context, string, money.Money, string, string) (RefundResult, error) {
	return RefundResult{}, ErrNotConfigured
}

func (Unconfigured) Disburse(context.Context, string, money.Money, string) (Disbursement, error) {
	return Disbursement{}, ErrNotConfigured
}
