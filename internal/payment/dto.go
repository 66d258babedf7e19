package payment

import (
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/gateway"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

// ConfirmRequest is sent by the client after the gateway redirected back
type ConfirmRequest struct {
	OrderID    string `json:"order_id"`
	PaymentKey string `json:"payment_key"`
}

func (r *ConfirmRequest) Validate() error {
	if r.OrderID == "" || r.PaymentKey == "" {
		return apperr.ErrValidation.WithMessage("order_id and payment_key are required")
	}
	return nil
}

// WebhookEvent is the gateway's payment status callback
type WebhookEvent struct {
	EventID    string `json:"event_id,omitempty"`
	PaymentKey string `json:"payment_key"`
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Method     string `json:"method,omitempty"`
}

// DedupeKey identifies a delivery; redeliveries share it
func (e *WebhookEvent) DedupeKey() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.PaymentKey + ":" + e.Status
}

// CaptureStatus maps the gateway's status vocabulary; ok is false for in-progress states
func (e *WebhookEvent) CaptureStatus() (status gateway.CaptureStatus, ok bool) {
	switch e.Status {
	case "DONE":
		return gateway.CaptureCaptured, true
	case "CANCELED", "ABORTED", "EXPIRED", "FAILED":
		return gateway.CaptureFailed, true
	default:
		return "", false
	}
}

// Result reports what applying a capture did
type Result struct {
	Payment *domain.Payment `json:"payment"`

	// Changed is false when the capture had already been applied
	Changed bool           `json:"changed"`
	Refund  *domain.Refund `json:"refund,omitempty"`
}
