package domain

import (
	"encoding/json"
	"time"
)

// Entity types recorded in the audit log
const (
	EntityBooking    = "booking"
	EntitySession    = "session"
	EntityPayment    = "payment"
	EntityRefund     = "refund"
	EntitySettlement = "settlement"
	EntityReview     = "review"
	EntityReport     = "review_report"
	EntitySlot       = "available_slot"
)

// AuditEntry is an append-only record of a state change
type AuditEntry struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Action     string          `json:"action"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
