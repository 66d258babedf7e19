// Package audit appends and reads the append-only state-change log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
)

// Record appends one entry inside the caller's transaction.
// oldValue and newValue are marshalled to JSON; nil stays NULL.
func Record(ctx context.Context, repo store.AuditRepository, entityType string, entityID int64, action string, actorID *int64, oldValue, newValue any) error {
	oldJSON, err := marshal(oldValue)
	if err != nil {
		return fmt.Errorf("failed to encode audit old value: %w", err)
	}
	newJSON, err := marshal(newValue)
	if err != nil {
		return fmt.Errorf("failed to encode audit new value: %w", err)
	}
	return repo.AppendAudit(ctx, &domain.AuditEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		OldValue:   oldJSON,
		NewValue:   newJSON,
		ActorID:    actorID,
	})
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Actor returns a pointer for ActorID; 0 means the system acted
func Actor(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
