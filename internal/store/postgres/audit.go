package postgres

import (
	"context"
	"fmt"

	"github.com/zbnerd/TutorFlow/internal/domain"
)

// AppendAudit inserts an audit entry; entries are never updated
func (r *repo) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_log (entity_type, entity_id, action, old_value, new_value, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.tx.QueryRowContext(ctx, query,
		e.EntityType,
		e.EntityID,
		e.Action,
		nullJSON(e.OldValue),
		nullJSON(e.NewValue),
		e.ActorID,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return wrap("append audit entry", err)
	}
	return nil
}

// ListAudit returns entries of one entity, or of every entity of the type when entityID is 0
func (r *repo) ListAudit(ctx context.Context, entityType string, entityID int64) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, old_value, new_value, actor_id, created_at
		FROM audit_log
		WHERE entity_type = $1 AND ($2::BIGINT = 0 OR entity_id = $2)
		ORDER BY id
	`
	rows, err := r.tx.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var (
			e              domain.AuditEntry
			oldVal, newVal []byte
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &oldVal, &newVal, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.OldValue = oldVal
		e.NewValue = newVal
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
