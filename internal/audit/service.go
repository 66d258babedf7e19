package audit

import (
	"context"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

var ErrUnknownEntity = apperr.Validation("VALIDATION_FAILED", "unknown entity type")

var entityTypes = map[string]bool{
	domain.EntityBooking:    true,
	domain.EntitySession:    true,
	domain.EntityPayment:    true,
	domain.EntityRefund:     true,
	domain.EntitySettlement: true,
	domain.EntityReview:     true,
	domain.EntityReport:     true,
	domain.EntitySlot:       true,
}

// Service reads the audit log
type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// List returns the entries of one entity, or of every entity of the type when entityID is 0
func (s *Service) List(ctx context.Context, entityType string, entityID int64) ([]*domain.AuditEntry, error) {
	if !entityTypes[entityType] {
		return nil, ErrUnknownEntity.WithMessage("unknown entity type %q", entityType)
	}
	var entries []*domain.AuditEntry
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.ListAudit(ctx, entityType, entityID)
		return err
	})
	return entries, err
}
