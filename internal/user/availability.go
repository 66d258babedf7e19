package user

import (
	"context"
	"strings"

	"github.com/zbnerd/TutorFlow/internal/audit"
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

var ErrSlotNotFound = apperr.NotFound("NOT_FOUND", "available slot not found")

// CreateSlot adds a weekly window to the calling tutor's availability
func (s *Service) CreateSlot(ctx context.Context, actor domain.Actor, req *CreateSlotRequest) (*domain.AvailableSlot, error) {
	a := &domain.AvailableSlot{
		TutorID:   actor.ID,
		DayOfWeek: req.DayOfWeek,
		StartTime: strings.TrimSpace(req.StartTime),
		EndTime:   strings.TrimSpace(req.EndTime),
		IsActive:  true,
	}
	if err := a.Validate(); err != nil {
		return nil, apperr.ErrValidation.WithMessage("%v", err)
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := requireTutor(ctx, tx, actor.ID); err != nil {
			return err
		}
		if err := tx.CreateAvailableSlot(ctx, a); err != nil {
			return err
		}
		return audit.Record(ctx, tx, domain.EntitySlot, a.ID, "create", audit.Actor(actor.ID), nil, a)
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "available slot created", "tutor_id", actor.ID, "slot_id", a.ID, "day", a.DayOfWeek)
	return a, nil
}

// ListSlots returns a tutor's windows; inactive ones only to the tutor and administrators
func (s *Service) ListSlots(ctx context.Context, actor domain.Actor, tutorID int64) ([]*domain.AvailableSlot, error) {
	activeOnly := actor.ID != tutorID && !actor.IsAdmin()
	var slots []*domain.AvailableSlot
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		slots, err = tx.ListAvailableSlots(ctx, tutorID, activeOnly)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// UpdateSlot changes one of the caller's windows
func (s *Service) UpdateSlot(ctx context.Context, actor domain.Actor, slotID int64, req *UpdateSlotRequest) (*domain.AvailableSlot, error) {
	var a *domain.AvailableSlot
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		old, err := ownSlot(ctx, tx, actor, slotID)
		if err != nil {
			return err
		}
		cp := *old
		a = &cp
		req.apply(a)
		if err := a.Validate(); err != nil {
			return apperr.ErrValidation.WithMessage("%v", err)
		}
		if err := tx.UpdateAvailableSlot(ctx, a); err != nil {
			return err
		}
		return audit.Record(ctx, tx, domain.EntitySlot, a.ID, "update", audit.Actor(actor.ID), old, a)
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "available slot updated", "tutor_id", actor.ID, "slot_id", slotID)
	return a, nil
}

// DeleteSlot removes one of the caller's windows. Booked sessions are not affected.
func (s *Service) DeleteSlot(ctx context.Context, actor domain.Actor, slotID int64) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		old, err := ownSlot(ctx, tx, actor, slotID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAvailableSlot(ctx, slotID); err != nil {
			return err
		}
		return audit.Record(ctx, tx, domain.EntitySlot, slotID, "delete", audit.Actor(actor.ID), old, nil)
	})
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "available slot deleted", "tutor_id", actor.ID, "slot_id", slotID)
	return nil
}

// CheckAvailability reports whether an active window of the tutor holds the HH:MM time on day
func (s *Service) CheckAvailability(ctx context.Context, tutorID int64, day int, at string) (bool, error) {
	minute, err := domain.ParseClock(at)
	if err != nil {
		return false, apperr.ErrValidation.WithMessage("time: %v", err)
	}
	if day < 0 || day > 6 {
		return false, apperr.ErrValidation.WithMessage("day must be between 0 (Monday) and 6 (Sunday)")
	}

	var slots []*domain.AvailableSlot
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		slots, err = tx.ListAvailableSlots(ctx, tutorID, true)
		return err
	})
	if err != nil {
		return false, err
	}
	for _, a := range slots {
		if a.Includes(day, minute) {
			return true, nil
		}
	}
	return false, nil
}

func requireTutor(ctx context.Context, tx store.Tx, id int64) error {
	u, err := tx.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUserNotFound
	}
	if u.Role != domain.RoleTutor {
		return ErrNotTutor
	}
	return nil
}

func ownSlot(ctx context.Context, tx store.Tx, actor domain.Actor, slotID int64) (*domain.AvailableSlot, error) {
	a, err := tx.GetAvailableSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrSlotNotFound
	}
	if a.TutorID != actor.ID && !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	return a, nil
}
