package user

import (
	"context"
	"log/slog"

	"github.com/zbnerd/TutorFlow/internal/attendance/noshow"
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/money"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

// Common errors
var (
	ErrUserNotFound    = apperr.NotFound("NOT_FOUND", "user not found")
	ErrProfileNotFound = apperr.NotFound("NOT_FOUND", "tutor profile not found")
	ErrNotTutor        = apperr.ErrForbidden.WithMessage("only tutors have tutor settings")
)

// Service handles users and tutor settings
type Service struct {
	store    store.Store
	policies *noshow.Factory
	currency money.Currency
	log      *slog.Logger
}

// NewService creates a new user service
func NewService(st store.Store, currency money.Currency, log *slog.Logger) *Service {
	return &Service{store: st, policies: noshow.NewFactory(), currency: currency, log: log}
}

// Create registers a local user. Only administrators create administrators.
func (s *Service) Create(ctx context.Context, actor domain.Actor, req *CreateUserRequest) (*domain.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Role == domain.RoleAdmin && !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}

	u := &domain.User{Name: req.Name, Email: req.Email, Role: req.Role}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "user created", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// GetByID retrieves a user by their ID
func (s *Service) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var u *domain.User
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.GetUser(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// TutorProfile returns a tutor's settings; the payout account is only shown to the tutor and administrators
func (s *Service) TutorProfile(ctx context.Context, actor domain.Actor, tutorID int64) (*domain.TutorProfile, error) {
	var p *domain.TutorProfile
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetTutorProfile(ctx, tutorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	if actor.ID != tutorID && !actor.IsAdmin() {
		p.PayoutAccount = ""
	}
	return p, nil
}

// UpdateTutorSettings stores the caller's tutor settings. Approval is kept as is.
// A changed price applies to bookings created afterwards.
func (s *Service) UpdateTutorSettings(ctx context.Context, actor domain.Actor, req *TutorSettingsRequest) (*domain.TutorProfile, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.NoShowPolicy == "" {
		req.NoShowPolicy = domain.NoShowFullDeduction
	}
	if _, err := s.policies.Create(req.NoShowPolicy); err != nil {
		return nil, apperr.ErrValidation.WithMessage("%v", err)
	}

	var p *domain.TutorProfile
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUser(ctx, actor.ID)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrUserNotFound
		}
		if u.Role != domain.RoleTutor {
			return ErrNotTutor
		}

		current, err := tx.LockTutorProfile(ctx, actor.ID)
		if err != nil {
			return err
		}
		p = &domain.TutorProfile{
			UserID:            actor.ID,
			SessionPrice:      money.New(req.SessionPrice, s.currency),
			NoShowPolicy:      req.NoShowPolicy,
			CancellationHours: req.CancellationHours,
			PayoutAccount:     req.PayoutAccount,
		}
		if current != nil {
			p.IsApproved = current.IsApproved
		}
		return tx.UpsertTutorProfile(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "tutor settings updated", "tutor_id", actor.ID, "no_show_policy", p.NoShowPolicy)
	return p, nil
}

// SetApproval approves or suspends a tutor; administrators only
func (s *Service) SetApproval(ctx context.Context, actor domain.Actor, tutorID int64, approved bool) (*domain.TutorProfile, error) {
	if !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}

	var p *domain.TutorProfile
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.LockTutorProfile(ctx, tutorID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrProfileNotFound
		}
		p.IsApproved = approved
		return tx.UpsertTutorProfile(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "tutor approval changed", "tutor_id", tutorID, "approved", approved)
	return p, nil
}
