package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zbnerd/TutorFlow/internal/domain"
)

// CreateUser inserts a new user
func (r *repo) CreateUser(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (name, email, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	if err := r.tx.QueryRowContext(ctx, query, u.Name, u.Email, u.Role).Scan(&u.ID, &u.CreatedAt); err != nil {
		return wrap("create user", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (r *repo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT id, name, email, role, created_at FROM users WHERE id = $1`

	u := &domain.User{}
	err := r.tx.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpsertTutorProfile creates or replaces the tutor's settings
func (r *repo) UpsertTutorProfile(ctx context.Context, p *domain.TutorProfile) error {
	query := `
		INSERT INTO tutor_profiles (user_id, session_price, currency, no_show_policy, cancellation_hours, payout_account, is_approved)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			session_price = EXCLUDED.session_price,
			currency = EXCLUDED.currency,
			no_show_policy = EXCLUDED.no_show_policy,
			cancellation_hours = EXCLUDED.cancellation_hours,
			payout_account = EXCLUDED.payout_account,
			is_approved = EXCLUDED.is_approved,
			updated_at = NOW()
		RETURNING updated_at
	`
	err := r.tx.QueryRowContext(ctx, query,
		p.UserID,
		p.SessionPrice.Amount(),
		string(p.SessionPrice.Currency()),
		p.NoShowPolicy,
		p.CancellationHours,
		p.PayoutAccount,
		p.IsApproved,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return wrap("upsert tutor profile", err)
	}
	return nil
}

func (r *repo) GetTutorProfile(ctx context.Context, userID int64) (*domain.TutorProfile, error) {
	return r.tutorProfile(ctx, userID, "")
}

func (r *repo) LockTutorProfile(ctx context.Context, userID int64) (*domain.TutorProfile, error) {
	return r.tutorProfile(ctx, userID, " FOR UPDATE")
}

func (r *repo) tutorProfile(ctx context.Context, userID int64, lock string) (*domain.TutorProfile, error) {
	query := `
		SELECT user_id, session_price, currency, no_show_policy, cancellation_hours, payout_account, is_approved, updated_at
		FROM tutor_profiles
		WHERE user_id = $1` + lock

	var (
		p        domain.TutorProfile
		price    int64
		currency string
	)
	err := r.tx.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&price,
		&currency,
		&p.NoShowPolicy,
		&p.CancellationHours,
		&p.PayoutAccount,
		&p.IsApproved,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tutor profile: %w", err)
	}
	p.SessionPrice = toMoney(price, currency)
	return &p, nil
}
