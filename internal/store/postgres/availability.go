package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
)

const slotColumns = `id, tutor_id, day_of_week, start_time, end_time, is_active, created_at, updated_at`

// CreateAvailableSlot inserts a weekly window for a tutor
func (r *repo) CreateAvailableSlot(ctx context.Context, a *domain.AvailableSlot) error {
	query := `
		INSERT INTO available_slots (tutor_id, day_of_week, start_time, end_time, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.tx.QueryRowContext(ctx, query, a.TutorID, a.DayOfWeek, a.StartTime, a.EndTime, a.IsActive).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return wrap("create available slot", err)
	}
	return nil
}

func (r *repo) GetAvailableSlot(ctx context.Context, id int64) (*domain.AvailableSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM available_slots WHERE id = $1`

	a, err := scanSlot(r.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get available slot: %w", err)
	}
	return a, nil
}

func (r *repo) UpdateAvailableSlot(ctx context.Context, a *domain.AvailableSlot) error {
	query := `
		UPDATE available_slots
		SET day_of_week = $2, start_time = $3, end_time = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.tx.QueryRowContext(ctx, query, a.ID, a.DayOfWeek, a.StartTime, a.EndTime, a.IsActive).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to update available slot: %w", store.ErrStaleState)
		}
		return wrap("update available slot", err)
	}
	return nil
}

func (r *repo) DeleteAvailableSlot(ctx context.Context, id int64) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM available_slots WHERE id = $1`, id)
	if err != nil {
		return wrap("delete available slot", err)
	}
	return expectOne(res, "delete available slot")
}

// ListAvailableSlots returns the tutor's windows ordered by day, then start time
func (r *repo) ListAvailableSlots(ctx context.Context, tutorID int64, activeOnly bool) ([]*domain.AvailableSlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM available_slots
		WHERE tutor_id = $1 AND (is_active OR NOT $2)
		ORDER BY day_of_week, start_time, id
	`
	rows, err := r.tx.QueryContext(ctx, query, tutorID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list available slots: %w", err)
	}
	defer rows.Close()

	var out []*domain.AvailableSlot
	for rows.Next() {
		a, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan available slot: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanSlot(row scanner) (*domain.AvailableSlot, error) {
	a := &domain.AvailableSlot{}
	err := row.Scan(&a.ID, &a.TutorID, &a.DayOfWeek, &a.StartTime, &a.EndTime, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}
