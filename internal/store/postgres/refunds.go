package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zbnerd/TutorFlow/internal/domain"
)

const refundColumns = `id, booking_id, payment_id, amount, currency, reason, status, gateway_ref,
	failure_reason, attempts, requested_by, completed_at, created_at, updated_at`

// CreateRefund inserts the single refund of a payment
func (r *repo) CreateRefund(ctx context.Context, ref *domain.Refund) error {
	query := `
		INSERT INTO refunds (booking_id, payment_id, amount, currency, reason, status, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.tx.QueryRowContext(ctx, query,
		ref.BookingID,
		ref.PaymentID,
		ref.Amount.Amount(),
		string(ref.Amount.Currency()),
		ref.Reason,
		ref.Status,
		ref.RequestedBy,
	).Scan(&ref.ID, &ref.CreatedAt, &ref.UpdatedAt)
	if err != nil {
		return wrap("create refund", err)
	}
	return nil
}

func (r *repo) GetRefund(ctx context.Context, id int64) (*domain.Refund, error) {
	return r.refund(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
}

func (r *repo) LockRefund(ctx context.Context, id int64) (*domain.Refund, error) {
	return r.refund(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1 FOR UPDATE`, id)
}

func (r *repo) GetRefundByPayment(ctx context.Context, paymentID int64) (*domain.Refund, error) {
	return r.refund(ctx, `SELECT `+refundColumns+` FROM refunds WHERE payment_id = $1`, paymentID)
}

func (r *repo) refund(ctx context.Context, query string, arg any) (*domain.Refund, error) {
	ref, err := scanRefund(r.tx.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return ref, nil
}

func (r *repo) UpdateRefund(ctx context.Context, ref *domain.Refund) error {
	query := `
		UPDATE refunds
		SET status = $1, gateway_ref = $2, failure_reason = $3, attempts = $4, completed_at = $5, updated_at = NOW()
		WHERE id = $6
	`
	res, err := r.tx.ExecContext(ctx, query,
		ref.Status, ref.GatewayRef, ref.FailureReason, ref.Attempts, ref.CompletedAt, ref.ID)
	if err != nil {
		return wrap("update refund", err)
	}
	return expectOne(res, "update refund")
}

func (r *repo) ListRefundsByStatus(ctx context.Context, status domain.RefundStatus, limit int) ([]*domain.Refund, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.tx.QueryContext(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE status = $1 ORDER BY id LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		ref, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		refunds = append(refunds, ref)
	}
	return refunds, rows.Err()
}

func scanRefund(row scanner) (*domain.Refund, error) {
	var (
		ref      domain.Refund
		amount   int64
		currency string
	)
	err := row.Scan(
		&ref.ID,
		&ref.BookingID,
		&ref.PaymentID,
		&amount,
		&currency,
		&ref.Reason,
		&ref.Status,
		&ref.GatewayRef,
		&ref.FailureReason,
		&ref.Attempts,
		&ref.RequestedBy,
		&ref.CompletedAt,
		&ref.CreatedAt,
		&ref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ref.Amount = toMoney(amount, currency)
	return &ref, nil
}
