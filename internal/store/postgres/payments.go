package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
)

const paymentColumns = `id, booking_id, order_id, payment_key, amount, currency, fee_rate, fee_amount,
	net_amount, status, failure_reason, paid_at, refunded_at, version, created_at, updated_at`

// CreatePayment inserts the single payment of a booking
func (r *repo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (booking_id, order_id, payment_key, amount, currency, fee_rate, fee_amount, net_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version, created_at, updated_at
	`
	err := r.tx.QueryRowContext(ctx, query,
		p.BookingID,
		p.OrderID,
		p.PaymentKey,
		p.Amount.Amount(),
		string(p.Amount.Currency()),
		p.FeeRate,
		p.FeeAmount.Amount(),
		p.NetAmount.Amount(),
		p.Status,
	).Scan(&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return wrap("create payment", err)
	}
	return nil
}

func (r *repo) GetPaymentByBooking(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	return r.payment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1`, bookingID)
}

func (r *repo) GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.payment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
}

func (r *repo) LockPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return r.payment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (r *repo) payment(ctx context.Context, query string, arg any) (*domain.Payment, error) {
	var (
		p                domain.Payment
		amount, fee, net int64
		currency         string
	)
	err := r.tx.QueryRowContext(ctx, query, arg).Scan(
		&p.ID,
		&p.BookingID,
		&p.OrderID,
		&p.PaymentKey,
		&amount,
		&currency,
		&p.FeeRate,
		&fee,
		&net,
		&p.Status,
		&p.FailureReason,
		&p.PaidAt,
		&p.RefundedAt,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.Amount = toMoney(amount, currency)
	p.FeeAmount = toMoney(fee, currency)
	p.NetAmount = toMoney(net, currency)
	return &p, nil
}

// UpdatePayment writes the capture state guarded by the version column
func (r *repo) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	query := `
		UPDATE payments
		SET payment_key = $1, status = $2, failure_reason = $3, paid_at = $4, refunded_at = $5,
			version = version + 1, updated_at = NOW()
		WHERE id = $6 AND version = $7
		RETURNING version, updated_at
	`
	err := r.tx.QueryRowContext(ctx, query,
		p.PaymentKey, p.Status, p.FailureReason, p.PaidAt, p.RefundedAt, p.ID, p.Version,
	).Scan(&p.Version, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to update payment %d: %w", p.ID, store.ErrStaleState)
		}
		return wrap("update payment", err)
	}
	return nil
}

// MarkEventProcessed inserts the event id; a conflict means the event was already applied
func (r *repo) MarkEventProcessed(ctx context.Context, eventID, eventKey string) (bool, error) {
	res, err := r.tx.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, event_key) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventKey,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}
	return n == 1, nil
}
