package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
)

const settlementColumns = `id, tutor_id, year_month, total_sessions, total_amount, platform_fee, pg_fee,
	net_amount, currency, status, disbursement_ref, failure_reason, attempts, paid_at, created_at, updated_at`

// CreateSettlement inserts the settlement of a (tutor, month); the pair is unique
func (r *repo) CreateSettlement(ctx context.Context, s *domain.Settlement) error {
	query := `
		INSERT INTO settlements (tutor_id, year_month, total_sessions, total_amount, platform_fee, pg_fee,
			net_amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := r.tx.QueryRowContext(ctx, query,
		s.TutorID,
		s.YearMonth,
		s.TotalSessions,
		s.TotalAmount.Amount(),
		s.PlatformFee.Amount(),
		s.PGFee.Amount(),
		s.NetAmount.Amount(),
		string(s.TotalAmount.Currency()),
		s.Status,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return wrap("create settlement", err)
	}
	return nil
}

func (r *repo) GetSettlement(ctx context.Context, id int64) (*domain.Settlement, error) {
	return r.settlement(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id)
}

func (r *repo) LockSettlementFor(ctx context.Context, tutorID int64, yearMonth string) (*domain.Settlement, error) {
	return r.settlement(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE tutor_id = $1 AND year_month = $2 FOR UPDATE`, tutorID, yearMonth)
}

func (r *repo) settlement(ctx context.Context, query string, args ...any) (*domain.Settlement, error) {
	s, err := scanSettlement(r.tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return s, nil
}

// UpdateSettlement writes the disbursement state; the figures are never rewritten
func (r *repo) UpdateSettlement(ctx context.Context, s *domain.Settlement) error {
	query := `
		UPDATE settlements
		SET status = $1, disbursement_ref = $2, failure_reason = $3, attempts = $4, paid_at = $5, updated_at = NOW()
		WHERE id = $6
	`
	res, err := r.tx.ExecContext(ctx, query, s.Status, s.DisbursementRef, s.FailureReason, s.Attempts, s.PaidAt, s.ID)
	if err != nil {
		return wrap("update settlement", err)
	}
	return expectOne(res, "update settlement")
}

func (r *repo) ListSettlements(ctx context.Context, f store.SettlementFilter) ([]*domain.Settlement, error) {
	var (
		where []string
		args  []any
	)
	if f.TutorID != 0 {
		args = append(args, f.TutorID)
		where = append(where, fmt.Sprintf("tutor_id = $%d", len(args)))
	}
	if f.YearMonth != "" {
		args = append(args, f.YearMonth)
		where = append(where, fmt.Sprintf("year_month = $%d", len(args)))
	}
	query := `SELECT ` + settlementColumns + ` FROM settlements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY year_month DESC, tutor_id"

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*domain.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}

func scanSettlement(row scanner) (*domain.Settlement, error) {
	var (
		s                        domain.Settlement
		total, platform, pg, net int64
		currency                 string
	)
	err := row.Scan(
		&s.ID,
		&s.TutorID,
		&s.YearMonth,
		&s.TotalSessions,
		&total,
		&platform,
		&pg,
		&net,
		&currency,
		&s.Status,
		&s.DisbursementRef,
		&s.FailureReason,
		&s.Attempts,
		&s.PaidAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.TotalAmount = toMoney(total, currency)
	s.PlatformFee = toMoney(platform, currency)
	s.PGFee = toMoney(pg, currency)
	s.NetAmount = toMoney(net, currency)
	return &s, nil
}
