package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zbnerd/TutorFlow/internal/domain"
)

const sessionColumns = `id, booking_id, starts_at, ends_at, status, consumed, billable,
	pending_resolution, auto_marked, marked_at, marked_by, created_at`

// CreateSessions materializes sessions; (booking_id, starts_at) is unique
func (r *repo) CreateSessions(ctx context.Context, sessions []*domain.Session) error {
	query := `
		INSERT INTO booking_sessions (booking_id, starts_at, ends_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	for _, s := range sessions {
		err := r.tx.QueryRowContext(ctx, query, s.BookingID, s.StartsAt, s.EndsAt, s.Status).Scan(&s.ID, &s.CreatedAt)
		if err != nil {
			return wrap("create session", err)
		}
	}
	return nil
}

func (r *repo) GetSession(ctx context.Context, id int64) (*domain.Session, error) {
	return r.session(ctx, id, "")
}

func (r *repo) LockSession(ctx context.Context, id int64) (*domain.Session, error) {
	return r.session(ctx, id, " FOR UPDATE")
}

func (r *repo) session(ctx context.Context, id int64, lock string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM booking_sessions WHERE id = $1` + lock

	s, err := scanSession(r.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// UpdateSession writes the attendance state of a session
func (r *repo) UpdateSession(ctx context.Context, s *domain.Session) error {
	query := `
		UPDATE booking_sessions
		SET status = $1, consumed = $2, billable = $3, pending_resolution = $4, auto_marked = $5,
			marked_at = $6, marked_by = $7
		WHERE id = $8
	`
	res, err := r.tx.ExecContext(ctx, query,
		s.Status, s.Consumed, s.Billable, s.PendingResolution, s.AutoMarked, s.MarkedAt, s.MarkedBy, s.ID)
	if err != nil {
		return wrap("update session", err)
	}
	return expectOne(res, "update session")
}

func (r *repo) ListSessionsByBooking(ctx context.Context, bookingID int64) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM booking_sessions WHERE booking_id = $1 ORDER BY starts_at, id`
	return r.listSessions(ctx, query, bookingID)
}

// CountNoShows counts the pair's NO_SHOW sessions starting in [from, to)
func (r *repo) CountNoShows(ctx context.Context, tutorID, studentID int64, from, to time.Time, excludeSessionID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM booking_sessions s
		JOIN bookings b ON b.id = s.booking_id
		WHERE b.tutor_id = $1 AND b.student_id = $2
		  AND s.status = 'NO_SHOW'
		  AND s.starts_at >= $3 AND s.starts_at < $4
		  AND s.id <> $5
	`
	var n int
	if err := r.tx.QueryRowContext(ctx, query, tutorID, studentID, from, to, excludeSessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count no-shows: %w", err)
	}
	return n, nil
}

// ListScheduledSessions returns unmarked sessions of APPROVED bookings starting in [from, to)
func (r *repo) ListScheduledSessions(ctx context.Context, from, to time.Time, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT s.id, s.booking_id, s.starts_at, s.ends_at, s.status, s.consumed, s.billable,
			s.pending_resolution, s.auto_marked, s.marked_at, s.marked_by, s.created_at
		FROM booking_sessions s
		JOIN bookings b ON b.id = s.booking_id
		WHERE s.status = 'SCHEDULED'
		  AND b.status = 'APPROVED'
		  AND s.starts_at >= $1 AND s.starts_at < $2
		ORDER BY s.starts_at, s.id
		LIMIT $3
	`
	return r.listSessions(ctx, query, from, to, limit)
}

// ListBillableSessions returns the tutor's billable sessions in [from, to) whose payment was captured.
// The ordinal is computed over every session of the booking so the last session carries the remainder.
func (r *repo) ListBillableSessions(ctx context.Context, tutorID int64, from, to time.Time) ([]domain.BillableSession, error) {
	query := `
		SELECT x.id, x.booking_id, x.starts_at, p.amount, p.currency, b.total_sessions, x.ordinal
		FROM (
			SELECT s.*, ROW_NUMBER() OVER (PARTITION BY s.booking_id ORDER BY s.starts_at, s.id) AS ordinal
			FROM booking_sessions s
		) x
		JOIN bookings b ON b.id = x.booking_id
		JOIN payments p ON p.booking_id = b.id
		WHERE b.tutor_id = $1
		  AND p.status IN ('PAID', 'REFUNDED')
		  AND (x.status = 'ATTENDED' OR x.billable)
		  AND x.starts_at >= $2 AND x.starts_at < $3
		ORDER BY x.id
	`
	rows, err := r.tx.QueryContext(ctx, query, tutorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list billable sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.BillableSession
	for rows.Next() {
		var (
			bs       domain.BillableSession
			amount   int64
			currency string
		)
		if err := rows.Scan(&bs.SessionID, &bs.BookingID, &bs.StartsAt, &amount, &currency, &bs.TotalSessions, &bs.Ordinal); err != nil {
			return nil, fmt.Errorf("failed to scan billable session: %w", err)
		}
		bs.PaymentAmount = toMoney(amount, currency)
		out = append(out, bs)
	}
	return out, rows.Err()
}

func (r *repo) ListTutorsWithBillableSessions(ctx context.Context, from, to time.Time) ([]int64, error) {
	query := `
		SELECT DISTINCT b.tutor_id
		FROM booking_sessions s
		JOIN bookings b ON b.id = s.booking_id
		JOIN payments p ON p.booking_id = b.id
		WHERE p.status IN ('PAID', 'REFUNDED')
		  AND (s.status = 'ATTENDED' OR s.billable)
		  AND s.starts_at >= $1 AND s.starts_at < $2
		ORDER BY b.tutor_id
	`
	rows, err := r.tx.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list tutors with billable sessions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tutor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repo) listSessions(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanSession(row scanner) (*domain.Session, error) {
	s := &domain.Session{}
	err := row.Scan(
		&s.ID,
		&s.BookingID,
		&s.StartsAt,
		&s.EndsAt,
		&s.Status,
		&s.Consumed,
		&s.Billable,
		&s.PendingResolution,
		&s.AutoMarked,
		&s.MarkedAt,
		&s.MarkedBy,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
