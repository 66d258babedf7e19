package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
)

const bookingColumns = `id, tutor_id, student_id, subject, session_price, currency, total_sessions,
	completed_sessions, status, start_date, end_date, notes, version, created_at, updated_at`

// CreateBooking inserts a booking and its requested slots
func (r *repo) CreateBooking(ctx context.Context, b *domain.Booking) error {
	query := `
		INSERT INTO bookings (tutor_id, student_id, subject, session_price, currency, total_sessions,
			completed_sessions, status, start_date, end_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, version, created_at, updated_at
	`
	err := r.tx.QueryRowContext(ctx, query,
		b.TutorID,
		b.StudentID,
		b.Subject,
		b.SessionPrice.Amount(),
		string(b.SessionPrice.Currency()),
		b.TotalSessions,
		b.CompletedSessions,
		b.Status,
		b.StartDate,
		b.EndDate,
		b.Notes,
	).Scan(&b.ID, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return wrap("create booking", err)
	}

	for i, s := range b.Slots {
		_, err := r.tx.ExecContext(ctx,
			`INSERT INTO booking_slots (booking_id, position, starts_at, ends_at) VALUES ($1, $2, $3, $4)`,
			b.ID, i, s.StartsAt, s.EndsAt,
		)
		if err != nil {
			return wrap("create booking slot", err)
		}
	}
	return nil
}

func (r *repo) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	return r.booking(ctx, id, "")
}

// LockBooking reads the booking and holds its row lock until the transaction ends
func (r *repo) LockBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	return r.booking(ctx, id, " FOR UPDATE")
}

func (r *repo) booking(ctx context.Context, id int64, lock string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1` + lock

	b, err := scanBooking(r.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if err := r.loadSlots(ctx, []*domain.Booking{b}); err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateBooking writes mutable booking fields guarded by the version column
func (r *repo) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	query := `
		UPDATE bookings
		SET completed_sessions = $1, status = $2, notes = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5
		RETURNING version, updated_at
	`
	err := r.tx.QueryRowContext(ctx, query, b.CompletedSessions, b.Status, b.Notes, b.ID, b.Version).
		Scan(&b.Version, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to update booking %d: %w", b.ID, store.ErrStaleState)
		}
		return wrap("update booking", err)
	}
	return nil
}

// ListBookings retrieves bookings matching f, newest first, with the total count
func (r *repo) ListBookings(ctx context.Context, f store.BookingFilter) ([]*domain.Booking, int, error) {
	var (
		where []string
		args  []any
	)
	if f.TutorID != 0 {
		args = append(args, f.TutorID)
		where = append(where, fmt.Sprintf("tutor_id = $%d", len(args)))
	}
	if f.StudentID != 0 {
		args = append(args, f.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM bookings%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		bookingColumns, cond, len(args)-1, len(args))

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	if err := r.loadSlots(ctx, bookings); err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// ListActiveSlots returns slots of the tutor's PENDING/APPROVED bookings overlapping [from, to)
func (r *repo) ListActiveSlots(ctx context.Context, tutorID int64, from, to time.Time) ([]domain.Slot, error) {
	query := `
		SELECT s.starts_at, s.ends_at
		FROM booking_slots s
		JOIN bookings b ON b.id = s.booking_id
		WHERE b.tutor_id = $1
		  AND b.status IN ('PENDING', 'APPROVED')
		  AND s.starts_at < $3 AND s.ends_at > $2
		ORDER BY s.starts_at
	`
	rows, err := r.tx.QueryContext(ctx, query, tutorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list active slots: %w", err)
	}
	defer rows.Close()

	var slots []domain.Slot
	for rows.Next() {
		var s domain.Slot
		if err := rows.Scan(&s.StartsAt, &s.EndsAt); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (r *repo) loadSlots(ctx context.Context, bookings []*domain.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	ids := make([]int64, len(bookings))
	byID := make(map[int64]*domain.Booking, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
		byID[b.ID] = b
	}

	rows, err := r.tx.QueryContext(ctx,
		`SELECT booking_id, starts_at, ends_at FROM booking_slots WHERE booking_id = ANY($1) ORDER BY booking_id, position`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load booking slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			bookingID int64
			s         domain.Slot
		)
		if err := rows.Scan(&bookingID, &s.StartsAt, &s.EndsAt); err != nil {
			return fmt.Errorf("failed to scan booking slot: %w", err)
		}
		b := byID[bookingID]
		b.Slots = append(b.Slots, s)
	}
	return rows.Err()
}

func scanBooking(row scanner) (*domain.Booking, error) {
	var (
		b        domain.Booking
		price    int64
		currency string
	)
	err := row.Scan(
		&b.ID,
		&b.TutorID,
		&b.StudentID,
		&b.Subject,
		&price,
		&currency,
		&b.TotalSessions,
		&b.CompletedSessions,
		&b.Status,
		&b.StartDate,
		&b.EndDate,
		&b.Notes,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.SessionPrice = toMoney(price, currency)
	return &b, nil
}
