package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
)

const reviewColumns = `id, booking_id, tutor_id, student_id, overall_rating, kindness_rating, preparation_rating,
	improvement_rating, punctuality_rating, content, image_urls, is_anonymous, status, tutor_reply,
	tutor_replied_at, created_at, updated_at`

// CreateReview inserts a review; booking_id is unique
func (r *repo) CreateReview(ctx context.Context, rv *domain.Review) error {
	query := `
		INSERT INTO reviews (booking_id, tutor_id, student_id, overall_rating, kindness_rating, preparation_rating,
			improvement_rating, punctuality_rating, content, image_urls, is_anonymous, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := r.tx.QueryRowContext(ctx, query,
		rv.BookingID,
		rv.TutorID,
		rv.StudentID,
		rv.OverallRating,
		rv.KindnessRating,
		rv.PreparationRating,
		rv.ImprovementRating,
		rv.PunctualityRating,
		rv.Content,
		pq.Array(imageURLs(rv)),
		rv.IsAnonymous,
		rv.Status,
	).Scan(&rv.ID, &rv.CreatedAt, &rv.UpdatedAt)
	if err != nil {
		return wrap("create review", err)
	}
	return nil
}

func (r *repo) GetReview(ctx context.Context, id int64) (*domain.Review, error) {
	return r.review(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id)
}

func (r *repo) GetReviewByBooking(ctx context.Context, bookingID int64) (*domain.Review, error) {
	return r.review(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE booking_id = $1`, bookingID)
}

func (r *repo) review(ctx context.Context, query string, arg any) (*domain.Review, error) {
	rv, err := scanReview(r.tx.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return rv, nil
}

func (r *repo) UpdateReview(ctx context.Context, rv *domain.Review) error {
	query := `
		UPDATE reviews
		SET overall_rating = $1, kindness_rating = $2, preparation_rating = $3, improvement_rating = $4,
			punctuality_rating = $5, content = $6, image_urls = $7, is_anonymous = $8, status = $9,
			tutor_reply = $10, tutor_replied_at = $11, updated_at = NOW()
		WHERE id = $12
	`
	res, err := r.tx.ExecContext(ctx, query,
		rv.OverallRating,
		rv.KindnessRating,
		rv.PreparationRating,
		rv.ImprovementRating,
		rv.PunctualityRating,
		rv.Content,
		pq.Array(imageURLs(rv)),
		rv.IsAnonymous,
		rv.Status,
		rv.TutorReply,
		rv.TutorRepliedAt,
		rv.ID,
	)
	if err != nil {
		return wrap("update review", err)
	}
	return expectOne(res, "update review")
}

func (r *repo) ListReviews(ctx context.Context, f store.ReviewFilter) ([]*domain.Review, int, error) {
	var (
		where []string
		args  []any
	)
	if f.TutorID != 0 {
		args = append(args, f.TutorID)
		where = append(where, fmt.Sprintf("tutor_id = $%d", len(args)))
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
	if err := r.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reviews: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM reviews%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		reviewColumns, cond, len(args)-1, len(args))

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, rv)
	}
	return reviews, total, rows.Err()
}

// ReviewStats aggregates the tutor's ACTIVE reviews
func (r *repo) ReviewStats(ctx context.Context, tutorID int64) (domain.ReviewStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(overall_rating), 0), COUNT(tutor_reply)
		FROM reviews
		WHERE tutor_id = $1 AND status = 'ACTIVE'
	`
	stats := domain.ReviewStats{TutorID: tutorID}
	if err := r.tx.QueryRowContext(ctx, query, tutorID).Scan(&stats.Count, &stats.RatingSum, &stats.Replied); err != nil {
		return stats, fmt.Errorf("failed to aggregate reviews: %w", err)
	}
	return stats, nil
}

func (r *repo) ListReviewedTutorIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT DISTINCT tutor_id FROM reviews ORDER BY tutor_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviewed tutors: %w", err)
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

func scanReview(row scanner) (*domain.Review, error) {
	rv := &domain.Review{}
	var images []string
	err := row.Scan(
		&rv.ID,
		&rv.BookingID,
		&rv.TutorID,
		&rv.StudentID,
		&rv.OverallRating,
		&rv.KindnessRating,
		&rv.PreparationRating,
		&rv.ImprovementRating,
		&rv.PunctualityRating,
		&rv.Content,
		pq.Array(&images),
		&rv.IsAnonymous,
		&rv.Status,
		&rv.TutorReply,
		&rv.TutorRepliedAt,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rv.ImageURLs = images
	return rv, nil
}

// Reports

func (r *repo) CreateReport(ctx context.Context, rp *domain.ReviewReport) error {
	query := `
		INSERT INTO review_reports (review_id, reporter_id, reason, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.tx.QueryRowContext(ctx, query, rp.ReviewID, rp.ReporterID, rp.Reason, rp.Description, rp.Status).
		Scan(&rp.ID, &rp.CreatedAt)
	if err != nil {
		return wrap("create review report", err)
	}
	return nil
}

const reportColumns = `id, review_id, reporter_id, reason, description, status, resolved_by, resolved_at, created_at`

func (r *repo) GetReport(ctx context.Context, id int64) (*domain.ReviewReport, error) {
	rp, err := scanReport(r.tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM review_reports WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get review report: %w", err)
	}
	return rp, nil
}

func (r *repo) UpdateReport(ctx context.Context, rp *domain.ReviewReport) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE review_reports SET status = $1, resolved_by = $2, resolved_at = $3 WHERE id = $4`,
		rp.Status, rp.ResolvedBy, rp.ResolvedAt, rp.ID,
	)
	if err != nil {
		return wrap("update review report", err)
	}
	return expectOne(res, "update review report")
}

func (r *repo) ListReports(ctx context.Context, status domain.ReportStatus) ([]*domain.ReviewReport, error) {
	query := `SELECT ` + reportColumns + ` FROM review_reports`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list review reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.ReviewReport
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review report: %w", err)
		}
		reports = append(reports, rp)
	}
	return reports, rows.Err()
}

func scanReport(row scanner) (*domain.ReviewReport, error) {
	rp := &domain.ReviewReport{}
	err := row.Scan(
		&rp.ID,
		&rp.ReviewID,
		&rp.ReporterID,
		&rp.Reason,
		&rp.Description,
		&rp.Status,
		&rp.ResolvedBy,
		&rp.ResolvedAt,
		&rp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rp, nil
}

// Ratings

func (r *repo) UpsertTutorRating(ctx context.Context, tr *domain.TutorRating) error {
	query := `
		INSERT INTO tutor_ratings (tutor_id, review_count, rating_sum, average, tier, responsive)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tutor_id) DO UPDATE SET
			review_count = EXCLUDED.review_count,
			rating_sum = EXCLUDED.rating_sum,
			average = EXCLUDED.average,
			tier = EXCLUDED.tier,
			responsive = EXCLUDED.responsive,
			updated_at = NOW()
		RETURNING updated_at
	`
	err := r.tx.QueryRowContext(ctx, query,
		tr.TutorID, tr.ReviewCount, tr.RatingSum, tr.Average, tr.Tier, tr.Responsive,
	).Scan(&tr.UpdatedAt)
	if err != nil {
		return wrap("upsert tutor rating", err)
	}
	return nil
}

func (r *repo) GetTutorRating(ctx context.Context, tutorID int64) (*domain.TutorRating, error) {
	query := `
		SELECT tutor_id, review_count, rating_sum, average, tier, responsive, updated_at
		FROM tutor_ratings WHERE tutor_id = $1
	`
	tr := &domain.TutorRating{}
	err := r.tx.QueryRowContext(ctx, query, tutorID).Scan(
		&tr.TutorID, &tr.ReviewCount, &tr.RatingSum, &tr.Average, &tr.Tier, &tr.Responsive, &tr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tutor rating: %w", err)
	}
	return tr, nil
}

// imageURLs keeps image_urls NOT NULL; pq encodes a nil slice as NULL
func imageURLs(rv *domain.Review) []string {
	if rv.ImageURLs == nil {
		return []string{}
	}
	return rv.ImageURLs
}
