package review

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
)

var tracer = otel.Tracer("github.com/zbnerd/TutorFlow/internal/review")

// Thresholds are the badge tier rules, checked from the highest tier down
type Thresholds struct {
	BestMinReviews    int
	BestMinMean       decimal.Decimal
	PopularMinReviews int
	PopularMinMean    decimal.Decimal

	// ResponsiveRate is the minimum fraction of replied reviews
	ResponsiveRate decimal.Decimal
}

// DefaultThresholds are the production tier rules
func DefaultThresholds() Thresholds {
	return Thresholds{
		BestMinReviews:    30,
		BestMinMean:       decimal.RequireFromString("4.8"),
		PopularMinReviews: 10,
		PopularMinMean:    decimal.RequireFromString("4.5"),
		ResponsiveRate:    decimal.RequireFromString("0.8"),
	}
}

// Aggregate derives the rating of a tutor from the stats of their ACTIVE reviews.
// Means are compared as sum >= min * count so no division is rounded.
func Aggregate(stats domain.ReviewStats, th Thresholds, now time.Time) *domain.TutorRating {
	r := &domain.TutorRating{
		TutorID:     stats.TutorID,
		ReviewCount: stats.Count,
		RatingSum:   stats.RatingSum,
		Tier:        domain.BadgeNone,
		UpdatedAt:   now,
	}
	if stats.Count == 0 {
		return r
	}

	count := decimal.NewFromInt(int64(stats.Count))
	sum := decimal.NewFromInt(int64(stats.RatingSum))
	r.Average = sum.DivRound(count, 2).InexactFloat64()

	meets := func(minReviews int, minMean decimal.Decimal) bool {
		return stats.Count >= minReviews && sum.GreaterThanOrEqual(minMean.Mul(count))
	}
	switch {
	case meets(th.BestMinReviews, th.BestMinMean):
		r.Tier = domain.BadgeBest
	case meets(th.PopularMinReviews, th.PopularMinMean):
		r.Tier = domain.BadgePopular
	}

	r.Responsive = decimal.NewFromInt(int64(stats.Replied)).GreaterThanOrEqual(th.ResponsiveRate.Mul(count))
	return r
}

func (s *Service) recompute(ctx context.Context, tx store.Tx, tutorID int64) (*domain.TutorRating, error) {
	stats, err := tx.ReviewStats(ctx, tutorID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reviews of tutor %d: %w", tutorID, err)
	}
	r := Aggregate(stats, s.settings.Thresholds, s.now())
	if err := tx.UpsertTutorRating(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to store rating of tutor %d: %w", tutorID, err)
	}
	return r, nil
}

func (s *Service) cacheRating(ctx context.Context, r *domain.TutorRating) {
	if s.cache == nil || r == nil {
		return
	}
	if err := s.cache.Set(ctx, r); err != nil {
		s.log.WarnContext(ctx, "rating cache write failed", "tutor_id", r.TutorID, "error", err)
	}
}

// Rating returns the rating facts of a tutor, served from the cache when possible
func (s *Service) Rating(ctx context.Context, tutorID int64) (*domain.TutorRating, error) {
	if s.cache != nil {
		r, err := s.cache.Get(ctx, tutorID)
		if err != nil {
			s.log.WarnContext(ctx, "rating cache read failed", "tutor_id", tutorID, "error", err)
		} else if r != nil {
			return r, nil
		}
	}

	var r *domain.TutorRating
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.GetTutorRating(ctx, tutorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = Aggregate(domain.ReviewStats{TutorID: tutorID}, s.settings.Thresholds, s.now())
	}
	s.cacheRating(ctx, r)
	return r, nil
}

// RecomputeReport summarizes a full recompute
type RecomputeReport struct {
	Tutors  int `json:"tutors"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

// RecomputeAll rebuilds the rating of every reviewed tutor to correct drift
func (s *Service) RecomputeAll(ctx context.Context) (*RecomputeReport, error) {
	ctx, span := tracer.Start(ctx, "review.recompute_all")
	defer span.End()

	var ids []int64
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.ListReviewedTutorIDs(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &RecomputeReport{Tutors: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var (
			rating  *domain.TutorRating
			changed bool
		)
		err := s.store.WithTx(ctx, func(tx store.Tx) error {
			prev, err := tx.GetTutorRating(ctx, id)
			if err != nil {
				return err
			}
			if rating, err = s.recompute(ctx, tx, id); err != nil {
				return err
			}
			changed = prev == nil || prev.ReviewCount != rating.ReviewCount || prev.RatingSum != rating.RatingSum ||
				prev.Tier != rating.Tier || prev.Responsive != rating.Responsive
			return nil
		})
		if err != nil {
			report.Failed++
			s.log.ErrorContext(ctx, "rating recompute failed", "tutor_id", id, "error", err)
			continue
		}
		if changed {
			report.Changed++
			s.log.InfoContext(ctx, "rating corrected", "tutor_id", id, "tier", rating.Tier, "reviews", rating.ReviewCount)
		}
		s.cacheRating(ctx, rating)
	}

	span.SetAttributes(
		attribute.Int("review.tutors", report.Tutors),
		attribute.Int("review.changed", report.Changed),
		attribute.Int("review.failed", report.Failed),
	)
	return report, nil
}
