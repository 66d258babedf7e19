package review

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zbnerd/TutorFlow/internal/audit"
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

// Common errors
var (
	ErrReviewNotFound       = apperr.NotFound("NOT_FOUND", "review not found")
	ErrReportNotFound       = apperr.NotFound("NOT_FOUND", "report not found")
	ErrBookingNotFound      = apperr.NotFound("NOT_FOUND", "booking not found")
	ErrNotVerifiedPurchaser = apperr.Authorization("NOT_VERIFIED_PURCHASER", "only a paying student who attended a session can review")
	ErrDuplicateReview      = apperr.Conflict("DUPLICATE_REVIEW", "booking was already reviewed")
	ErrEditWindowExpired    = apperr.Conflict("EDIT_WINDOW_EXPIRED", "review can no longer be changed")
	ErrReplyExists          = apperr.Conflict("REPLY_EXISTS", "review already has a reply")
	ErrDuplicateReport      = apperr.Conflict("DUPLICATE_REPORT", "review was already reported by this user")
	ErrSelfReport           = apperr.ErrValidation.WithMessage("own reviews cannot be reported")
	ErrNotAuthor            = apperr.ErrForbidden.WithMessage("only the author can change a review")
	ErrNotReviewedTutor     = apperr.ErrForbidden.WithMessage("only the reviewed tutor can reply")
)

// RatingCache is a read-through cache of rating facts
type RatingCache interface {
	Get(ctx context.Context, tutorID int64) (*domain.TutorRating, error)
	Set(ctx context.Context, r *domain.TutorRating) error
}

// Settings configures the review service
type Settings struct {
	EditWindow time.Duration
	Thresholds Thresholds
}

// Service gates, stores and moderates reviews and keeps tutor ratings current
type Service struct {
	store    store.Store
	cache    RatingCache
	settings Settings
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a new review service. cache may be nil.
func NewService(st store.Store, cache RatingCache, settings Settings, log *slog.Logger) *Service {
	if settings.EditWindow == 0 {
		settings.EditWindow = 7 * 24 * time.Hour
	}
	if settings.Thresholds == (Thresholds{}) {
		settings.Thresholds = DefaultThresholds()
	}
	return &Service{
		store:    st,
		cache:    cache,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the service clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CanReview reports whether actor may review the booking
func (s *Service) CanReview(ctx context.Context, actor domain.Actor, bookingID int64) (*Eligibility, error) {
	res := &Eligibility{BookingID: bookingID, CanReview: true}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := s.gate(ctx, tx, actor, bookingID)
		return err
	})
	var ae *apperr.Error
	switch {
	case err == nil:
	case errors.As(err, &ae) && (errors.Is(err, ErrNotVerifiedPurchaser) || errors.Is(err, ErrDuplicateReview)):
		res.CanReview = false
		res.Reason = ae.Code
	default:
		return nil, err
	}
	return res, nil
}

// gate holds iff the requester is the booking's student, the payment is PAID,
// at least one session was consumed and no review exists yet.
func (s *Service) gate(ctx context.Context, tx store.Tx, actor domain.Actor, bookingID int64) (*domain.Booking, error) {
	b, err := tx.LockBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBookingNotFound
	}
	if b.StudentID != actor.ID {
		if !b.IsParticipant(actor.ID) {
			return nil, ErrBookingNotFound
		}
		return nil, ErrNotVerifiedPurchaser
	}

	p, err := tx.GetPaymentByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status != domain.PaymentStatusPaid || b.CompletedSessions < 1 {
		return nil, ErrNotVerifiedPurchaser
	}

	existing, err := tx.GetReviewByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateReview.WithCurrent(existing.ID)
	}
	return b, nil
}

// Create writes the review of a booking once its student passes the gate
func (s *Service) Create(ctx context.Context, actor domain.Actor, req *CreateReviewRequest) (*domain.Review, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		rv     *domain.Review
		rating *domain.TutorRating
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := s.gate(ctx, tx, actor, req.BookingID)
		if err != nil {
			return err
		}

		rv = &domain.Review{
			BookingID:         b.ID,
			TutorID:           b.TutorID,
			StudentID:         b.StudentID,
			OverallRating:     req.OverallRating,
			KindnessRating:    req.KindnessRating,
			PreparationRating: req.PreparationRating,
			ImprovementRating: req.ImprovementRating,
			PunctualityRating: req.PunctualityRating,
			Content:           req.Content,
			ImageURLs:         append([]string{}, req.ImageURLs...),
			IsAnonymous:       req.IsAnonymous,
			Status:            domain.ReviewStatusActive,
		}
		if err := tx.CreateReview(ctx, rv); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrDuplicateReview
			}
			return err
		}
		if err := audit.Record(ctx, tx, domain.EntityReview, rv.ID, "create", audit.Actor(actor.ID), nil, rv); err != nil {
			return err
		}
		rating, err = s.recompute(ctx, tx, rv.TutorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cacheRating(ctx, rating)
	s.log.InfoContext(ctx, "review created", "review_id", rv.ID, "booking_id", rv.BookingID, "tutor_id", rv.TutorID)
	return rv, nil
}

// Update changes the author's review within the edit window
func (s *Service) Update(ctx context.Context, actor domain.Actor, id int64, req *UpdateReviewRequest) (*domain.Review, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, "update", func(tx store.Tx, rv *domain.Review) error {
		if err := s.checkAuthor(actor, rv); err != nil {
			return err
		}
		req.apply(rv)
		return nil
	})
}

// Delete removes the author's review within the edit window
func (s *Service) Delete(ctx context.Context, actor domain.Actor, id int64) error {
	_, err := s.mutate(ctx, actor, id, "delete", func(tx store.Tx, rv *domain.Review) error {
		if err := s.checkAuthor(actor, rv); err != nil {
			return err
		}
		rv.Status = domain.ReviewStatusDeleted
		return nil
	})
	return err
}

// Reply records the reviewed tutor's one reply
func (s *Service) Reply(ctx context.Context, actor domain.Actor, id int64, req *ReplyRequest) (*domain.Review, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, "reply", func(tx store.Tx, rv *domain.Review) error {
		if rv.TutorID != actor.ID {
			return ErrNotReviewedTutor
		}
		if rv.TutorReply != nil {
			return ErrReplyExists.WithCurrent(*rv.TutorReply)
		}
		now := s.now()
		rv.TutorReply = &req.Reply
		rv.TutorRepliedAt = &now
		return nil
	})
}

// Moderate sets the status of any review; administrators only
func (s *Service) Moderate(ctx context.Context, actor domain.Actor, id int64, req *ModerateRequest) (*domain.Review, error) {
	if !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, "moderate", func(tx store.Tx, rv *domain.Review) error {
		rv.Status = req.Status
		return nil
	})
}

// mutate loads a review, applies fn and persists it with an audit entry and a fresh rating
func (s *Service) mutate(ctx context.Context, actor domain.Actor, id int64, action string, fn func(tx store.Tx, rv *domain.Review) error) (*domain.Review, error) {
	var (
		rv     *domain.Review
		rating *domain.TutorRating
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		rv, err = tx.GetReview(ctx, id)
		if err != nil {
			return err
		}
		if rv == nil || (rv.Status == domain.ReviewStatusDeleted && !actor.IsAdmin()) {
			return ErrReviewNotFound
		}

		old := rv.Clone()
		if err := fn(tx, rv); err != nil {
			return err
		}
		if err := tx.UpdateReview(ctx, rv); err != nil {
			if errors.Is(err, store.ErrStaleState) {
				return apperr.ErrStale
			}
			return err
		}
		if err := audit.Record(ctx, tx, domain.EntityReview, rv.ID, action, audit.Actor(actor.ID), old, rv); err != nil {
			return err
		}
		rating, err = s.recompute(ctx, tx, rv.TutorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cacheRating(ctx, rating)
	return rv, nil
}

func (s *Service) checkAuthor(actor domain.Actor, rv *domain.Review) error {
	if rv.StudentID != actor.ID {
		return ErrNotAuthor
	}
	if s.now().Sub(rv.CreatedAt) > s.settings.EditWindow {
		return ErrEditWindowExpired
	}
	return nil
}

// Get returns a review. HIDDEN reviews are visible to their participants and administrators.
// Anonymous reviews do not expose the student to other viewers.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id int64) (*domain.Review, error) {
	var rv *domain.Review
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		rv, err = tx.GetReview(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rv == nil {
		return nil, ErrReviewNotFound
	}

	involved := actor.IsAdmin() || actor.ID == rv.StudentID || actor.ID == rv.TutorID
	switch rv.Status {
	case domain.ReviewStatusDeleted:
		if !actor.IsAdmin() {
			return nil, ErrReviewNotFound
		}
	case domain.ReviewStatusHidden:
		if !involved {
			return nil, ErrReviewNotFound
		}
	}
	if rv.IsAnonymous && !actor.IsAdmin() && actor.ID != rv.StudentID {
		rv.StudentID = 0
	}
	return rv, nil
}

// Report flags a review for moderation. A user reports a review at most once.
func (s *Service) Report(ctx context.Context, actor domain.Actor, reviewID int64, req *ReportRequest) (*domain.ReviewReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var rep *domain.ReviewReport
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		rv, err := tx.GetReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if rv == nil || rv.Status == domain.ReviewStatusDeleted {
			return ErrReviewNotFound
		}
		if rv.StudentID == actor.ID {
			return ErrSelfReport
		}

		rep = &domain.ReviewReport{
			ReviewID:    reviewID,
			ReporterID:  actor.ID,
			Reason:      req.Reason,
			Description: req.Description,
			Status:      domain.ReportStatusPending,
		}
		if err := tx.CreateReport(ctx, rep); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrDuplicateReport
			}
			return err
		}
		return audit.Record(ctx, tx, domain.EntityReport, rep.ID, "create", audit.Actor(actor.ID), nil, rep)
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// ListReports returns reports in status; administrators only
func (s *Service) ListReports(ctx context.Context, actor domain.Actor, status domain.ReportStatus) ([]*domain.ReviewReport, error) {
	if !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	var out []*domain.ReviewReport
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListReports(ctx, status)
		return err
	})
	return out, err
}

// ResolveReport closes a PENDING report. Approving it hides an ACTIVE review.
func (s *Service) ResolveReport(ctx context.Context, actor domain.Actor, reportID int64, req *ResolveReportRequest) (*domain.ReviewReport, error) {
	if !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		rep    *domain.ReviewReport
		rating *domain.TutorRating
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		rep, err = tx.GetReport(ctx, reportID)
		if err != nil {
			return err
		}
		if rep == nil {
			return ErrReportNotFound
		}
		if rep.Status != domain.ReportStatusPending {
			return apperr.ErrStateConflict.WithCurrent(rep.Status)
		}

		old := rep.Clone()
		now := s.now()
		rep.Status = req.Status
		rep.ResolvedBy = audit.Actor(actor.ID)
		rep.ResolvedAt = &now
		if err := tx.UpdateReport(ctx, rep); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, domain.EntityReport, rep.ID, "resolve", audit.Actor(actor.ID), old, rep); err != nil {
			return err
		}
		if rep.Status != domain.ReportStatusApproved {
			return nil
		}

		rv, err := tx.GetReview(ctx, rep.ReviewID)
		if err != nil {
			return err
		}
		if rv == nil || rv.Status != domain.ReviewStatusActive {
			return nil
		}
		oldReview := rv.Clone()
		rv.Status = domain.ReviewStatusHidden
		if err := tx.UpdateReview(ctx, rv); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, domain.EntityReview, rv.ID, "hide", audit.Actor(actor.ID), oldReview, rv); err != nil {
			return err
		}
		rating, err = s.recompute(ctx, tx, rv.TutorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cacheRating(ctx, rating)
	return rep, nil
}
