package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/internal/store/memory"
	"github.com/zbnerd/TutorFlow/internal/testutil"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

type fakeCache struct {
	mu      sync.Mutex
	ratings map[int64]domain.TutorRating
	gets    int
}

func (c *fakeCache) Get(_ context.Context, tutorID int64) (*domain.TutorRating, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	r, ok := c.ratings[tutorID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (c *fakeCache) Set(_ context.Context, r *domain.TutorRating) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ratings[r.TutorID] = *r
	return nil
}

type fixture struct {
	store   *memory.Store
	clock   *testutil.Clock
	cache   *fakeCache
	service *Service
	tutor   domain.Actor
	student domain.Actor
	other   domain.Actor
	admin   domain.Actor
	booking *domain.Booking
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 3, 10, 12, 0, 0, 0, testutil.Seoul))
	st := memory.New().WithClock(clock.Now)
	cache := &fakeCache{ratings: map[int64]domain.TutorRating{}}

	f := &fixture{
		store:   st,
		clock:   clock,
		cache:   cache,
		service: NewService(st, cache, Settings{EditWindow: 7 * 24 * time.Hour}, testutil.Logger()).WithClock(clock.Now),
		tutor:   domain.Actor{ID: testutil.SeedTutor(t, st, testutil.TutorOptions{}), Role: domain.RoleTutor},
		student: domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleStudent), Role: domain.RoleStudent},
		other:   domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleStudent), Role: domain.RoleStudent},
		admin:   domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleAdmin), Role: domain.RoleAdmin},
	}
	f.booking = testutil.SeedApprovedBooking(t, st, f.tutor.ID, f.student.ID, 50000,
		testutil.Slots(time.Date(2026, 3, 2, 10, 0, 0, 0, testutil.Seoul), 4, 24*time.Hour)).Booking
	return f
}

func (f *fixture) complete(t *testing.T, n int) {
	t.Helper()
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		b, err := tx.LockBooking(context.Background(), f.booking.ID)
		if err != nil {
			return err
		}
		b.CompletedSessions = n
		return tx.UpdateBooking(context.Background(), b)
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func (f *fixture) setPayment(t *testing.T, status domain.PaymentStatus) {
	t.Helper()
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		p, err := tx.GetPaymentByBooking(context.Background(), f.booking.ID)
		if err != nil {
			return err
		}
		p.Status = status
		return tx.UpdatePayment(context.Background(), p)
	})
	if err != nil {
		t.Fatalf("set payment: %v", err)
	}
}

func (f *fixture) create(t *testing.T, rating int) *domain.Review {
	t.Helper()
	rv, err := f.service.Create(context.Background(), f.student, &CreateReviewRequest{
		BookingID:     f.booking.ID,
		OverallRating: rating,
		Content:       "clear explanations",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rv
}

func TestGate(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		payment   domain.PaymentStatus
		as        func(f *fixture) domain.Actor
		want      error
	}{
		{"no completed session", 0, domain.PaymentStatusPaid, func(f *fixture) domain.Actor { return f.student }, ErrNotVerifiedPurchaser},
		{"payment not captured", 1, domain.PaymentStatusPending, func(f *fixture) domain.Actor { return f.student }, ErrNotVerifiedPurchaser},
		{"payment refunded", 2, domain.PaymentStatusRefunded, func(f *fixture) domain.Actor { return f.student }, ErrNotVerifiedPurchaser},
		{"tutor of the booking", 1, domain.PaymentStatusPaid, func(f *fixture) domain.Actor { return f.tutor }, ErrNotVerifiedPurchaser},
		{"stranger", 1, domain.PaymentStatusPaid, func(f *fixture) domain.Actor { return f.other }, ErrBookingNotFound},
		{"verified purchaser", 1, domain.PaymentStatusPaid, func(f *fixture) domain.Actor { return f.student }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.complete(t, tt.completed)
			f.setPayment(t, tt.payment)

			_, err := f.service.Create(context.Background(), tt.as(f), &CreateReviewRequest{BookingID: f.booking.ID, OverallRating: 5})
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Expected review to be created, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateOncePerBooking(t *testing.T) {
	f := newFixture(t)
	f.complete(t, 1)

	e, err := f.service.CanReview(context.Background(), f.student, f.booking.ID)
	if err != nil || !e.CanReview {
		t.Fatalf("Expected the student to be eligible, got %+v, %v", e, err)
	}

	rv := f.create(t, 5)
	if rv.TutorID != f.tutor.ID || rv.Status != domain.ReviewStatusActive {
		t.Errorf("Unexpected review %+v", rv)
	}

	_, err = f.service.Create(context.Background(), f.student, &CreateReviewRequest{BookingID: f.booking.ID, OverallRating: 1})
	if !errors.Is(err, ErrDuplicateReview) {
		t.Errorf("Expected ErrDuplicateReview, got %v", err)
	}

	e, err = f.service.CanReview(context.Background(), f.student, f.booking.ID)
	if err != nil || e.CanReview || e.Reason != "DUPLICATE_REVIEW" {
		t.Errorf("Expected DUPLICATE_REVIEW, got %+v, %v", e, err)
	}

	rating, err := f.service.Rating(context.Background(), f.tutor.ID)
	if err != nil {
		t.Fatalf("Rating: %v", err)
	}
	if rating.ReviewCount != 1 || rating.RatingSum != 5 {
		t.Errorf("Expected one review of 5, got %+v", rating)
	}
}

func TestEditWindow(t *testing.T) {
	f := newFixture(t)
	f.complete(t, 1)
	rv := f.create(t, 4)
	three := 3

	if _, err := f.service.Update(context.Background(), f.other, rv.ID, &UpdateReviewRequest{OverallRating: &three}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for another user, got %v", err)
	}

	f.clock.Advance(6 * 24 * time.Hour)
	updated, err := f.service.Update(context.Background(), f.student, rv.ID, &UpdateReviewRequest{OverallRating: &three})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.OverallRating != 3 || updated.Content != "clear explanations" {
		t.Errorf("Expected only the rating to change, got %+v", updated)
	}
	if got := f.cache.ratings[f.tutor.ID]; got.RatingSum != 3 {
		t.Errorf("Expected the cached rating to follow the edit, got %+v", got)
	}

	f.clock.Advance(24*time.Hour + time.Second)
	if _, err := f.service.Update(context.Background(), f.student, rv.ID, &UpdateReviewRequest{OverallRating: &three}); !errors.Is(err, ErrEditWindowExpired) {
		t.Errorf("Expected ErrEditWindowExpired, got %v", err)
	}
	if err := f.service.Delete(context.Background(), f.student, rv.ID); !errors.Is(err, ErrEditWindowExpired) {
		t.Errorf("Expected ErrEditWindowExpired on delete, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.complete(t, 1)
	rv := f.create(t, 5)

	if err := f.service.Delete(context.Background(), f.student, rv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.service.Get(context.Background(), f.other, rv.ID); !errors.Is(err, ErrReviewNotFound) {
		t.Errorf("Expected deleted review to be hidden, got %v", err)
	}
	if got, err := f.service.Get(context.Background(), f.admin, rv.ID); err != nil || got.Status != domain.ReviewStatusDeleted {
		t.Errorf("Expected admins to see the deleted review, got %+v, %v", got, err)
	}
	if _, err := f.service.Create(context.Background(), f.student, &CreateReviewRequest{BookingID: f.booking.ID, OverallRating: 5}); !errors.Is(err, ErrDuplicateReview) {
		t.Errorf("Expected a deleted review to still block a new one, got %v", err)
	}

	rating, _ := f.service.Rating(context.Background(), f.tutor.ID)
	if rating.ReviewCount != 0 {
		t.Errorf("Expected no active reviews, got %d", rating.ReviewCount)
	}
}

func TestReplyOnce(t *testing.T) {
	f := newFixture(t)
	f.complete(t, 1)
	rv := f.create(t, 5)

	if _, err := f.service.Reply(context.Background(), f.student, rv.ID, &ReplyRequest{Reply: "thanks"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for the student, got %v", err)
	}

	replied, err := f.service.Reply(context.Background(), f.tutor, rv.ID, &ReplyRequest{Reply: "  thank you!  "})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if replied.TutorReply == nil || *replied.TutorReply != "thank you!" || replied.TutorRepliedAt == nil {
		t.Errorf("Expected a trimmed reply, got %+v", replied)
	}

	if _, err := f.service.Reply(context.Background(), f.tutor, rv.ID, &ReplyRequest{Reply: "again"}); !errors.Is(err, ErrReplyExists) {
		t.Errorf("Expected ErrReplyExists, got %v", err)
	}

	rating, _ := f.service.Rating(context.Background(), f.tutor.ID)
	if !rating.Responsive {
		t.Error("Expected the tutor to be responsive with every review answered")
	}
}

func TestReports(t *testing.T) {
	f := newFixture(t)
	f.complete(t, 1)
	rv := f.create(t, 1)
	ctx := context.Background()

	if _, err := f.service.Report(ctx, f.student, rv.ID, &ReportRequest{Reason: domain.ReportReasonSpam}); !errors.Is(err, ErrSelfReport) {
		t.Errorf("Expected ErrSelfReport, got %v", err)
	}
	if _, err := f.service.Report(ctx, f.tutor, rv.ID, &ReportRequest{Reason: "RUDE"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected ErrValidation for an unknown reason, got %v", err)
	}

	rep, err := f.service.Report(ctx, f.tutor, rv.ID, &ReportRequest{Reason: domain.ReportReasonFalseInfo})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if _, err := f.service.Report(ctx, f.tutor, rv.ID, &ReportRequest{Reason: domain.ReportReasonAbuse}); !errors.Is(err, ErrDuplicateReport) {
		t.Errorf("Expected ErrDuplicateReport, got %v", err)
	}

	if _, err := f.service.ResolveReport(ctx, f.tutor, rep.ID, &ResolveReportRequest{Status: domain.ReportStatusApproved}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	pending, err := f.service.ListReports(ctx, f.admin, domain.ReportStatusPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("Expected one pending report, got %d, %v", len(pending), err)
	}

	resolved, err := f.service.ResolveReport(ctx, f.admin, rep.ID, &ResolveReportRequest{Status: domain.ReportStatusApproved})
	if err != nil {
		t.Fatalf("ResolveReport: %v", err)
	}
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != f.admin.ID || resolved.ResolvedAt == nil {
		t.Errorf("Expected resolver to be recorded, got %+v", resolved)
	}
	if _, err := f.service.ResolveReport(ctx, f.admin, rep.ID, &ResolveReportRequest{Status: domain.ReportStatusRejected}); !errors.Is(err, apperr.ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict on a resolved report, got %v", err)
	}

	if _, err := f.service.Get(ctx, f.other, rv.ID); !errors.Is(err, ErrReviewNotFound) {
		t.Errorf("Expected the hidden review to be invisible to others, got %v", err)
	}
	if got, err := f.service.Get(ctx, f.tutor, rv.ID); err != nil || got.Status != domain.ReviewStatusHidden {
		t.Errorf("Expected the tutor to see the hidden review, got %+v, %v", got, err)
	}
	rating, _ := f.service.Rating(ctx, f.tutor.ID)
	if rating.ReviewCount != 0 {
		t.Errorf("Expected hidden reviews to leave the rating, got %d", rating.ReviewCount)
	}
}

func TestModerate(t *testing.T) {
	f := newFixture(t)
	f.complete(t, 1)
	rv := f.create(t, 5)
	ctx := context.Background()

	if _, err := f.service.Moderate(ctx, f.tutor, rv.ID, &ModerateRequest{Status: domain.ReviewStatusHidden}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	for _, status := range []domain.ReviewStatus{domain.ReviewStatusHidden, domain.ReviewStatusActive} {
		got, err := f.service.Moderate(ctx, f.admin, rv.ID, &ModerateRequest{Status: status})
		if err != nil || got.Status != status {
			t.Fatalf("Expected %s, got %+v, %v", status, got, err)
		}
	}
	rating, _ := f.service.Rating(ctx, f.tutor.ID)
	if rating.ReviewCount != 1 {
		t.Errorf("Expected the restored review to count, got %d", rating.ReviewCount)
	}
}

func TestAnonymousReview(t *testing.T) {
	f := newFixture(t)
	f.complete(t, 1)
	rv, err := f.service.Create(context.Background(), f.student, &CreateReviewRequest{BookingID: f.booking.ID, OverallRating: 4, IsAnonymous: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got, _ := f.service.Get(context.Background(), f.tutor, rv.ID); got.StudentID != 0 {
		t.Errorf("Expected the student to be masked, got %d", got.StudentID)
	}
	if got, _ := f.service.Get(context.Background(), f.student, rv.ID); got.StudentID != f.student.ID {
		t.Errorf("Expected the author to see themselves, got %d", got.StudentID)
	}
}

func TestRatingReadThrough(t *testing.T) {
	f := newFixture(t)
	f.cache.ratings[f.tutor.ID] = domain.TutorRating{TutorID: f.tutor.ID, ReviewCount: 42, Tier: domain.BadgeBest}

	got, err := f.service.Rating(context.Background(), f.tutor.ID)
	if err != nil {
		t.Fatalf("Rating: %v", err)
	}
	if got.ReviewCount != 42 {
		t.Errorf("Expected the cached value, got %+v", got)
	}

	delete(f.cache.ratings, f.tutor.ID)
	got, err = f.service.Rating(context.Background(), f.tutor.ID)
	if err != nil {
		t.Fatalf("Rating: %v", err)
	}
	if got.ReviewCount != 0 || got.Tier != domain.BadgeNone {
		t.Errorf("Expected an empty rating, got %+v", got)
	}
	if _, ok := f.cache.ratings[f.tutor.ID]; !ok {
		t.Error("Expected the miss to populate the cache")
	}
}

func TestRecomputeAll(t *testing.T) {
	f := newFixture(t)
	f.complete(t, 1)
	f.create(t, 5)

	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.UpsertTutorRating(context.Background(), &domain.TutorRating{TutorID: f.tutor.ID, ReviewCount: 99, RatingSum: 1, Tier: domain.BadgeBest})
	})
	if err != nil {
		t.Fatalf("corrupt rating: %v", err)
	}

	report, err := f.service.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if report.Tutors != 1 || report.Changed != 1 || report.Failed != 0 {
		t.Errorf("Expected one corrected tutor, got %+v", report)
	}

	again, _ := f.service.RecomputeAll(context.Background())
	if again.Changed != 0 {
		t.Errorf("Expected no drift on the second pass, got %+v", again)
	}
	if got := f.cache.ratings[f.tutor.ID]; got.ReviewCount != 1 || got.Tier != domain.BadgeNone {
		t.Errorf("Expected the cache to hold the corrected rating, got %+v", got)
	}
}
