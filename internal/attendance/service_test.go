package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/notification"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/internal/store/memory"
	"github.com/zbnerd/TutorFlow/internal/testutil"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

type fixture struct {
	store   *memory.Store
	clock   *testutil.Clock
	pub     *testutil.RecordingPublisher
	service *Service
	tutor   domain.Actor
	student domain.Actor
	admin   domain.Actor
	seeded  testutil.Seeded
}

var march2 = time.Date(2026, 3, 2, 10, 0, 0, 0, testutil.Seoul)

func newFixture(t *testing.T, policy domain.NoShowPolicy, rule UnmarkedRule, slots []domain.Slot) *fixture {
	t.Helper()
	clock := testutil.NewClock(march2.Add(-48 * time.Hour))
	st := memory.New().WithClock(clock.Now)
	pub := &testutil.RecordingPublisher{}

	f := &fixture{
		store: st,
		clock: clock,
		pub:   pub,
		service: NewService(st, pub.Notifier(), Settings{
			Location:    testutil.Seoul,
			EarlyWindow: 10 * time.Minute,
			Unmarked:    rule,
		}, testutil.Logger()).WithClock(clock.Now),
		tutor:   domain.Actor{ID: testutil.SeedTutor(t, st, testutil.TutorOptions{Policy: policy}), Role: domain.RoleTutor},
		student: domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleStudent), Role: domain.RoleStudent},
		admin:   domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleAdmin), Role: domain.RoleAdmin},
	}
	f.seeded = testutil.SeedApprovedBooking(t, st, f.tutor.ID, f.student.ID, 50000, slots)
	return f
}

func (f *fixture) session(i int) *domain.Session {
	return f.seeded.Sessions[i]
}

// markAt moves the clock to an hour after session i started and marks it
func (f *fixture) markAt(t *testing.T, i int, status domain.SessionStatus) *MarkResult {
	t.Helper()
	f.clock.Set(f.session(i).StartsAt.Add(time.Hour))
	res, err := f.service.Mark(context.Background(), f.tutor, f.session(i).ID, &MarkRequest{Status: status})
	if err != nil {
		t.Fatalf("Mark session %d %s: %v", i, status, err)
	}
	return res
}

func (f *fixture) booking(t *testing.T) *domain.Booking {
	return testutil.Booking(t, f.store, f.seeded.Booking.ID)
}

func TestMarkAttended(t *testing.T) {
	f := newFixture(t, domain.NoShowFullDeduction, FailOpenAttended, testutil.Slots(march2, 3, 24*time.Hour))

	res := f.markAt(t, 0, domain.SessionStatusAttended)
	if res.Booking.CompletedSessions != 1 {
		t.Errorf("Expected 1 completed session, got %d", res.Booking.CompletedSessions)
	}
	if !res.Session.Consumed || !res.Session.Billable || res.Session.MarkedBy == nil || *res.Session.MarkedBy != f.tutor.ID {
		t.Errorf("Unexpected session after mark: %+v", res.Session)
	}

	_, err := f.service.Mark(context.Background(), f.tutor, f.session(0).ID, &MarkRequest{Status: domain.SessionStatusNoShow})
	if !errors.Is(err, ErrAlreadyMarked) {
		t.Fatalf("Expected ErrAlreadyMarked, got %v", err)
	}
	if e, _ := apperr.As(err); e.Current != domain.SessionStatusAttended {
		t.Errorf("Expected current status ATTENDED, got %v", e.Current)
	}
	if got := f.booking(t).CompletedSessions; got != 1 {
		t.Errorf("Expected completed sessions to stay 1, got %d", got)
	}
}

func TestMarkRequiresTutor(t *testing.T) {
	f := newFixture(t, domain.NoShowFullDeduction, FailOpenAttended, testutil.Slots(march2, 1, 24*time.Hour))
	f.clock.Set(march2.Add(time.Hour))
	req := &MarkRequest{Status: domain.SessionStatusAttended}

	if _, err := f.service.Mark(context.Background(), f.student, f.session(0).ID, req); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for the student, got %v", err)
	}
	if _, err := f.service.Mark(context.Background(), domain.Actor{ID: 999, Role: domain.RoleTutor}, f.session(0).ID, req); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for a stranger, got %v", err)
	}
	if _, err := f.service.Mark(context.Background(), f.tutor, f.session(0).ID, &MarkRequest{Status: domain.SessionStatusCancelled}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected ErrValidation for CANCELLED, got %v", err)
	}
}

func TestMarkingWindow(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want error
	}{
		{"a day early", march2.Add(-24 * time.Hour), ErrSessionNotYetDue},
		{"before the early window", march2.Add(-11 * time.Minute), ErrSessionNotYetDue},
		{"inside the early window", march2.Add(-5 * time.Minute), nil},
		{"next day evening", time.Date(2026, 3, 3, 23, 0, 0, 0, testutil.Seoul), nil},
		{"at the deadline", time.Date(2026, 3, 3, 23, 59, 0, 0, testutil.Seoul), nil},
		{"after the deadline", time.Date(2026, 3, 3, 23, 59, 1, 0, testutil.Seoul), ErrMarkingWindowClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.NoShowFullDeduction, FailOpenAttended, testutil.Slots(march2, 2, 24*time.Hour))
			f.clock.Set(tt.at)

			_, err := f.service.Mark(context.Background(), f.tutor, f.session(0).ID, &MarkRequest{Status: domain.SessionStatusAttended})
			if tt.want == nil && err != nil {
				t.Fatalf("Expected success, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if tt.want != nil && f.booking(t).CompletedSessions != 0 {
				t.Error("Expected no state change on a rejected mark")
			}
		})
	}
}

func TestNoShowPolicies(t *testing.T) {
	// Mar 30, Mar 31, Apr 1 in Seoul
	slots := testutil.Slots(time.Date(2026, 3, 30, 10, 0, 0, 0, testutil.Seoul), 3, 24*time.Hour)

	tests := []struct {
		name          string
		policy        domain.NoShowPolicy
		wantCompleted []int
		wantBillable  []bool
	}{
		{"full deduction", domain.NoShowFullDeduction, []int{1, 2, 3}, []bool{true, true, true}},
		// first no-show of each month is free
		{"one free", domain.NoShowOneFree, []int{0, 1, 1}, []bool{false, true, false}},
		{"none", domain.NoShowNone, []int{0, 0, 0}, []bool{false, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.policy, FailOpenAttended, slots)
			for i := range slots {
				res := f.markAt(t, i, domain.SessionStatusNoShow)
				if res.Booking.CompletedSessions != tt.wantCompleted[i] {
					t.Errorf("session %d: expected %d completed, got %d", i, tt.wantCompleted[i], res.Booking.CompletedSessions)
				}
				if res.Session.Billable != tt.wantBillable[i] {
					t.Errorf("session %d: expected billable %v, got %v", i, tt.wantBillable[i], res.Session.Billable)
				}
				if res.Session.PendingResolution != (tt.policy == domain.NoShowNone) {
					t.Errorf("session %d: unexpected pending resolution %v", i, res.Session.PendingResolution)
				}
			}

			want := domain.BookingStatusCompleted
			if tt.policy == domain.NoShowNone {
				want = domain.BookingStatusApproved
			}
			if got := f.booking(t).Status; got != want {
				t.Errorf("Expected booking %s, got %s", want, got)
			}
		})
	}
}

func TestScenarioBOneFreePerMonth(t *testing.T) {
	f := newFixture(t, domain.NoShowOneFree, FailOpenAttended, testutil.Slots(march2, 4, 24*time.Hour))

	first := f.markAt(t, 0, domain.SessionStatusNoShow)
	if first.Booking.CompletedSessions != 0 || first.Session.Billable {
		t.Errorf("Expected first no-show to be free, got completed=%d billable=%v", first.Booking.CompletedSessions, first.Session.Billable)
	}

	f.markAt(t, 1, domain.SessionStatusAttended)

	second := f.markAt(t, 2, domain.SessionStatusNoShow)
	if second.Booking.CompletedSessions != 2 || !second.Session.Billable {
		t.Errorf("Expected second no-show to be deducted, got completed=%d billable=%v", second.Booking.CompletedSessions, second.Session.Billable)
	}
}

func TestResolveNoShow(t *testing.T) {
	f := newFixture(t, domain.NoShowNone, FailOpenAttended, testutil.Slots(march2, 2, 24*time.Hour))
	f.markAt(t, 0, domain.SessionStatusAttended)
	f.markAt(t, 1, domain.SessionStatusNoShow)

	if b := f.booking(t); b.Status != domain.BookingStatusApproved {
		t.Fatalf("Expected booking to wait for resolution, got %s", b.Status)
	}

	if _, err := f.service.ResolveNoShow(context.Background(), f.tutor, f.session(1).ID, &ResolveRequest{Billable: true}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Expected ErrForbidden for the tutor, got %v", err)
	}
	if _, err := f.service.ResolveNoShow(context.Background(), f.admin, f.session(0).ID, &ResolveRequest{}); !errors.Is(err, ErrNotPending) {
		t.Errorf("Expected ErrNotPending for an attended session, got %v", err)
	}

	res, err := f.service.ResolveNoShow(context.Background(), f.admin, f.session(1).ID, &ResolveRequest{Billable: true})
	if err != nil {
		t.Fatalf("ResolveNoShow: %v", err)
	}
	if res.Session.PendingResolution || !res.Session.Billable || !res.Session.Consumed {
		t.Errorf("Unexpected resolved session %+v", res.Session)
	}
	if res.Booking.CompletedSessions != 2 || res.Booking.Status != domain.BookingStatusCompleted {
		t.Errorf("Expected completed booking with 2 sessions, got %s/%d", res.Booking.Status, res.Booking.CompletedSessions)
	}
}

func TestBookingCompletesWhenEverySessionIsFinal(t *testing.T) {
	f := newFixture(t, domain.NoShowFullDeduction, FailOpenAttended, testutil.Slots(march2, 2, 24*time.Hour))

	if res := f.markAt(t, 0, domain.SessionStatusAttended); res.Booking.Status != domain.BookingStatusApproved {
		t.Fatalf("Expected booking to stay APPROVED, got %s", res.Booking.Status)
	}
	res := f.markAt(t, 1, domain.SessionStatusAttended)
	if res.Booking.Status != domain.BookingStatusCompleted || res.Booking.CompletedSessions != 2 {
		t.Fatalf("Expected COMPLETED with 2 sessions, got %s/%d", res.Booking.Status, res.Booking.CompletedSessions)
	}

	var entries []*domain.AuditEntry
	_ = f.store.WithTx(context.Background(), func(tx store.Tx) error {
		entries, _ = tx.ListAudit(context.Background(), domain.EntityBooking, f.seeded.Booking.ID)
		return nil
	})
	if len(entries) != 1 || entries[0].Action != "complete" {
		t.Errorf("Expected one completion audit entry, got %d", len(entries))
	}
}

func TestCorrect(t *testing.T) {
	f := newFixture(t, domain.NoShowOneFree, FailOpenAttended, testutil.Slots(march2, 3, 24*time.Hour))
	f.markAt(t, 0, domain.SessionStatusNoShow)

	res, err := f.service.Correct(context.Background(), f.tutor, f.session(0).ID, &MarkRequest{Status: domain.SessionStatusAttended})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Session.Status != domain.SessionStatusAttended || res.Booking.CompletedSessions != 1 {
		t.Errorf("Expected ATTENDED with 1 completed, got %s/%d", res.Session.Status, res.Booking.CompletedSessions)
	}

	res, err = f.service.Correct(context.Background(), f.tutor, f.session(0).ID, &MarkRequest{Status: domain.SessionStatusNoShow})
	if err != nil {
		t.Fatalf("Correct back: %v", err)
	}
	if res.Booking.CompletedSessions != 0 || res.Session.Billable {
		t.Errorf("Expected the free no-show restored, got completed=%d billable=%v", res.Booking.CompletedSessions, res.Session.Billable)
	}

	if _, err := f.service.Correct(context.Background(), f.tutor, f.session(1).ID, &MarkRequest{Status: domain.SessionStatusNoShow}); !errors.Is(err, ErrNotMarked) {
		t.Errorf("Expected ErrNotMarked, got %v", err)
	}

	f.clock.Set(time.Date(2026, 3, 4, 0, 0, 0, 0, testutil.Seoul))
	if _, err := f.service.Correct(context.Background(), f.tutor, f.session(0).ID, &MarkRequest{Status: domain.SessionStatusAttended}); !errors.Is(err, ErrMarkingWindowClosed) {
		t.Errorf("Expected ErrMarkingWindowClosed, got %v", err)
	}
}

func TestCorrectKeepsReviewedBookingCompleted(t *testing.T) {
	f := newFixture(t, domain.NoShowOneFree, FailOpenAttended, testutil.Slots(march2, 3, 24*time.Hour))
	f.markAt(t, 0, domain.SessionStatusAttended)

	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateReview(context.Background(), &domain.Review{
			BookingID:     f.seeded.Booking.ID,
			TutorID:       f.tutor.ID,
			StudentID:     f.student.ID,
			OverallRating: 5,
			Status:        domain.ReviewStatusActive,
		})
	})
	if err != nil {
		t.Fatalf("create review: %v", err)
	}

	// the free no-show would release the only completed session
	_, err = f.service.Correct(context.Background(), f.tutor, f.session(0).ID, &MarkRequest{Status: domain.SessionStatusNoShow})
	if !errors.Is(err, ErrReviewedBooking) {
		t.Fatalf("Expected ErrReviewedBooking, got %v", err)
	}
	if got := f.booking(t).CompletedSessions; got != 1 {
		t.Errorf("Expected completed sessions to stay 1, got %d", got)
	}
	if sess := testutil.Session(t, f.store, f.session(0).ID); sess.Status != domain.SessionStatusAttended {
		t.Errorf("Expected the session to stay ATTENDED, got %s", sess.Status)
	}

	// with another completed session the correction goes through
	f.markAt(t, 1, domain.SessionStatusAttended)
	res, err := f.service.Correct(context.Background(), f.tutor, f.session(0).ID, &MarkRequest{Status: domain.SessionStatusNoShow})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Booking.CompletedSessions != 1 {
		t.Errorf("Expected 1 completed session, got %d", res.Booking.CompletedSessions)
	}
}

func TestSweep(t *testing.T) {
	tests := []struct {
		name          string
		rule          UnmarkedRule
		wantStatus    domain.SessionStatus
		wantCompleted int
	}{
		{"fail open", FailOpenAttended, domain.SessionStatusAttended, 1},
		// the no-show goes through the tutor's ONE_FREE policy
		{"fail closed", FailClosedNoShow, domain.SessionStatusNoShow, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.NoShowOneFree, tt.rule, testutil.Slots(march2, 3, 24*time.Hour))

			f.clock.Set(time.Date(2026, 3, 3, 23, 58, 0, 0, testutil.Seoul))
			report, err := f.service.Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if report.Marked != 0 {
				t.Fatalf("Expected nothing marked before the deadline, got %+v", report)
			}

			f.clock.Set(time.Date(2026, 3, 4, 0, 0, 0, 0, testutil.Seoul))
			report, err = f.service.Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if report.Marked != 1 || report.Failed != 0 {
				t.Fatalf("Expected one session marked, got %+v", report)
			}

			sess := testutil.Session(t, f.store, f.session(0).ID)
			if sess.Status != tt.wantStatus || !sess.AutoMarked || sess.MarkedBy != nil {
				t.Errorf("Unexpected swept session %+v", sess)
			}
			if got := f.booking(t).CompletedSessions; got != tt.wantCompleted {
				t.Errorf("Expected %d completed, got %d", tt.wantCompleted, got)
			}
			if next := testutil.Session(t, f.store, f.session(1).ID); next.Status != domain.SessionStatusScheduled {
				t.Errorf("Expected the next session untouched, got %s", next.Status)
			}

			report, _ = f.service.Sweep(context.Background())
			if report.Marked != 0 {
				t.Errorf("Expected a second sweep to mark nothing, got %+v", report)
			}
		})
	}
}

func TestSweepSkipsCancelledBookings(t *testing.T) {
	f := newFixture(t, domain.NoShowFullDeduction, FailOpenAttended, testutil.Slots(march2, 1, 24*time.Hour))
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		b, _ := tx.LockBooking(context.Background(), f.seeded.Booking.ID)
		b.Status = domain.BookingStatusCancelled
		return tx.UpdateBooking(context.Background(), b)
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	f.clock.Set(time.Date(2026, 3, 10, 0, 0, 0, 0, testutil.Seoul))
	report, err := f.service.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Marked != 0 {
		t.Errorf("Expected nothing marked, got %+v", report)
	}
}

func TestRemindUnmarked(t *testing.T) {
	f := newFixture(t, domain.NoShowFullDeduction, FailOpenAttended, testutil.Slots(march2, 3, 24*time.Hour))

	f.clock.Set(march2.Add(-time.Hour))
	if n, _ := f.service.RemindUnmarked(context.Background()); n != 0 {
		t.Errorf("Expected no reminder before the session, got %d", n)
	}

	f.clock.Set(march2.Add(2 * time.Hour))
	n, err := f.service.RemindUnmarked(context.Background())
	if err != nil {
		t.Fatalf("RemindUnmarked: %v", err)
	}
	if n != 1 || f.pub.Count(notification.EventAttendanceReminderDue) != 1 {
		t.Fatalf("Expected one reminder, got %d", n)
	}
	evt := f.pub.Events()[0]
	if evt.RecipientID != f.tutor.ID || evt.SessionID == nil || *evt.SessionID != f.session(0).ID {
		t.Errorf("Unexpected reminder %+v", evt)
	}

	f.markAt(t, 0, domain.SessionStatusAttended)
	if n, _ := f.service.RemindUnmarked(context.Background()); n != 0 {
		t.Errorf("Expected no reminder after marking, got %d", n)
	}
}

func TestRemindUpcoming(t *testing.T) {
	f := newFixture(t, domain.NoShowFullDeduction, FailOpenAttended, testutil.Slots(march2, 3, 24*time.Hour))

	// the morning before the first session
	f.clock.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, testutil.Seoul))
	n, err := f.service.RemindUpcoming(context.Background())
	if err != nil {
		t.Fatalf("RemindUpcoming: %v", err)
	}
	if n != 1 || f.pub.Count(notification.EventSessionReminderDue) != 1 {
		t.Fatalf("Expected one reminder for tomorrow, got %d", n)
	}
	evt := f.pub.Events()[0]
	if evt.RecipientID != f.student.ID || evt.SessionID == nil || *evt.SessionID != f.session(0).ID {
		t.Errorf("Expected the student reminded of the first session, got %+v", evt)
	}

	// a day with no session the next day
	f.clock.Set(time.Date(2026, 2, 27, 9, 0, 0, 0, testutil.Seoul))
	if n, _ := f.service.RemindUpcoming(context.Background()); n != 0 {
		t.Errorf("Expected no reminder two days ahead, got %d", n)
	}

	// late evening still picks the whole next local day
	f.clock.Set(time.Date(2026, 3, 3, 23, 50, 0, 0, testutil.Seoul))
	if n, _ := f.service.RemindUpcoming(context.Background()); n != 1 {
		t.Errorf("Expected the last session reminded, got %d", n)
	}
}

func TestCompletedSessionsStayInBounds(t *testing.T) {
	f := newFixture(t, domain.NoShowFullDeduction, FailOpenAttended, testutil.Slots(march2, 4, 24*time.Hour))
	statuses := []domain.SessionStatus{
		domain.SessionStatusAttended, domain.SessionStatusNoShow,
		domain.SessionStatusAttended, domain.SessionStatusNoShow,
	}

	for i, status := range statuses {
		f.markAt(t, i, status)
		// flip each mark once and back again
		for _, s := range []domain.SessionStatus{statuses[(i+1)%2], status} {
			if _, err := f.service.Correct(context.Background(), f.tutor, f.session(i).ID, &MarkRequest{Status: s}); err != nil {
				if !errors.Is(err, apperr.ErrStateConflict) {
					t.Fatalf("Correct: %v", err)
				}
			}
		}
		b := f.booking(t)
		if b.CompletedSessions < 0 || b.CompletedSessions > b.TotalSessions {
			t.Fatalf("completed sessions out of bounds: %d/%d", b.CompletedSessions, b.TotalSessions)
		}
	}
	if b := f.booking(t); b.CompletedSessions != 4 || b.Status != domain.BookingStatusCompleted {
		t.Errorf("Expected COMPLETED 4/4, got %s %d/4", b.Status, b.CompletedSessions)
	}
}
