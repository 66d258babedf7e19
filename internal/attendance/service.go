package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zbnerd/TutorFlow/internal/attendance/noshow"
	"github.com/zbnerd/TutorFlow/internal/audit"
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/notification"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

// Common errors
var (
	ErrSessionNotFound     = apperr.NotFound("NOT_FOUND", "session not found")
	ErrAlreadyMarked       = apperr.Conflict("ALREADY_MARKED", "session attendance was already marked")
	ErrSessionNotYetDue    = apperr.Validation("SESSION_NOT_YET_DUE", "session cannot be marked before it starts")
	ErrMarkingWindowClosed = apperr.Validation("MARKING_WINDOW_CLOSED", "marking deadline has passed")
	ErrNotMarked           = apperr.ErrStateConflict.WithMessage("session has not been marked")
	ErrNotPending          = apperr.ErrStateConflict.WithMessage("session is not awaiting resolution")
	ErrNotTutor            = apperr.ErrForbidden.WithMessage("only the tutor of the booking can mark attendance")
	ErrReviewedBooking     = apperr.Conflict("REVIEWED_BOOKING", "a reviewed booking must keep at least one completed session")
)

const sweepBatch = 500

var tracer = otel.Tracer("github.com/zbnerd/TutorFlow/internal/attendance")

// Settings configures the attendance engine
type Settings struct {
	Location *time.Location

	// EarlyWindow is how long before the start a session may be marked
	EarlyWindow time.Duration
	Unmarked    UnmarkedRule
}

// Service records attendance and applies no-show policies
type Service struct {
	store    store.Store
	policies *noshow.Factory
	notifier *notification.Service
	settings Settings
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a new attendance service
func NewService(st store.Store, notifier *notification.Service, settings Settings, log *slog.Logger) *Service {
	if settings.Unmarked == "" {
		settings.Unmarked = FailOpenAttended
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Service{
		store:    st,
		policies: noshow.NewFactory(),
		notifier: notifier,
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

// Deadline returns the last moment sess can be marked by hand
func (s *Service) Deadline(sess *domain.Session) time.Time {
	return MarkingDeadline(sess.StartsAt, s.settings.Location)
}

// Mark records the tutor's attendance mark. A session is marked exactly once.
func (s *Service) Mark(ctx context.Context, actor domain.Actor, sessionID int64, req *MarkRequest) (*MarkResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var res *MarkResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, sess, err := s.lock(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if b.TutorID != actor.ID {
			if !b.IsParticipant(actor.ID) {
				return ErrSessionNotFound
			}
			return ErrNotTutor
		}
		if b.Status != domain.BookingStatusApproved {
			return apperr.ErrStateConflict.WithCurrent(b.Status)
		}
		if sess.Status != domain.SessionStatusScheduled {
			return ErrAlreadyMarked.WithCurrent(sess.Status)
		}
		if err := s.checkWindow(sess); err != nil {
			return err
		}

		old := sess.Clone()
		if err := s.apply(ctx, tx, b, sess, req.Status); err != nil {
			return err
		}
		stampManual(sess, s.now(), actor.ID)
		res, err = s.save(ctx, tx, b, sess, old, "mark", audit.Actor(actor.ID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Correct re-marks a hand-marked session before its deadline while the booking is open.
// The effects of the previous mark are reverted first.
func (s *Service) Correct(ctx context.Context, actor domain.Actor, sessionID int64, req *MarkRequest) (*MarkResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var res *MarkResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, sess, err := s.lock(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if b.TutorID != actor.ID {
			if !b.IsParticipant(actor.ID) {
				return ErrSessionNotFound
			}
			return ErrNotTutor
		}
		if b.Status != domain.BookingStatusApproved {
			return apperr.ErrStateConflict.WithCurrent(b.Status)
		}
		switch {
		case sess.Status == domain.SessionStatusScheduled:
			return ErrNotMarked.WithCurrent(sess.Status)
		case sess.Status == domain.SessionStatusCancelled:
			return apperr.ErrStateConflict.WithCurrent(sess.Status)
		case sess.AutoMarked || s.now().After(s.Deadline(sess)):
			return ErrMarkingWindowClosed
		}

		if sess.Status == req.Status {
			res = &MarkResult{Session: sess, Booking: b}
			return nil
		}

		old := sess.Clone()
		if err := revert(b, sess); err != nil {
			return err
		}
		if err := s.apply(ctx, tx, b, sess, req.Status); err != nil {
			return err
		}
		if err := keepReviewBacked(ctx, tx, b, old); err != nil {
			return err
		}
		stampManual(sess, s.now(), actor.ID)
		res, err = s.save(ctx, tx, b, sess, old, "correct", audit.Actor(actor.ID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ResolveNoShow settles a no-show left to an administrator by the NONE policy
func (s *Service) ResolveNoShow(ctx context.Context, actor domain.Actor, sessionID int64, req *ResolveRequest) (*MarkResult, error) {
	if !actor.IsAdmin() {
		return nil, apperr.ErrForbidden.WithMessage("only administrators can resolve no-shows")
	}

	var res *MarkResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, sess, err := s.lock(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingStatusApproved {
			return apperr.ErrStateConflict.WithCurrent(b.Status)
		}
		if sess.Status != domain.SessionStatusNoShow || !sess.PendingResolution {
			return ErrNotPending.WithCurrent(sess.Status)
		}

		old := sess.Clone()
		if err := setOutcome(b, sess, noshow.Resolve(req.Billable)); err != nil {
			return err
		}
		res, err = s.save(ctx, tx, b, sess, old, "resolve", audit.Actor(actor.ID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Get returns a session visible to actor
func (s *Service) Get(ctx context.Context, actor domain.Actor, sessionID int64) (*domain.Session, error) {
	var sess *domain.Session
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if sess, err = tx.GetSession(ctx, sessionID); err != nil {
			return err
		}
		if sess == nil {
			return ErrSessionNotFound
		}
		b, err := tx.GetBooking(ctx, sess.BookingID)
		if err != nil {
			return err
		}
		if b == nil || (!b.IsParticipant(actor.ID) && !actor.IsAdmin()) {
			return ErrSessionNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Sweep applies the unmarked-session rule to every SCHEDULED session whose deadline
// has passed. Each session is its own transaction; one failure does not stop the rest.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "attendance.sweep")
	defer span.End()

	now := s.now()
	// a session on the previous local day is overdue only after 23:59 today
	cutoff := startOfDay(now, s.settings.Location, 0)

	var report SweepReport
	var candidates []*domain.Session
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		candidates, err = tx.ListScheduledSessions(ctx, time.Time{}, cutoff, sweepBatch)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	for _, c := range candidates {
		if !now.After(s.Deadline(c)) {
			continue
		}
		report.Scanned++
		if err := s.autoMark(ctx, c.ID, now); err != nil {
			if errors.Is(err, ErrAlreadyMarked) || errors.Is(err, apperr.ErrStateConflict) {
				continue
			}
			report.Failed++
			s.log.ErrorContext(ctx, "failed to auto-mark session", "session_id", c.ID, "error", err)
			continue
		}
		report.Marked++
	}

	span.SetAttributes(
		attribute.Int("sessions.scanned", report.Scanned),
		attribute.Int("sessions.marked", report.Marked),
		attribute.Int("sessions.failed", report.Failed),
		attribute.String("rule", string(s.settings.Unmarked)),
	)
	s.log.InfoContext(ctx, "attendance sweep finished",
		"scanned", report.Scanned, "marked", report.Marked, "failed", report.Failed, "rule", s.settings.Unmarked)
	return report, nil
}

func (s *Service) autoMark(ctx context.Context, sessionID int64, now time.Time) error {
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		b, sess, err := s.lock(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingStatusApproved {
			return apperr.ErrStateConflict.WithCurrent(b.Status)
		}
		if sess.Status != domain.SessionStatusScheduled {
			return ErrAlreadyMarked.WithCurrent(sess.Status)
		}

		old := sess.Clone()
		if err := s.apply(ctx, tx, b, sess, s.settings.Unmarked.Status()); err != nil {
			return err
		}
		sess.MarkedAt = &now
		sess.MarkedBy = nil
		sess.AutoMarked = true
		_, err = s.save(ctx, tx, b, sess, old, "auto_mark", nil)
		return err
	})
}

// RemindUnmarked notifies tutors of sessions that started, are still unmarked and
// can still be marked. It returns the number of reminders sent.
func (s *Service) RemindUnmarked(ctx context.Context) (int, error) {
	now := s.now()
	type due struct {
		tutorID int64
		session *domain.Session
	}
	var reminders []due
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		sessions, err := tx.ListScheduledSessions(ctx, startOfDay(now, s.settings.Location, -1), now, sweepBatch)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			if now.After(s.Deadline(sess)) {
				continue
			}
			b, err := tx.GetBooking(ctx, sess.BookingID)
			if err != nil {
				return err
			}
			if b == nil {
				continue
			}
			reminders = append(reminders, due{tutorID: b.TutorID, session: sess})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, r := range reminders {
		s.notifier.NotifyAttendanceReminder(ctx, r.tutorID, r.session)
	}
	return len(reminders), nil
}

// RemindUpcoming tells students about their sessions starting tomorrow on the platform
// calendar. It returns the number of reminders sent.
func (s *Service) RemindUpcoming(ctx context.Context) (int, error) {
	now := s.now()
	from := startOfDay(now, s.settings.Location, 1)
	to := startOfDay(now, s.settings.Location, 2)

	type due struct {
		studentID int64
		session   *domain.Session
	}
	var reminders []due
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		sessions, err := tx.ListScheduledSessions(ctx, from, to, sweepBatch)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			b, err := tx.GetBooking(ctx, sess.BookingID)
			if err != nil {
				return err
			}
			if b == nil {
				continue
			}
			reminders = append(reminders, due{studentID: b.StudentID, session: sess})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, r := range reminders {
		s.notifier.NotifySessionReminder(ctx, r.studentID, r.session)
	}
	s.log.InfoContext(ctx, "session reminders sent", "count", len(reminders), "day", from.Format(time.DateOnly))
	return len(reminders), nil
}

// lock takes the booking row before the session row, like every other writer
func (s *Service) lock(ctx context.Context, tx store.Tx, sessionID int64) (*domain.Booking, *domain.Session, error) {
	found, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if found == nil {
		return nil, nil, ErrSessionNotFound
	}
	b, err := tx.LockBooking(ctx, found.BookingID)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, apperr.ErrInvariant.WithMessage("session %d has no booking", sessionID)
	}
	sess, err := tx.LockSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return b, sess, nil
}

func (s *Service) checkWindow(sess *domain.Session) error {
	now := s.now()
	if now.Before(sess.StartsAt.Add(-s.settings.EarlyWindow)) {
		return ErrSessionNotYetDue
	}
	if now.After(s.Deadline(sess)) {
		return ErrMarkingWindowClosed
	}
	return nil
}

// apply sets status on a SCHEDULED session and its effect on the booking
func (s *Service) apply(ctx context.Context, tx store.Tx, b *domain.Booking, sess *domain.Session, status domain.SessionStatus) error {
	sess.Status = status
	if status == domain.SessionStatusAttended {
		return setOutcome(b, sess, noshow.Outcome{Consumed: true, Billable: true})
	}

	profile, err := tx.GetTutorProfile(ctx, b.TutorID)
	if err != nil {
		return err
	}
	if profile == nil {
		return apperr.ErrInvariant.WithMessage("tutor %d of booking %d has no profile", b.TutorID, b.ID)
	}
	policy, err := s.policies.Create(profile.NoShowPolicy)
	if err != nil {
		return apperr.ErrInvariant.Wrap(err)
	}

	var in noshow.Input
	if policy.NeedsHistory() {
		from, to := domain.YearMonthOf(sess.StartsAt, s.settings.Location).Range(s.settings.Location)
		if in.PriorNoShows, err = tx.CountNoShows(ctx, b.TutorID, b.StudentID, from, to, sess.ID); err != nil {
			return err
		}
	}
	return setOutcome(b, sess, policy.Apply(in))
}

func setOutcome(b *domain.Booking, sess *domain.Session, out noshow.Outcome) error {
	if out.Consumed && !sess.Consumed {
		if err := b.ConsumeSession(); err != nil {
			return apperr.ErrInvariant.Wrap(err)
		}
	}
	sess.Consumed = out.Consumed
	sess.Billable = out.Billable
	sess.PendingResolution = out.PendingResolution
	return nil
}

// revert undoes a previous mark so the session can be marked again
func revert(b *domain.Booking, sess *domain.Session) error {
	if sess.Consumed {
		if err := b.ReleaseSession(); err != nil {
			return apperr.ErrInvariant.Wrap(err)
		}
	}
	sess.Status = domain.SessionStatusScheduled
	sess.Consumed = false
	sess.Billable = false
	sess.PendingResolution = false
	return nil
}

// keepReviewBacked refuses a correction that leaves a reviewed booking without a completed session
func keepReviewBacked(ctx context.Context, tx store.Tx, b *domain.Booking, old *domain.Session) error {
	if b.CompletedSessions > 0 {
		return nil
	}
	rv, err := tx.GetReviewByBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	if rv != nil {
		return ErrReviewedBooking.WithCurrent(old.Status)
	}
	return nil
}

func stampManual(sess *domain.Session, now time.Time, actorID int64) {
	sess.MarkedAt = &now
	sess.MarkedBy = audit.Actor(actorID)
	sess.AutoMarked = false
}

// save writes the session and the booking, completing the booking once every session is final
func (s *Service) save(ctx context.Context, tx store.Tx, b *domain.Booking, sess, old *domain.Session, action string, actorID *int64) (*MarkResult, error) {
	if err := tx.UpdateSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, apperr.ErrStale.Wrap(err)
		}
		return nil, err
	}
	if err := audit.Record(ctx, tx, domain.EntitySession, sess.ID, action, actorID, old, sess); err != nil {
		return nil, err
	}

	sessions, err := tx.ListSessionsByBooking(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	oldStatus := b.Status
	if b.ShouldComplete(sessions) {
		if err := b.Transition(domain.BookingStatusCompleted); err != nil {
			return nil, apperr.ErrInvariant.Wrap(err)
		}
	}

	if err := tx.UpdateBooking(ctx, b); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, apperr.ErrStale.Wrap(err)
		}
		return nil, err
	}
	if b.Status != oldStatus {
		payload := map[string]any{"status": b.Status, "completed_sessions": b.CompletedSessions}
		if err := audit.Record(ctx, tx, domain.EntityBooking, b.ID, "complete", actorID, map[string]any{"status": oldStatus}, payload); err != nil {
			return nil, err
		}
		s.log.InfoContext(ctx, "booking completed", "booking_id", b.ID, "completed_sessions", b.CompletedSessions)
	}
	return &MarkResult{Session: sess, Booking: b}, nil
}
