// Package memory is an in-process Store used by tests and local runs.
//
// Transactions are serialized by one mutex and applied copy-on-write: fn works on a deep
// copy of the state that replaces the live state only when fn returns nil.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
)

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock overrides the clock used for created/updated timestamps
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type state struct {
	seq         map[string]int64
	users       map[int64]*domain.User
	tutors      map[int64]*domain.TutorProfile
	slots       map[int64]*domain.AvailableSlot
	bookings    map[int64]*domain.Booking
	sessions    map[int64]*domain.Session
	payments    map[int64]*domain.Payment
	refunds     map[int64]*domain.Refund
	settlements map[int64]*domain.Settlement
	reviews     map[int64]*domain.Review
	reports     map[int64]*domain.ReviewReport
	ratings     map[int64]*domain.TutorRating
	audit       []*domain.AuditEntry
	events      map[string]string
}

func newState() *state {
	return &state{
		seq:         map[string]int64{},
		users:       map[int64]*domain.User{},
		tutors:      map[int64]*domain.TutorProfile{},
		slots:       map[int64]*domain.AvailableSlot{},
		bookings:    map[int64]*domain.Booking{},
		sessions:    map[int64]*domain.Session{},
		payments:    map[int64]*domain.Payment{},
		refunds:     map[int64]*domain.Refund{},
		settlements: map[int64]*domain.Settlement{},
		reviews:     map[int64]*domain.Review{},
		reports:     map[int64]*domain.ReviewReport{},
		ratings:     map[int64]*domain.TutorRating{},
		events:      map[string]string{},
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.seq {
		cp.seq[k] = v
	}
	for k, v := range s.users {
		u := *v
		cp.users[k] = &u
	}
	for k, v := range s.tutors {
		p := *v
		cp.tutors[k] = &p
	}
	for k, v := range s.slots {
		a := *v
		cp.slots[k] = &a
	}
	for k, v := range s.bookings {
		cp.bookings[k] = v.Clone()
	}
	for k, v := range s.sessions {
		cp.sessions[k] = v.Clone()
	}
	for k, v := range s.payments {
		cp.payments[k] = v.Clone()
	}
	for k, v := range s.refunds {
		cp.refunds[k] = v.Clone()
	}
	for k, v := range s.settlements {
		cp.settlements[k] = v.Clone()
	}
	for k, v := range s.reviews {
		cp.reviews[k] = v.Clone()
	}
	for k, v := range s.reports {
		cp.reports[k] = v.Clone()
	}
	for k, v := range s.ratings {
		r := *v
		cp.ratings[k] = &r
	}
	// audit entries are never mutated
	cp.audit = append(cp.audit, s.audit...)
	for k, v := range s.events {
		cp.events[k] = v
	}
	return cp
}

func (s *state) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

type tx struct {
	st  *state
	now func() time.Time
}

var _ store.Tx = (*tx)(nil)

// Users

func (t *tx) CreateUser(_ context.Context, u *domain.User) error {
	u.ID = t.st.nextID("users")
	u.CreatedAt = t.now()
	cp := *u
	t.st.users[u.ID] = &cp
	return nil
}

func (t *tx) GetUser(_ context.Context, id int64) (*domain.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (t *tx) UpsertTutorProfile(_ context.Context, p *domain.TutorProfile) error {
	p.UpdatedAt = t.now()
	cp := *p
	t.st.tutors[p.UserID] = &cp
	return nil
}

func (t *tx) GetTutorProfile(_ context.Context, userID int64) (*domain.TutorProfile, error) {
	p, ok := t.st.tutors[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (t *tx) LockTutorProfile(ctx context.Context, userID int64) (*domain.TutorProfile, error) {
	return t.GetTutorProfile(ctx, userID)
}

// Availability

func (t *tx) CreateAvailableSlot(_ context.Context, a *domain.AvailableSlot) error {
	a.ID = t.st.nextID("available_slots")
	a.CreatedAt = t.now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	t.st.slots[a.ID] = &cp
	return nil
}

func (t *tx) GetAvailableSlot(_ context.Context, id int64) (*domain.AvailableSlot, error) {
	a, ok := t.st.slots[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (t *tx) UpdateAvailableSlot(_ context.Context, a *domain.AvailableSlot) error {
	if _, ok := t.st.slots[a.ID]; !ok {
		return store.ErrStaleState
	}
	a.UpdatedAt = t.now()
	cp := *a
	t.st.slots[a.ID] = &cp
	return nil
}

func (t *tx) DeleteAvailableSlot(_ context.Context, id int64) error {
	if _, ok := t.st.slots[id]; !ok {
		return store.ErrStaleState
	}
	delete(t.st.slots, id)
	return nil
}

func (t *tx) ListAvailableSlots(_ context.Context, tutorID int64, activeOnly bool) ([]*domain.AvailableSlot, error) {
	var out []*domain.AvailableSlot
	for _, a := range t.st.slots {
		if a.TutorID != tutorID || (activeOnly && !a.IsActive) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Bookings

func (t *tx) CreateBooking(_ context.Context, b *domain.Booking) error {
	now := t.now()
	b.ID = t.st.nextID("bookings")
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	t.st.bookings[b.ID] = b.Clone()
	return nil
}

func (t *tx) GetBooking(_ context.Context, id int64) (*domain.Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (t *tx) LockBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	return t.GetBooking(ctx, id)
}

func (t *tx) UpdateBooking(_ context.Context, b *domain.Booking) error {
	cur, ok := t.st.bookings[b.ID]
	if !ok || cur.Version != b.Version {
		return store.ErrStaleState
	}
	b.Version++
	b.UpdatedAt = t.now()
	t.st.bookings[b.ID] = b.Clone()
	return nil
}

func (t *tx) ListBookings(_ context.Context, f store.BookingFilter) ([]*domain.Booking, int, error) {
	var out []*domain.Booking
	for _, b := range t.st.bookings {
		if f.TutorID != 0 && b.TutorID != f.TutorID {
			continue
		}
		if f.StudentID != 0 && b.StudentID != f.StudentID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	return paginate(out, f.Limit, f.Offset), total, nil
}

func (t *tx) ListActiveSlots(_ context.Context, tutorID int64, from, to time.Time) ([]domain.Slot, error) {
	window := domain.Slot{StartsAt: from, EndsAt: to}
	var out []domain.Slot
	for _, b := range t.st.bookings {
		if b.TutorID != tutorID {
			continue
		}
		if b.Status != domain.BookingStatusPending && b.Status != domain.BookingStatusApproved {
			continue
		}
		for _, s := range b.Slots {
			if s.Overlaps(window) {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// Sessions

func (t *tx) CreateSessions(_ context.Context, sessions []*domain.Session) error {
	seen := map[int64]map[int64]bool{}
	for _, s := range t.st.sessions {
		if seen[s.BookingID] == nil {
			seen[s.BookingID] = map[int64]bool{}
		}
		seen[s.BookingID][s.StartsAt.UnixNano()] = true
	}
	now := t.now()
	for _, s := range sessions {
		if seen[s.BookingID][s.StartsAt.UnixNano()] {
			return store.ErrDuplicate
		}
		if seen[s.BookingID] == nil {
			seen[s.BookingID] = map[int64]bool{}
		}
		seen[s.BookingID][s.StartsAt.UnixNano()] = true
		s.ID = t.st.nextID("sessions")
		s.CreatedAt = now
		t.st.sessions[s.ID] = s.Clone()
	}
	return nil
}

func (t *tx) GetSession(_ context.Context, id int64) (*domain.Session, error) {
	s, ok := t.st.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (t *tx) LockSession(ctx context.Context, id int64) (*domain.Session, error) {
	return t.GetSession(ctx, id)
}

func (t *tx) UpdateSession(_ context.Context, s *domain.Session) error {
	if _, ok := t.st.sessions[s.ID]; !ok {
		return store.ErrStaleState
	}
	t.st.sessions[s.ID] = s.Clone()
	return nil
}

func (t *tx) ListSessionsByBooking(_ context.Context, bookingID int64) ([]*domain.Session, error) {
	return t.st.bookingSessions(bookingID), nil
}

func (t *tx) CountNoShows(_ context.Context, tutorID, studentID int64, from, to time.Time, excludeSessionID int64) (int, error) {
	n := 0
	for _, s := range t.st.sessions {
		if s.ID == excludeSessionID || s.Status != domain.SessionStatusNoShow {
			continue
		}
		if s.StartsAt.Before(from) || !s.StartsAt.Before(to) {
			continue
		}
		b := t.st.bookings[s.BookingID]
		if b == nil || b.TutorID != tutorID || b.StudentID != studentID {
			continue
		}
		n++
	}
	return n, nil
}

func (t *tx) ListScheduledSessions(_ context.Context, from, to time.Time, limit int) ([]*domain.Session, error) {
	var out []*domain.Session
	for _, s := range t.st.sessions {
		if s.Status != domain.SessionStatusScheduled {
			continue
		}
		if s.StartsAt.Before(from) || !s.StartsAt.Before(to) {
			continue
		}
		if b := t.st.bookings[s.BookingID]; b == nil || b.Status != domain.BookingStatusApproved {
			continue
		}
		out = append(out, s.Clone())
	}
	sortSessions(out)
	return paginate(out, limit, 0), nil
}

func (t *tx) ListBillableSessions(_ context.Context, tutorID int64, from, to time.Time) ([]domain.BillableSession, error) {
	var out []domain.BillableSession
	for _, b := range t.st.bookings {
		if b.TutorID != tutorID {
			continue
		}
		p := t.st.paymentOf(b.ID)
		if p == nil || !p.IsCaptured() {
			continue
		}
		for i, s := range t.st.bookingSessions(b.ID) {
			if s.StartsAt.Before(from) || !s.StartsAt.Before(to) {
				continue
			}
			if s.Status != domain.SessionStatusAttended && !s.Billable {
				continue
			}
			out = append(out, domain.BillableSession{
				SessionID:     s.ID,
				BookingID:     b.ID,
				StartsAt:      s.StartsAt,
				PaymentAmount: p.Amount,
				TotalSessions: b.TotalSessions,
				Ordinal:       i + 1,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (t *tx) ListTutorsWithBillableSessions(ctx context.Context, from, to time.Time) ([]int64, error) {
	seen := map[int64]bool{}
	var ids []int64
	for _, b := range t.st.bookings {
		if seen[b.TutorID] {
			continue
		}
		rows, _ := t.ListBillableSessions(ctx, b.TutorID, from, to)
		if len(rows) > 0 {
			seen[b.TutorID] = true
			ids = append(ids, b.TutorID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *state) bookingSessions(bookingID int64) []*domain.Session {
	var out []*domain.Session
	for _, sess := range s.sessions {
		if sess.BookingID == bookingID {
			out = append(out, sess.Clone())
		}
	}
	sortSessions(out)
	return out
}

func (s *state) paymentOf(bookingID int64) *domain.Payment {
	for _, p := range s.payments {
		if p.BookingID == bookingID {
			return p
		}
	}
	return nil
}

func sortSessions(s []*domain.Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].StartsAt.Equal(s[j].StartsAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].StartsAt.Before(s[j].StartsAt)
	})
}

// Payments

func (t *tx) CreatePayment(_ context.Context, p *domain.Payment) error {
	for _, existing := range t.st.payments {
		if existing.BookingID == p.BookingID || existing.OrderID == p.OrderID {
			return store.ErrDuplicate
		}
	}
	now := t.now()
	p.ID = t.st.nextID("payments")
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	t.st.payments[p.ID] = p.Clone()
	return nil
}

func (t *tx) GetPaymentByBooking(_ context.Context, bookingID int64) (*domain.Payment, error) {
	if p := t.st.paymentOf(bookingID); p != nil {
		return p.Clone(), nil
	}
	return nil, nil
}

func (t *tx) GetPaymentByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	for _, p := range t.st.payments {
		if p.OrderID == orderID {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

func (t *tx) LockPayment(_ context.Context, id int64) (*domain.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (t *tx) UpdatePayment(_ context.Context, p *domain.Payment) error {
	cur, ok := t.st.payments[p.ID]
	if !ok || cur.Version != p.Version {
		return store.ErrStaleState
	}
	p.Version++
	p.UpdatedAt = t.now()
	t.st.payments[p.ID] = p.Clone()
	return nil
}

func (t *tx) MarkEventProcessed(_ context.Context, eventID, eventKey string) (bool, error) {
	if _, ok := t.st.events[eventID]; ok {
		return false, nil
	}
	t.st.events[eventID] = eventKey
	return true, nil
}

// Refunds

func (t *tx) CreateRefund(_ context.Context, r *domain.Refund) error {
	for _, existing := range t.st.refunds {
		if existing.PaymentID == r.PaymentID {
			return store.ErrDuplicate
		}
	}
	now := t.now()
	r.ID = t.st.nextID("refunds")
	r.CreatedAt = now
	r.UpdatedAt = now
	t.st.refunds[r.ID] = r.Clone()
	return nil
}

func (t *tx) GetRefund(_ context.Context, id int64) (*domain.Refund, error) {
	r, ok := t.st.refunds[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (t *tx) LockRefund(ctx context.Context, id int64) (*domain.Refund, error) {
	return t.GetRefund(ctx, id)
}

func (t *tx) GetRefundByPayment(_ context.Context, paymentID int64) (*domain.Refund, error) {
	for _, r := range t.st.refunds {
		if r.PaymentID == paymentID {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (t *tx) UpdateRefund(_ context.Context, r *domain.Refund) error {
	if _, ok := t.st.refunds[r.ID]; !ok {
		return store.ErrStaleState
	}
	r.UpdatedAt = t.now()
	t.st.refunds[r.ID] = r.Clone()
	return nil
}

func (t *tx) ListRefundsByStatus(_ context.Context, status domain.RefundStatus, limit int) ([]*domain.Refund, error) {
	var out []*domain.Refund
	for _, r := range t.st.refunds {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, limit, 0), nil
}

// Settlements

func (t *tx) CreateSettlement(_ context.Context, s *domain.Settlement) error {
	for _, existing := range t.st.settlements {
		if existing.TutorID == s.TutorID && existing.YearMonth == s.YearMonth {
			return store.ErrDuplicate
		}
	}
	now := t.now()
	s.ID = t.st.nextID("settlements")
	s.CreatedAt = now
	s.UpdatedAt = now
	t.st.settlements[s.ID] = s.Clone()
	return nil
}

func (t *tx) GetSettlement(_ context.Context, id int64) (*domain.Settlement, error) {
	s, ok := t.st.settlements[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (t *tx) LockSettlementFor(_ context.Context, tutorID int64, yearMonth string) (*domain.Settlement, error) {
	for _, s := range t.st.settlements {
		if s.TutorID == tutorID && s.YearMonth == yearMonth {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (t *tx) UpdateSettlement(_ context.Context, s *domain.Settlement) error {
	if _, ok := t.st.settlements[s.ID]; !ok {
		return store.ErrStaleState
	}
	s.UpdatedAt = t.now()
	t.st.settlements[s.ID] = s.Clone()
	return nil
}

func (t *tx) ListSettlements(_ context.Context, f store.SettlementFilter) ([]*domain.Settlement, error) {
	var out []*domain.Settlement
	for _, s := range t.st.settlements {
		if f.TutorID != 0 && s.TutorID != f.TutorID {
			continue
		}
		if f.YearMonth != "" && s.YearMonth != f.YearMonth {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Reviews

func (t *tx) CreateReview(_ context.Context, r *domain.Review) error {
	for _, existing := range t.st.reviews {
		if existing.BookingID == r.BookingID {
			return store.ErrDuplicate
		}
	}
	now := t.now()
	r.ID = t.st.nextID("reviews")
	r.CreatedAt = now
	r.UpdatedAt = now
	t.st.reviews[r.ID] = r.Clone()
	return nil
}

func (t *tx) GetReview(_ context.Context, id int64) (*domain.Review, error) {
	r, ok := t.st.reviews[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (t *tx) GetReviewByBooking(_ context.Context, bookingID int64) (*domain.Review, error) {
	for _, r := range t.st.reviews {
		if r.BookingID == bookingID {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (t *tx) UpdateReview(_ context.Context, r *domain.Review) error {
	if _, ok := t.st.reviews[r.ID]; !ok {
		return store.ErrStaleState
	}
	r.UpdatedAt = t.now()
	t.st.reviews[r.ID] = r.Clone()
	return nil
}

func (t *tx) ListReviews(_ context.Context, f store.ReviewFilter) ([]*domain.Review, int, error) {
	var out []*domain.Review
	for _, r := range t.st.reviews {
		if f.TutorID != 0 && r.TutorID != f.TutorID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	return paginate(out, f.Limit, f.Offset), total, nil
}

func (t *tx) ReviewStats(_ context.Context, tutorID int64) (domain.ReviewStats, error) {
	stats := domain.ReviewStats{TutorID: tutorID}
	for _, r := range t.st.reviews {
		if r.TutorID != tutorID || r.Status != domain.ReviewStatusActive {
			continue
		}
		stats.Count++
		stats.RatingSum += r.OverallRating
		if r.TutorReply != nil {
			stats.Replied++
		}
	}
	return stats, nil
}

func (t *tx) ListReviewedTutorIDs(_ context.Context) ([]int64, error) {
	seen := map[int64]bool{}
	var ids []int64
	for _, r := range t.st.reviews {
		if !seen[r.TutorID] {
			seen[r.TutorID] = true
			ids = append(ids, r.TutorID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *tx) CreateReport(_ context.Context, r *domain.ReviewReport) error {
	for _, existing := range t.st.reports {
		if existing.ReviewID == r.ReviewID && existing.ReporterID == r.ReporterID {
			return store.ErrDuplicate
		}
	}
	r.ID = t.st.nextID("review_reports")
	r.CreatedAt = t.now()
	t.st.reports[r.ID] = r.Clone()
	return nil
}

func (t *tx) GetReport(_ context.Context, id int64) (*domain.ReviewReport, error) {
	r, ok := t.st.reports[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (t *tx) UpdateReport(_ context.Context, r *domain.ReviewReport) error {
	if _, ok := t.st.reports[r.ID]; !ok {
		return store.ErrStaleState
	}
	t.st.reports[r.ID] = r.Clone()
	return nil
}

func (t *tx) ListReports(_ context.Context, status domain.ReportStatus) ([]*domain.ReviewReport, error) {
	var out []*domain.ReviewReport
	for _, r := range t.st.reports {
		if status == "" || r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Ratings

func (t *tx) UpsertTutorRating(_ context.Context, r *domain.TutorRating) error {
	r.UpdatedAt = t.now()
	cp := *r
	t.st.ratings[r.TutorID] = &cp
	return nil
}

func (t *tx) GetTutorRating(_ context.Context, tutorID int64) (*domain.TutorRating, error) {
	r, ok := t.st.ratings[tutorID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// Audit

func (t *tx) AppendAudit(_ context.Context, e *domain.AuditEntry) error {
	e.ID = t.st.nextID("audit_log")
	e.CreatedAt = t.now()
	cp := *e
	t.st.audit = append(t.st.audit, &cp)
	return nil
}

func (t *tx) ListAudit(_ context.Context, entityType string, entityID int64) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	for _, e := range t.st.audit {
		if e.EntityType == entityType && (entityID == 0 || e.EntityID == entityID) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
