// Package store defines the transactional persistence boundary shared by every feature.
//
// Every state-changing operation runs inside Store.WithTx; a returned error rolls the whole
// unit back. Entities reference each other by id only.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zbnerd/TutorFlow/internal/domain"
)

var (
	// ErrStaleState is returned when a versioned row changed since it was read
	ErrStaleState = errors.New("stale state")
	// ErrDuplicate is returned when a uniqueness constraint rejects an insert
	ErrDuplicate = errors.New("duplicate record")
)

// Store opens transactions
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of repositories visible inside one transaction
type Tx interface {
	UserRepository
	AvailabilityRepository
	BookingRepository
	SessionRepository
	PaymentRepository
	RefundRepository
	SettlementRepository
	ReviewRepository
	RatingRepository
	AuditRepository
}

type UserRepository interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	UpsertTutorProfile(ctx context.Context, p *domain.TutorProfile) error
	GetTutorProfile(ctx context.Context, userID int64) (*domain.TutorProfile, error)
	// LockTutorProfile takes a row lock that serializes schedule changes of one tutor
	LockTutorProfile(ctx context.Context, userID int64) (*domain.TutorProfile, error)
}

type AvailabilityRepository interface {
	CreateAvailableSlot(ctx context.Context, s *domain.AvailableSlot) error
	GetAvailableSlot(ctx context.Context, id int64) (*domain.AvailableSlot, error)
	UpdateAvailableSlot(ctx context.Context, s *domain.AvailableSlot) error
	DeleteAvailableSlot(ctx context.Context, id int64) error
	// ListAvailableSlots orders by day of week, then start time
	ListAvailableSlots(ctx context.Context, tutorID int64, activeOnly bool) ([]*domain.AvailableSlot, error)
}

// BookingFilter narrows ListBookings; zero values are ignored
type BookingFilter struct {
	TutorID   int64
	StudentID int64
	Status    domain.BookingStatus
	Limit     int
	Offset    int
}

type BookingRepository interface {
	CreateBooking(ctx context.Context, b *domain.Booking) error
	GetBooking(ctx context.Context, id int64) (*domain.Booking, error)
	LockBooking(ctx context.Context, id int64) (*domain.Booking, error)
	// UpdateBooking writes b if its version still matches and bumps the version
	UpdateBooking(ctx context.Context, b *domain.Booking) error
	ListBookings(ctx context.Context, f BookingFilter) ([]*domain.Booking, int, error)
	// ListActiveSlots returns slots of the tutor's PENDING and APPROVED bookings overlapping [from, to)
	ListActiveSlots(ctx context.Context, tutorID int64, from, to time.Time) ([]domain.Slot, error)
}

type SessionRepository interface {
	CreateSessions(ctx context.Context, sessions []*domain.Session) error
	GetSession(ctx context.Context, id int64) (*domain.Session, error)
	LockSession(ctx context.Context, id int64) (*domain.Session, error)
	UpdateSession(ctx context.Context, s *domain.Session) error
	ListSessionsByBooking(ctx context.Context, bookingID int64) ([]*domain.Session, error)
	// CountNoShows counts NO_SHOW sessions of the pair starting in [from, to), excluding one session
	CountNoShows(ctx context.Context, tutorID, studentID int64, from, to time.Time, excludeSessionID int64) (int, error)
	// ListScheduledSessions returns SCHEDULED sessions of APPROVED bookings starting in [from, to)
	ListScheduledSessions(ctx context.Context, from, to time.Time, limit int) ([]*domain.Session, error)
	ListBillableSessions(ctx context.Context, tutorID int64, from, to time.Time) ([]domain.BillableSession, error)
	ListTutorsWithBillableSessions(ctx context.Context, from, to time.Time) ([]int64, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, p *domain.Payment) error
	GetPaymentByBooking(ctx context.Context, bookingID int64) (*domain.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	LockPayment(ctx context.Context, id int64) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, p *domain.Payment) error
	// MarkEventProcessed records an external event id; false means it was already processed
	MarkEventProcessed(ctx context.Context, eventID, eventKey string) (bool, error)
}

type RefundRepository interface {
	CreateRefund(ctx context.Context, r *domain.Refund) error
	GetRefund(ctx context.Context, id int64) (*domain.Refund, error)
	LockRefund(ctx context.Context, id int64) (*domain.Refund, error)
	GetRefundByPayment(ctx context.Context, paymentID int64) (*domain.Refund, error)
	UpdateRefund(ctx context.Context, r *domain.Refund) error
	ListRefundsByStatus(ctx context.Context, status domain.RefundStatus, limit int) ([]*domain.Refund, error)
}

// SettlementFilter narrows ListSettlements; zero values are ignored
type SettlementFilter struct {
	TutorID   int64
	YearMonth string
}

type SettlementRepository interface {
	CreateSettlement(ctx context.Context, s *domain.Settlement) error
	GetSettlement(ctx context.Context, id int64) (*domain.Settlement, error)
	LockSettlementFor(ctx context.Context, tutorID int64, yearMonth string) (*domain.Settlement, error)
	UpdateSettlement(ctx context.Context, s *domain.Settlement) error
	ListSettlements(ctx context.Context, f SettlementFilter) ([]*domain.Settlement, error)
}

// ReviewFilter narrows ListReviews; zero values are ignored
type ReviewFilter struct {
	TutorID int64
	Status  domain.ReviewStatus
	Limit   int
	Offset  int
}

type ReviewRepository interface {
	CreateReview(ctx context.Context, r *domain.Review) error
	GetReview(ctx context.Context, id int64) (*domain.Review, error)
	GetReviewByBooking(ctx context.Context, bookingID int64) (*domain.Review, error)
	UpdateReview(ctx context.Context, r *domain.Review) error
	ListReviews(ctx context.Context, f ReviewFilter) ([]*domain.Review, int, error)
	ReviewStats(ctx context.Context, tutorID int64) (domain.ReviewStats, error)
	ListReviewedTutorIDs(ctx context.Context) ([]int64, error)

	CreateReport(ctx context.Context, r *domain.ReviewReport) error
	GetReport(ctx context.Context, id int64) (*domain.ReviewReport, error)
	UpdateReport(ctx context.Context, r *domain.ReviewReport) error
	ListReports(ctx context.Context, status domain.ReportStatus) ([]*domain.ReviewReport, error)
}

type RatingRepository interface {
	UpsertTutorRating(ctx context.Context, r *domain.TutorRating) error
	GetTutorRating(ctx context.Context, tutorID int64) (*domain.TutorRating, error)
}

type AuditRepository interface {
	AppendAudit(ctx context.Context, e *domain.AuditEntry) error
	ListAudit(ctx context.Context, entityType string, entityID int64) ([]*domain.AuditEntry, error)
}
