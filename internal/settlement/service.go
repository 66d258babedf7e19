package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zbnerd/TutorFlow/internal/attendance"
	"github.com/zbnerd/TutorFlow/internal/audit"
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/gateway"
	"github.com/zbnerd/TutorFlow/internal/money"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

// Common errors
var (
	ErrSettlementNotFound = apperr.NotFound("NOT_FOUND", "settlement not found")
	ErrInvalidMonth       = apperr.ErrValidation.WithMessage("month must be formatted YYYY-MM")
	ErrMonthNotClosed     = apperr.Validation("MONTH_NOT_CLOSED", "month is still open for attendance marking")
	ErrUnmarkedSessions   = apperr.Conflict("UNMARKED_SESSIONS", "sessions of the month still await attendance")
	ErrNoPayoutAccount    = apperr.ErrInvariant.WithMessage("tutor has no payout account")
)

var tracer = otel.Tracer("github.com/zbnerd/TutorFlow/internal/settlement")

// Settings configures the batch
type Settings struct {
	Location     *time.Location
	PlatformRate decimal.Decimal
	PGRate       decimal.Decimal
	Currency     money.Currency
	Workers      int
}

// Service computes and disburses monthly settlements
type Service struct {
	store     store.Store
	disburser gateway.Disburser
	settings  Settings
	log       *slog.Logger
	now       func() time.Time
}

// NewService creates a new settlement service
func NewService(st store.Store, disburser gateway.Disburser, settings Settings, log *slog.Logger) *Service {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.Currency == "" {
		settings.Currency = money.KRW
	}
	return &Service{
		store:     st,
		disburser: disburser,
		settings:  settings,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the service clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Compute prices billable sessions and applies both fee rates, rounding half-to-even
func Compute(rows []domain.BillableSession, platformRate, pgRate decimal.Decimal, currency money.Currency) (Figures, error) {
	total := money.Zero(currency)
	for _, row := range rows {
		price, err := row.Price()
		if err != nil {
			return Figures{}, fmt.Errorf("session %d: %w", row.SessionID, err)
		}
		if total, err = total.Add(price); err != nil {
			return Figures{}, fmt.Errorf("session %d: %w", row.SessionID, err)
		}
	}

	platform := total.ApplyRate(platformRate)
	pg := total.ApplyRate(pgRate)
	net, err := total.Sub(platform)
	if err != nil {
		return Figures{}, err
	}
	if net, err = net.Sub(pg); err != nil {
		return Figures{}, err
	}
	return Figures{Sessions: len(rows), Total: total, PlatformFee: platform, PGFee: pg, Net: net}, nil
}

// DefaultMonth is the month before the current one in the platform timezone
func (s *Service) DefaultMonth() domain.YearMonth {
	return domain.YearMonthOf(s.now(), s.settings.Location).Previous()
}

// ClosesAt is when month can be settled: the marking deadline of its last day
func (s *Service) ClosesAt(month domain.YearMonth) time.Time {
	_, to := month.Range(s.settings.Location)
	return attendance.MarkingDeadline(to.Add(-time.Nanosecond), s.settings.Location)
}

// Run settles every tutor with billable sessions in month. Each tutor is an
// independent task; a failed tutor does not affect the others. A month is settled
// only after its marking deadline has passed and no session in it is left unmarked.
func (s *Service) Run(ctx context.Context, month domain.YearMonth) (*RunReport, error) {
	ctx, span := tracer.Start(ctx, "settlement.run", trace.WithAttributes(attribute.String("settlement.month", month.String())))
	defer span.End()

	from, to := month.Range(s.settings.Location)
	if closes := s.ClosesAt(month); !s.now().After(closes) {
		return nil, ErrMonthNotClosed.WithMessage("month %s is open for attendance marking until %s",
			month, closes.Format(time.RFC3339))
	}

	var tutors []int64
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		open, err := tx.ListScheduledSessions(ctx, from, to, 1)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return ErrUnmarkedSessions.WithCurrent(open[0].ID)
		}
		ids, err := tx.ListTutorsWithBillableSessions(ctx, from, to)
		if err != nil {
			return err
		}
		existing, err := tx.ListSettlements(ctx, store.SettlementFilter{YearMonth: month.String()})
		if err != nil {
			return err
		}
		tutors = mergeTutors(ids, existing)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tasks := make(chan int64)
	results := make(chan TaskResult)
	var wg sync.WaitGroup
	for i := 0; i < s.settings.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tutorID := range tasks {
				results <- s.settleTutor(ctx, tutorID, month)
			}
		}()
	}
	go func() {
		defer close(tasks)
		for _, id := range tutors {
			select {
			case tasks <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	report := &RunReport{Month: month.String()}
	for res := range results {
		report.add(res)
	}
	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].TutorID < report.Results[j].TutorID })

	span.SetAttributes(
		attribute.Int("settlement.tutors", len(tutors)),
		attribute.Int("settlement.completed", report.Completed),
		attribute.Int("settlement.failed", report.Failed),
	)
	s.log.InfoContext(ctx, "settlement run finished", "month", report.Month, "tutors", len(tutors),
		"completed", report.Completed, "already_completed", report.AlreadyCompleted, "failed", report.Failed)
	return report, ctx.Err()
}

// settleTutor writes the tutor's settlement row once, then disburses it outside the transaction.
// A PENDING or FAILED row keeps its figures and only retries the disbursement.
func (s *Service) settleTutor(ctx context.Context, tutorID int64, month domain.YearMonth) TaskResult {
	ctx, span := tracer.Start(ctx, "settlement.tutor", trace.WithAttributes(
		attribute.Int64("tutor.id", tutorID),
		attribute.String("settlement.month", month.String()),
	))
	defer span.End()

	res := TaskResult{TutorID: tutorID}
	fail := func(err error) TaskResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.ErrorContext(ctx, "settlement failed", "tutor_id", tutorID, "month", month.String(), "error", err)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		return res
	}

	var account string
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		st, err := tx.LockSettlementFor(ctx, tutorID, month.String())
		if err != nil {
			return err
		}
		if st == nil {
			if st, err = s.create(ctx, tx, tutorID, month); err != nil {
				return err
			}
		}
		res.Settlement = st
		if st.Status == domain.SettlementStatusCompleted {
			return nil
		}

		profile, err := tx.GetTutorProfile(ctx, tutorID)
		if err != nil {
			return err
		}
		if profile != nil {
			account = profile.PayoutAccount
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	if res.Settlement.Status == domain.SettlementStatusCompleted {
		res.Outcome = OutcomeAlreadyCompleted
		return res
	}

	var (
		ref       string
		payoutErr error
	)
	switch {
	case res.Settlement.NetAmount.IsZero():
	case account == "":
		payoutErr = ErrNoPayoutAccount
	default:
		d, err := s.disburser.Disburse(ctx, account, res.Settlement.NetAmount, IdempotencyKey(res.Settlement))
		if err != nil {
			payoutErr = apperr.ErrExternal.WithMessage("disbursement failed").Wrap(err)
		}
		ref = d.ConfirmationID
	}

	st, err := s.record(ctx, res.Settlement.ID, ref, payoutErr)
	if err != nil {
		return fail(err)
	}
	res.Settlement = st
	if payoutErr != nil {
		return fail(payoutErr)
	}
	res.Outcome = OutcomeCompleted
	return res
}

func (s *Service) create(ctx context.Context, tx store.Tx, tutorID int64, month domain.YearMonth) (*domain.Settlement, error) {
	from, to := month.Range(s.settings.Location)
	rows, err := tx.ListBillableSessions(ctx, tutorID, from, to)
	if err != nil {
		return nil, err
	}
	currency := s.settings.Currency
	if len(rows) > 0 {
		currency = rows[0].PaymentAmount.Currency()
	}
	fig, err := Compute(rows, s.settings.PlatformRate, s.settings.PGRate, currency)
	if err != nil {
		return nil, apperr.ErrInvariant.Wrap(err)
	}

	st := &domain.Settlement{
		TutorID:       tutorID,
		YearMonth:     month.String(),
		TotalSessions: fig.Sessions,
		TotalAmount:   fig.Total,
		PlatformFee:   fig.PlatformFee,
		PGFee:         fig.PGFee,
		NetAmount:     fig.Net,
		Status:        domain.SettlementStatusPending,
	}
	if err := tx.CreateSettlement(ctx, st); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.ErrStale.Wrap(err)
		}
		return nil, err
	}
	if err := audit.Record(ctx, tx, domain.EntitySettlement, st.ID, "create", nil, nil, st); err != nil {
		return nil, err
	}
	return st, nil
}

// record stores the disbursement outcome. A row completed meanwhile by another run is left alone.
func (s *Service) record(ctx context.Context, id int64, ref string, payoutErr error) (*domain.Settlement, error) {
	var out *domain.Settlement
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		st, err := tx.GetSettlement(ctx, id)
		if err != nil {
			return err
		}
		if st == nil {
			return ErrSettlementNotFound
		}
		st, err = tx.LockSettlementFor(ctx, st.TutorID, st.YearMonth)
		if err != nil {
			return err
		}
		out = st
		if st.Status == domain.SettlementStatusCompleted {
			return nil
		}

		old := st.Clone()
		now := s.now()
		st.Attempts++
		if payoutErr != nil {
			reason := payoutErr.Error()
			st.Status = domain.SettlementStatusFailed
			st.FailureReason = &reason
		} else {
			st.Status = domain.SettlementStatusCompleted
			st.FailureReason = nil
			st.PaidAt = &now
			if ref != "" {
				st.DisbursementRef = &ref
			}
		}
		if err := tx.UpdateSettlement(ctx, st); err != nil {
			if errors.Is(err, store.ErrStaleState) {
				return apperr.ErrStale.Wrap(err)
			}
			return err
		}
		return audit.Record(ctx, tx, domain.EntitySettlement, st.ID, "disburse", nil, old, st)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IdempotencyKey is the key the bank deduplicates disbursements of st on
func IdempotencyKey(st *domain.Settlement) string {
	return "settlement-" + strconv.FormatInt(st.ID, 10)
}

// Get returns a settlement visible to actor
func (s *Service) Get(ctx context.Context, actor domain.Actor, id int64) (*domain.Settlement, error) {
	var st *domain.Settlement
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		st, err = tx.GetSettlement(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if st == nil || (st.TutorID != actor.ID && !actor.IsAdmin()) {
		return nil, ErrSettlementNotFound
	}
	return st, nil
}

// List returns settlements; tutors only see their own
func (s *Service) List(ctx context.Context, actor domain.Actor, f store.SettlementFilter) ([]*domain.Settlement, error) {
	switch {
	case actor.IsAdmin():
	case actor.Role == domain.RoleTutor:
		f.TutorID = actor.ID
	default:
		return nil, apperr.ErrForbidden.WithMessage("only tutors have settlements")
	}
	if f.YearMonth != "" {
		if _, err := domain.ParseYearMonth(f.YearMonth); err != nil {
			return nil, ErrInvalidMonth
		}
	}

	var out []*domain.Settlement
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListSettlements(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mergeTutors adds tutors whose unfinished settlement must be retried
func mergeTutors(ids []int64, existing []*domain.Settlement) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, st := range existing {
		if !seen[st.TutorID] {
			seen[st.TutorID] = true
			out = append(out, st.TutorID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
