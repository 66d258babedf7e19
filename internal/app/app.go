// Package app wires configuration, infrastructure and feature services for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/zbnerd/TutorFlow/internal/attendance"
	"github.com/zbnerd/TutorFlow/internal/audit"
	"github.com/zbnerd/TutorFlow/internal/booking"
	"github.com/zbnerd/TutorFlow/internal/config"
	"github.com/zbnerd/TutorFlow/internal/database"
	"github.com/zbnerd/TutorFlow/internal/gateway"
	"github.com/zbnerd/TutorFlow/internal/notification"
	"github.com/zbnerd/TutorFlow/internal/payment"
	"github.com/zbnerd/TutorFlow/internal/ratingcache"
	"github.com/zbnerd/TutorFlow/internal/refund"
	"github.com/zbnerd/TutorFlow/internal/review"
	"github.com/zbnerd/TutorFlow/internal/settlement"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/internal/store/memory"
	"github.com/zbnerd/TutorFlow/internal/store/postgres"
	"github.com/zbnerd/TutorFlow/internal/user"
	"github.com/zbnerd/TutorFlow/pkg/mq"
	"github.com/zbnerd/TutorFlow/pkg/obs"
)

type paymentRail interface {
	gateway.PaymentGateway
	gateway.Disburser
}

// App holds the feature services shared by the API server and the batch CLI
type App struct {
	Config *config.Config
	Log    *slog.Logger
	Store  store.Store

	Users       *user.Service
	Bookings    *booking.Service
	Payments    *payment.Service
	Refunds     *refund.Service
	Attendance  *attendance.Service
	Settlements *settlement.Service
	Reviews     *review.Service
	Audit       *audit.Service

	closers []func(context.Context) error
}

// NewLogger returns the JSON logger used by every binary
func NewLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// New connects infrastructure and builds every service. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.build(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	unmarked, err := attendance.ParseUnmarkedRule(cfg.UnmarkedSessionOutcome)
	if err != nil {
		return err
	}

	shutdown, err := obs.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if a.Store, err = a.openStore(ctx); err != nil {
		return err
	}

	notifier := notification.NewService(a.publisher(), log)
	rail := a.rail()
	currency := cfg.CurrencyCode()

	a.Audit = audit.NewService(a.Store)
	a.Users = user.NewService(a.Store, currency, log)
	a.Refunds = refund.NewService(a.Store, rail, notifier, refund.Settings{
		ProcessingTimeout: cfg.RefundRetryAfter,
	}, log)
	a.Bookings = booking.NewService(a.Store, a.Refunds, notifier, booking.Settings{
		MinLeadTime: cfg.MinLeadTime,
		FeeRate:     cfg.PlatformFeeRate,
		Location:    loc,
	}, log)
	a.Payments = payment.NewService(a.Store, rail, a.Refunds, notifier, cfg.WebhookSecret, log)
	a.Attendance = attendance.NewService(a.Store, notifier, attendance.Settings{
		Location:    loc,
		EarlyWindow: cfg.AttendanceEarlyWindow,
		Unmarked:    unmarked,
	}, log)
	a.Settlements = settlement.NewService(a.Store, rail, settlement.Settings{
		Location:     loc,
		PlatformRate: cfg.PlatformFeeRate,
		PGRate:       cfg.PGFeeRate,
		Currency:     currency,
		Workers:      cfg.SettlementWorkers,
	}, log)
	a.Reviews = review.NewService(a.Store, a.ratingCache(ctx), review.Settings{
		EditWindow: cfg.ReviewEditWindow,
		Thresholds: review.DefaultThresholds(),
	}, log)
	return nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	if a.Config.Store == "memory" {
		a.Log.Warn("using the in-memory store; data is lost on exit")
		return memory.New(), nil
	}

	db, err := database.NewPostgresConnection(a.Config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	pg := postgres.New(db)
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	a.Log.Info("connected to database")
	return pg, nil
}

func (a *App) publisher() notification.Publisher {
	if a.Config.RabbitMQURL == "" {
		return notification.NewLogPublisher(a.Log)
	}
	pub, err := mq.NewPublisher(a.Config.RabbitMQURL, a.Config.RabbitMQExchange)
	if err != nil {
		a.Log.Error("rabbitmq unavailable, events will only be logged", "error", err)
		return notification.NewLogPublisher(a.Log)
	}
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	return notification.NewBrokerPublisher(pub)
}

func (a *App) rail() paymentRail {
	if a.Config.OmiseSecretKey == "" {
		a.Log.Warn("OMISE_SECRET_KEY is not set; gateway calls will fail")
		return gateway.Unconfigured{}
	}
	o, err := gateway.NewOmise(a.Config.OmisePublicKey, a.Config.OmiseSecretKey, a.Config.ExternalCallTimeout, a.Log)
	if err != nil {
		a.Log.Error("omise client unavailable; gateway calls will fail", "error", err)
		return gateway.Unconfigured{}
	}
	return o
}

func (a *App) ratingCache(ctx context.Context) review.RatingCache {
	if a.Config.RedisAddr == "" {
		return nil
	}
	c, err := ratingcache.Connect(ctx, a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB, a.Config.RatingCacheTTL, a.Log)
	if err != nil {
		a.Log.Warn("redis unavailable, rating cache disabled", "error", err)
		return nil
	}
	a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	return c
}

// Close releases infrastructure in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
