package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/api/controllers"
	"github.com/partyconnect/engage-backend/api/middleware"
	"github.com/partyconnect/engage-backend/internal/auth"
	"github.com/partyconnect/engage-backend/internal/leaderboard"
	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/internal/points"
	"github.com/partyconnect/engage-backend/internal/referrals"
	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/redis"
)

type rateLimitStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (redis.Window, error)
}

type leaderboardReader interface {
	Top(ctx context.Context, limit int) ([]leaderboard.Entry, error)
}

type referralSummaries interface {
	ForUser(ctx context.Context, userID uuid.UUID) (*referrals.Summary, error)
}

type balanceReconciler interface {
	ReconcileUser(ctx context.Context, userID uuid.UUID) (*points.Drift, error)
	ReconcileAll(ctx context.Context) (*points.Report, error)
}

// Params carries everything the router mounts. Metrics may be nil.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	Ready       map[string]controllers.Pinger
	Idempotency redis.IdempotencyStore
	RateLimits  rateLimitStore
	Metrics     http.Handler

	Register    auth.RegisterService
	Engine      points.Engine
	Ledger      ledger.Service
	Leaderboard leaderboardReader
	Referrals   referrals.Resolver
	Summaries   referralSummaries
	Reconciler  balanceReconciler
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	registerPolicy := middleware.NewRateLimitPolicy("register", cfg.HTTP.RegisterWindow, cfg.HTTP.RegisterIPLimit, 0)
	awardPolicy := middleware.NewRateLimitPolicy("award", cfg.HTTP.AwardWindow, cfg.HTTP.AwardIPLimit, cfg.HTTP.AwardUserLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Ready))
	})
	if p.Metrics != nil {
		r.Handle("/metrics", p.Metrics)
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.RateLimit(registerPolicy, p.RateLimits, logg)).
			Post("/register", controllers.AuthRegister(p.Register, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		r.Route("/v1/points", func(r chi.Router) {
			r.With(middleware.RateLimit(awardPolicy, p.RateLimits, logg)).
				Post("/award", controllers.PointsAward(p.Engine, logg))
			r.Get("/balance", controllers.PointsBalance(p.Engine, logg))
			r.Get("/history", controllers.PointsHistory(p.Ledger, logg))
			r.Get("/leaderboard", controllers.PointsLeaderboard(p.Leaderboard, cfg.Leaderboard.DefaultLimit, logg))
		})

		r.Route("/v1/referrals", func(r chi.Router) {
			r.Post("/apply", controllers.ReferralApply(p.Referrals, logg))
			r.Get("/me", controllers.ReferralMe(p.Summaries, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAdmin(logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))
		r.Post("/v1/points/reconcile", controllers.AdminReconcile(p.Reconciler, logg))
	})

	return r
}
