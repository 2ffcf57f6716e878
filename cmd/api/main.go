package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/partyconnect/engage-backend/api/controllers"
	"github.com/partyconnect/engage-backend/api/routes"
	"github.com/partyconnect/engage-backend/internal/auth"
	"github.com/partyconnect/engage-backend/internal/balance"
	"github.com/partyconnect/engage-backend/internal/leaderboard"
	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/internal/points"
	"github.com/partyconnect/engage-backend/internal/referrals"
	"github.com/partyconnect/engage-backend/internal/volunteers"
	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db"
	"github.com/partyconnect/engage-backend/pkg/instance"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/metrics"
	"github.com/partyconnect/engage-backend/pkg/migrate"
	"github.com/partyconnect/engage-backend/pkg/outbox"
	"github.com/partyconnect/engage-backend/pkg/redis"
)

// shutdownTimeout bounds how long in-flight requests may run after SIGTERM.
const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	policy, err := points.NewPolicy(cfg.Points)
	if err != nil {
		logg.Error(context.Background(), "invalid points policy", err)
		os.Exit(1)
	}
	dayZone, err := cfg.Points.Location()
	if err != nil {
		logg.Error(context.Background(), "invalid day boundary zone", err)
		os.Exit(1)
	}

	pointsMetrics := metrics.NewPointsMetrics(prometheus.DefaultRegisterer)
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	balances := balance.NewRepository(dbClient.DB())

	engine, err := points.NewEngine(points.EngineParams{
		DB:       dbClient,
		Ledger:   ledgerRepo,
		Balances: balances,
		Policy:   policy,
		Limiter:  points.NewLimiter(dayZone),
		Outbox:   emitter,
		Metrics:  pointsMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create points engine", err)
		os.Exit(1)
	}

	resolver, err := referrals.NewResolver(referrals.ResolverParams{
		DB:     dbClient,
		Engine: engine,
		Config: cfg.Referral,
		Outbox: emitter,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create referral resolver", err)
		os.Exit(1)
	}

	registerService, err := auth.NewRegisterService(auth.RegisterServiceParams{
		DB:        dbClient,
		Referrals: resolver,
		Referral:  cfg.Referral,
		JWT:       cfg.JWT,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create register service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledgerRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	board, err := leaderboard.NewService(leaderboard.Params{
		Totals:       ledgerService,
		Volunteers:   volunteers.NewDirectory(dbClient.DB()),
		Cache:        redisClient,
		CacheTTL:     cfg.Leaderboard.CacheTTL,
		DefaultLimit: cfg.Leaderboard.DefaultLimit,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create leaderboard service", err)
		os.Exit(1)
	}

	summaries, err := referrals.NewSummaries(dbClient.DB(), cfg.Referral)
	if err != nil {
		logg.Error(context.Background(), "failed to create referral summaries", err)
		os.Exit(1)
	}

	reconciler, err := points.NewReconciler(points.ReconcilerParams{
		DB:       dbClient,
		Ledger:   ledgerRepo,
		Balances: balances,
		Outbox:   emitter,
		Metrics:  pointsMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config: cfg,
			Logger: logg,
			Ready: map[string]controllers.Pinger{
				"db":    dbClient,
				"redis": redisClient,
			},
			Idempotency: redisClient,
			RateLimits:  redisClient,
			Metrics:     promhttp.Handler(),
			Register:    registerService,
			Engine:      engine,
			Ledger:      ledgerService,
			Leaderboard: board,
			Referrals:   resolver,
			Summaries:   summaries,
			Reconciler:  reconciler,
		}),
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(sigCtx, server, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
}

// serve runs the server until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func serve(ctx context.Context, server *http.Server, logg *logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
