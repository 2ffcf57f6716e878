package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/partyconnect/engage-backend/internal/balance"
	"github.com/partyconnect/engage-backend/internal/cron"
	"github.com/partyconnect/engage-backend/internal/ledger"
	"github.com/partyconnect/engage-backend/internal/points"
	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db"
	"github.com/partyconnect/engage-backend/pkg/instance"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/metrics"
	"github.com/partyconnect/engage-backend/pkg/migrate"
	"github.com/partyconnect/engage-backend/pkg/outbox"
	"github.com/partyconnect/engage-backend/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit (for platform schedulers)")
	only := flag.String("jobs", "", "comma-separated job names to run; default is every job")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	outboxRepo := outbox.NewRepository(dbClient.DB())
	jobs := []cron.Job{}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outboxRepo,
		DeadLetters:      outbox.NewDeadLetters(dbClient.DB()),
		Retention:        cfg.Outbox.Retention,
		DLQRetention:     cfg.Outbox.DLQRetention,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	jobs = append(jobs, retentionJob)

	if cfg.Cron.ReconcileEnabled {
		reconciler, err := points.NewReconciler(points.ReconcilerParams{
			DB:       dbClient,
			Ledger:   ledger.NewRepository(dbClient.DB()),
			Balances: balance.NewRepository(dbClient.DB()),
			Outbox:   outbox.NewService(outboxRepo, logg),
			Metrics:  metrics.NewPointsMetrics(prometheus.DefaultRegisterer),
			Logger:   logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create balance reconciler", err)
			os.Exit(1)
		}
		reconcileJob, err := cron.NewBalanceReconcileJob(cron.BalanceReconcileJobParams{
			Logger:     logg,
			Reconciler: reconciler,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create balance reconcile job", err)
			os.Exit(1)
		}
		jobs = append(jobs, reconcileJob)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(jobs...).Select(strings.Split(*only, ",")...)
	if err != nil {
		logg.Error(context.Background(), "invalid -jobs selection", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		cycle, err := service.RunOnce(ctx)
		if err == nil {
			err = cycle.Err()
		}
		if err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		if cycle.Skipped {
			logg.Warn(logg.WithField(ctx, "lock_holder", cycle.Holder), "one-shot run skipped, lock held elsewhere")
		}
		return
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
