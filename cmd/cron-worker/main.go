package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/picknest-core/internal/coordinator"
	"github.com/angelmondragon/picknest-core/internal/cron"
	"github.com/angelmondragon/picknest-core/pkg/config"
	"github.com/angelmondragon/picknest-core/pkg/db"
	"github.com/angelmondragon/picknest-core/pkg/idempotency"
	"github.com/angelmondragon/picknest-core/pkg/instance"
	"github.com/angelmondragon/picknest-core/pkg/locks"
	"github.com/angelmondragon/picknest-core/pkg/logger"
	"github.com/angelmondragon/picknest-core/pkg/metrics"
	"github.com/angelmondragon/picknest-core/pkg/migrate"
	"github.com/angelmondragon/picknest-core/pkg/ops"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
	"github.com/angelmondragon/picknest-core/pkg/redis"
)

const (
	serviceKind   = "cron-worker"
	lockKeyFormat = "cron-worker:%s"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	only := flag.String("job", "", "comma separated job names to run (default all)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Fields:      map[string]string{"worker_id": instance.GetID()},
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

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	checks := map[string]ops.Pinger{"database": dbClient}
	deps := coordinator.Deps{
		DB:      dbClient,
		Outbox:  outboxService,
		Metrics: metrics.NewCoordinatorMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
		Config:  cfg.Coordinator,
	}

	var cycleLocker locks.Locker
	if cfg.Redis.Enabled() {
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
		checks["redis"] = redisClient

		// the cycle lock must outlive a full cycle, the coordinator locks only a transaction
		cycleLocker, err = locks.NewRedisLocker(redisClient, cfg.Cron.LockTTL, cfg.Coordinator.LockPollInterval, cfg.Coordinator.LockPollInterval)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron locker", err)
			os.Exit(1)
		}
		manager, err := idempotency.NewManager(redisClient, cfg.Coordinator.IdempotencyTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create idempotency manager", err)
			os.Exit(1)
		}
		deps.Idempotency = manager
		if cfg.Coordinator.LockBackend == config.LockBackendRedis {
			deps.Locker, err = locks.NewRedisLocker(redisClient, cfg.Coordinator.LockTTL, cfg.Coordinator.LockWait, cfg.Coordinator.LockPollInterval)
			if err != nil {
				logg.Error(context.Background(), "failed to create coordinator locker", err)
				os.Exit(1)
			}
		}
	} else if cfg.Coordinator.LockBackend == config.LockBackendRedis {
		logg.Error(context.Background(), "redis lock backend selected without redis", errors.New(config.EnvRedisURL+" is required"))
		os.Exit(1)
	}
	if deps.Locker == nil {
		deps.Locker = locks.NewLocalLocker(cfg.Coordinator.LockWait)
	}
	if cycleLocker == nil {
		cycleLocker = locks.NewLocalLocker(cfg.Coordinator.LockPollInterval)
	}

	coord, err := coordinator.New(deps)
	if err != nil {
		logg.Error(context.Background(), "failed to create coordinator", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(jobDeps{
		cfg:         cfg,
		logg:        logg,
		db:          dbClient,
		outbox:      outboxService,
		coordinator: coord,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	if names := splitNames(*only); len(names) > 0 {
		registry, err = registry.Only(names...)
		if err != nil {
			logg.Error(context.Background(), "invalid -job selection", err)
			os.Exit(1)
		}
	}

	lock, err := cron.NewCycleLock(cycleLocker, lockKey(cfg.App.Env))
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if *once {
		logg.Info(ctx, "running single cron cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ops.Serve(groupCtx, cfg.Ops.Addr, ops.NewRouter(cfg, logg, prometheus.DefaultGatherer, checks), logg)
	})
	group.Go(func() error { return service.Run(groupCtx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

func splitNames(raw string) []string {
	names := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
