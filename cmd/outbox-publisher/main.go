package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/picknest-core/pkg/config"
	"github.com/angelmondragon/picknest-core/pkg/db"
	"github.com/angelmondragon/picknest-core/pkg/instance"
	"github.com/angelmondragon/picknest-core/pkg/kafka"
	"github.com/angelmondragon/picknest-core/pkg/logger"
	"github.com/angelmondragon/picknest-core/pkg/metrics"
	"github.com/angelmondragon/picknest-core/pkg/migrate"
	"github.com/angelmondragon/picknest-core/pkg/ops"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
	"github.com/angelmondragon/picknest-core/pkg/outbox/registry"
	"github.com/angelmondragon/picknest-core/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
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

	eventRegistry, err := registry.NewEventRegistry(cfg.Outbox)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}

	eventSink, closeSink, err := buildSink(context.Background(), cfg, eventRegistry.Topics(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap outbox sink", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeSink(); err != nil {
			logg.Error(context.Background(), "error closing outbox sink", err)
		}
	}()

	service, err := NewService(ServiceParams{
		Config:        cfg.Outbox,
		Logger:        logg,
		DB:            dbClient,
		Sink:          eventSink,
		SinkName:      cfg.Outbox.Sink,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"sink":        cfg.Outbox.Sink,
	})
	logg.Info(ctx, "starting outbox publisher")

	opsRouter := ops.NewRouter(cfg, logg, prometheus.DefaultGatherer, map[string]ops.Pinger{
		"database":      dbClient,
		cfg.Outbox.Sink: eventSink,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return ops.Serve(groupCtx, cfg.Ops.Addr, opsRouter, logg) })
	group.Go(func() error { return service.Run(groupCtx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

func buildSink(ctx context.Context, cfg *config.Config, topics []string, logg *logger.Logger) (sink, func() error, error) {
	switch cfg.Outbox.Sink {
	case config.OutboxSinkKafka:
		producer, err := kafka.NewProducer(cfg.Kafka, logg)
		if err != nil {
			return nil, nil, err
		}
		return producer, producer.Close, nil
	case config.OutboxSinkPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, topics, logg)
		if err != nil {
			return nil, nil, err
		}
		pubSink, err := newPubSubSink(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return pubSink, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported outbox sink %q", cfg.Outbox.Sink)
	}
}
