package main

import (
	"github.com/angelmondragon/picknest-core/internal/catalog"
	"github.com/angelmondragon/picknest-core/internal/coordinator"
	"github.com/angelmondragon/picknest-core/internal/cron"
	"github.com/angelmondragon/picknest-core/internal/orders"
	"github.com/angelmondragon/picknest-core/pkg/config"
	"github.com/angelmondragon/picknest-core/pkg/db"
	"github.com/angelmondragon/picknest-core/pkg/logger"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
)

type jobDeps struct {
	cfg         *config.Config
	logg        *logger.Logger
	db          *db.Client
	outbox      *outbox.Service
	coordinator *coordinator.Coordinator
}

// buildRegistry registers every maintenance job in run order.
func buildRegistry(deps jobDeps) (*cron.Registry, error) {
	conn := deps.db.DB()

	pendingTTL, err := cron.NewPendingOrderTTLJob(cron.PendingOrderTTLJobParams{
		Logger:      deps.logg,
		Orders:      orders.NewRepository(conn),
		Coordinator: deps.coordinator,
		TTL:         deps.cfg.Cron.PendingOrderTTL,
		BatchSize:   deps.cfg.Cron.PendingOrderBatch,
	})
	if err != nil {
		return nil, err
	}
	lowStock, err := cron.NewLowStockReportJob(cron.LowStockReportJobParams{
		Logger:    deps.logg,
		DB:        deps.db,
		Items:     catalog.NewLedger(conn, deps.outbox),
		Outbox:    deps.outbox,
		BatchSize: deps.cfg.Cron.LowStockBatch,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       deps.logg,
		DB:           deps.db,
		Repository:   outbox.NewRepository(conn),
		Retention:    deps.cfg.Cron.OutboxRetention,
		MaxAttempts:  deps.cfg.Outbox.MaxAttempts,
		DeadLetters:  outbox.NewDLQRepository(conn),
		DLQRetention: deps.cfg.Cron.DLQRetention,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{pendingTTL, lowStock, retention} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
