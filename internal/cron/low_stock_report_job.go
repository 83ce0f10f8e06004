package cron

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	"github.com/angelmondragon/picknest-core/pkg/logger"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
	"github.com/angelmondragon/picknest-core/pkg/outbox/payloads"
)

const defaultLowStockBatch = 200

type lowStockLister interface {
	ListBelowReorder(ctx context.Context, limit int) ([]models.Item, error)
}

type outboxDeduper interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// LowStockReportJobParams configure the low stock report.
type LowStockReportJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Items     lowStockLister
	Outbox    outboxDeduper
	BatchSize int
}

// NewLowStockReportJob builds the job that re-announces items still under
// their reorder level. An item with an unpublished announcement queued is
// not announced again.
func NewLowStockReportJob(params LowStockReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Items == nil {
		return nil, fmt.Errorf("item reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultLowStockBatch
	}
	return &lowStockReportJob{
		logg:   params.Logger,
		db:     params.DB,
		items:  params.Items,
		outbox: params.Outbox,
		batch:  batch,
	}, nil
}

type lowStockReportJob struct {
	logg   *logger.Logger
	db     txRunner
	items  lowStockLister
	outbox outboxDeduper
	batch  int
}

func (j *lowStockReportJob) Name() string { return "low-stock-report" }

func (j *lowStockReportJob) Run(ctx context.Context) error {
	items, err := j.items.ListBelowReorder(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("query low stock items: %w", err)
	}
	if len(items) == 0 {
		j.logg.Debug(ctx, "no items below reorder level")
		return nil
	}

	emitted := 0
	err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
		for _, item := range items {
			queued, err := j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventStockBelowReorder,
				AggregateType: enums.AggregateItem,
				AggregateID:   item.ID,
				Data: payloads.StockEvent{
					ItemID:       item.ID,
					CompanyID:    item.CompanyID,
					StockAmount:  item.StockAmount,
					ReorderLevel: item.ReorderLevel,
				},
			})
			if err != nil {
				return fmt.Errorf("announce item %s: %w", item.ID, err)
			}
			if queued {
				emitted++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"below_reorder": len(items),
		"announced":     emitted,
	}), "low stock report complete")
	return nil
}
