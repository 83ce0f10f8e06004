package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/picknest-core/internal/coordinator"
	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
	"github.com/angelmondragon/picknest-core/pkg/logger"
)

const (
	defaultPendingOrderTTL   = 72 * time.Hour
	defaultPendingOrderBatch = 100
	pendingOrderCancelReason = "pending order expired"
)

// SystemActorID identifies the cron worker in emitted events.
var SystemActorID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("picknest:cron-worker"))

type pendingOrderLister interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderCanceller interface {
	CancelOrder(ctx context.Context, cmd coordinator.CancelOrderCommand) (*coordinator.OrderView, error)
}

// PendingOrderTTLJobParams configure the pending order expiry job.
type PendingOrderTTLJobParams struct {
	Logger      *logger.Logger
	Orders      pendingOrderLister
	Coordinator orderCanceller
	TTL         time.Duration
	BatchSize   int
}

// NewPendingOrderTTLJob builds the job that cancels orders left pending past
// their TTL. Cancellation goes through the coordinator so every expired order
// is restocked exactly once.
func NewPendingOrderTTLJob(params PendingOrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("pending order reader required")
	}
	if params.Coordinator == nil {
		return nil, fmt.Errorf("coordinator required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingOrderTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPendingOrderBatch
	}
	return &pendingOrderTTLJob{
		logg:   params.Logger,
		orders: params.Orders,
		coord:  params.Coordinator,
		ttl:    ttl,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type pendingOrderTTLJob struct {
	logg   *logger.Logger
	orders pendingOrderLister
	coord  orderCanceller
	ttl    time.Duration
	batch  int
	now    func() time.Time
}

func (j *pendingOrderTTLJob) Name() string { return "pending-order-ttl" }

func (j *pendingOrderTTLJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	stale, err := j.orders.ListPendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query pending orders: %w", err)
	}

	actor := coordinator.Actor{ID: SystemActorID, Role: enums.ActorRoleSystem}
	var errs error
	cancelled, skipped := 0, 0
	for _, order := range stale {
		_, err := j.coord.CancelOrder(ctx, coordinator.CancelOrderCommand{
			Actor:   actor,
			OrderID: order.ID,
			Reason:  pendingOrderCancelReason,
		})
		switch {
		case err == nil:
			cancelled++
		case pkgerrors.IsCode(err, pkgerrors.CodeInvalidOrderState), pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			// settled or deleted since the listing
			skipped++
		default:
			errs = multierr.Append(errs, fmt.Errorf("cancel order %s: %w", order.ID, err))
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"found":     len(stale),
		"cancelled": cancelled,
		"skipped":   skipped,
		"failed":    len(multierr.Errors(errs)),
	}), "pending order expiry complete")
	return errs
}
