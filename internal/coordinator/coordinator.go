// Package coordinator is the transaction boundary of the engine. Every
// operation takes its coordination locks (items ascending, then the order),
// opens one transaction, row-locks in the same order, runs the catalog,
// order and payment aggregates, queues outbox events and commits or rolls
// back as a unit.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/internal/catalog"
	"github.com/angelmondragon/picknest-core/internal/orders"
	"github.com/angelmondragon/picknest-core/internal/payments"
	"github.com/angelmondragon/picknest-core/pkg/config"
	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
	"github.com/angelmondragon/picknest-core/pkg/locks"
	"github.com/angelmondragon/picknest-core/pkg/logger"
	"github.com/angelmondragon/picknest-core/pkg/metrics"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
)

const (
	tracerName       = "github.com/angelmondragon/picknest-core/internal/coordinator"
	maxReplans       = 3
	retryJitterPct   = 20
	defaultRetryBase = 50 * time.Millisecond
)

// Database is the persistence surface the coordinator needs.
type Database interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type idempotencyGuard interface {
	Claim(ctx context.Context, operation, actor, key string) (bool, error)
	Release(ctx context.Context, operation, actor, key string) error
}

// Deps wires the coordinator. Idempotency, Metrics and Tracer are optional.
type Deps struct {
	DB          Database
	Locker      locks.Locker
	Outbox      outboxPublisher
	Idempotency idempotencyGuard
	Metrics     *metrics.CoordinatorMetrics
	Tracer      trace.Tracer
	Logger      *logger.Logger
	Config      config.CoordinatorConfig
}

// Coordinator runs the engine's public operations.
type Coordinator struct {
	db         Database
	locker     locks.Locker
	outbox     outboxPublisher
	idem       idempotencyGuard
	metrics    *metrics.CoordinatorMetrics
	tracer     trace.Tracer
	logg       *logger.Logger
	validate   *validator.Validate
	maxRetries uint64
	retryBase  time.Duration

	catalog  *catalog.Ledger
	orders   *orders.Aggregate
	payments *payments.Settlement
}

// New builds a coordinator and the aggregates it sequences.
func New(deps Deps) (*Coordinator, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database required")
	}
	if deps.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	currency, err := enums.ParseCurrency(deps.Config.SettlementCurrency)
	if err != nil {
		return nil, fmt.Errorf("settlement currency: %w", err)
	}

	ledger := catalog.NewLedger(deps.DB.DB(), deps.Outbox)
	aggregate, err := orders.NewAggregate(ledger)
	if err != nil {
		return nil, err
	}
	settlement, err := payments.NewSettlement(aggregate, currency)
	if err != nil {
		return nil, err
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	retryBase := deps.Config.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}

	return &Coordinator{
		db:         deps.DB,
		locker:     deps.Locker,
		outbox:     deps.Outbox,
		idem:       deps.Idempotency,
		metrics:    deps.Metrics,
		tracer:     tracer,
		logg:       deps.Logger,
		validate:   validator.New(),
		maxRetries: deps.Config.MaxLockRetries,
		retryBase:  retryBase,
		catalog:    ledger,
		orders:     aggregate,
		payments:   settlement,
	}, nil
}

// lockPlan is the set of coordination locks an attempt needs.
type lockPlan struct {
	items []uuid.UUID
	order uuid.UUID
}

func (p lockPlan) keys() []string {
	keys := make([]string, 0, len(p.items)+1)
	for _, id := range p.items {
		keys = append(keys, locks.ItemKey(id.String()))
	}
	if p.order != uuid.Nil {
		keys = append(keys, locks.OrderKey(p.order.String()))
	}
	return keys
}

// sameItems reports whether current matches the planned item set.
func (p lockPlan) sameItems(current []uuid.UUID) bool {
	current = catalog.SortedIDs(current)
	if len(current) != len(p.items) {
		return false
	}
	for i := range current {
		if current[i] != p.items[i] {
			return false
		}
	}
	return true
}

type operation struct {
	name    string
	actor   Actor
	command any
	idemKey string
	// plan derives the locks to take; nil means a fixed empty plan.
	plan func(ctx context.Context, db *gorm.DB) (lockPlan, error)
	run  func(ctx context.Context, tx *gorm.DB, plan lockPlan) error
}

var errItemSetChanged = errors.New("order item set changed while waiting for locks")

// execute runs op with validation, idempotency, bounded lock retries,
// tracing, metrics and logging around it.
func (c *Coordinator) execute(ctx context.Context, op operation) (err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "coordinator."+op.name, trace.WithAttributes(
		attribute.String("picknest.operation", op.name),
		attribute.String("picknest.actor.role", op.actor.Role.String()),
	))
	ctx = c.logg.WithSpan(c.logg.WithOperation(ctx, op.name))
	ctx = c.logg.WithActor(ctx, op.actor.ID.String(), op.actor.Role.String())
	defer func() {
		c.finish(ctx, span, op.name, start, err)
	}()

	if verr := c.validateCommand(op.command); verr != nil {
		return verr
	}

	if op.idemKey != "" && c.idem != nil {
		actorKey := op.actor.ID.String()
		claimed, cerr := c.idem.Claim(ctx, op.name, actorKey, op.idemKey)
		if cerr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, cerr, "claim idempotency key")
		}
		if !claimed {
			return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used").
				WithDetails(map[string]any{"operation": op.name, "idempotency_key": op.idemKey})
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := c.idem.Release(context.WithoutCancel(ctx), op.name, actorKey, op.idemKey); rerr != nil {
				c.logg.Error(ctx, "failed to release idempotency key", rerr)
			}
		}()
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.WithJitterPercent(retryJitterPct, retry.NewExponential(c.retryBase)))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		aerr := c.attempt(ctx, op)
		if pkgerrors.IsCode(aerr, pkgerrors.CodeLockTimeout) {
			c.metrics.IncLockRetry(op.name)
			c.logg.Warn(c.logg.WithField(ctx, "attempt", attempt), "lock timeout")
			return retry.RetryableError(aerr)
		}
		return aerr
	})
}

// attempt takes the locks of one plan and runs op in a single transaction.
// When the locked order no longer matches the planned item set the locks
// are dropped and the plan is rebuilt.
func (c *Coordinator) attempt(ctx context.Context, op operation) error {
	for replan := 0; replan < maxReplans; replan++ {
		plan := lockPlan{}
		if op.plan != nil {
			var err error
			plan, err = op.plan(ctx, c.db.DB())
			if err != nil {
				return pkgerrors.Classify(err, op.name+" plan")
			}
		}

		lease, err := c.locker.Lock(ctx, plan.keys())
		if err != nil {
			return pkgerrors.Classify(err, "acquire coordination locks")
		}
		err = c.db.WithTx(ctx, func(tx *gorm.DB) error {
			return op.run(ctx, tx, plan)
		})
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			c.logg.Error(ctx, "failed to release coordination locks", rerr)
		}

		if errors.Is(err, errItemSetChanged) {
			c.logg.Debug(c.logg.WithField(ctx, "replan", replan+1), "order items changed, replanning")
			continue
		}
		if err != nil {
			return pkgerrors.Classify(err, op.name+" failed")
		}
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeLockTimeout, "order items kept changing while acquiring locks")
}

func (c *Coordinator) finish(ctx context.Context, span trace.Span, name string, start time.Time, err error) {
	defer span.End()
	elapsed := time.Since(start)
	code := ""
	if err != nil {
		code = string(pkgerrors.CodeOf(err))
	}
	c.metrics.Observe(name, code, elapsed)

	logCtx := c.logg.WithField(ctx, "duration_ms", elapsed.Milliseconds())
	if err == nil {
		span.SetStatus(codes.Ok, "")
		c.logg.Info(logCtx, "operation completed")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, code)
	logCtx = c.logg.WithField(logCtx, "error_code", code)
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeInternal, pkgerrors.CodeDependency:
		c.logg.Error(c.logg.WithField(logCtx, "error_dump", pkgerrors.Dump(err)), "operation failed", err)
	default:
		c.logg.Warn(logCtx, "operation rejected: "+err.Error())
	}
}

func (c *Coordinator) validateCommand(command any) error {
	if command == nil {
		return nil
	}
	if err := c.validate.Struct(command); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := map[string]string{}
			for _, fieldErr := range verrs {
				details[fieldErr.Namespace()] = validationMessage(fieldErr)
			}
			return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}

func (c *Coordinator) emit(ctx context.Context, tx *gorm.DB, actor Actor, event outbox.DomainEvent) error {
	event.Actor = &outbox.ActorRef{ID: actor.ID, Role: actor.Role.String()}
	if err := c.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(event.EventType))
	}
	return nil
}

// lockOrderWithItems row-locks the planned items and then the order, and
// checks the order's current item set against the plan.
func (c *Coordinator) lockOrderWithItems(ctx context.Context, tx *gorm.DB, plan lockPlan) (*models.Order, error) {
	if _, err := c.catalog.LockItems(ctx, tx, plan.items); err != nil {
		return nil, err
	}
	order, err := c.orders.Lock(ctx, tx, plan.order)
	if err != nil {
		return nil, err
	}
	current, err := c.orders.ItemIDs(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if !plan.sameItems(current) {
		return nil, errItemSetChanged
	}
	return order, nil
}

// orderItemsPlan plans the locks for an operation whose items are whatever
// is currently on the order.
func (c *Coordinator) orderItemsPlan(orderID uuid.UUID) func(ctx context.Context, db *gorm.DB) (lockPlan, error) {
	return func(ctx context.Context, db *gorm.DB) (lockPlan, error) {
		ids, err := c.orders.ItemIDs(ctx, db, orderID)
		if err != nil {
			return lockPlan{}, err
		}
		return lockPlan{items: catalog.SortedIDs(ids), order: orderID}, nil
	}
}

func (c *Coordinator) orderView(ctx context.Context, tx *gorm.DB, order *models.Order) (*OrderView, error) {
	lines, err := c.orders.Lines(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: *order, Lines: lines}, nil
}
