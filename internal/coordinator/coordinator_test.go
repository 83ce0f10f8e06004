package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/internal/catalog"
	"github.com/angelmondragon/picknest-core/internal/orders"
	"github.com/angelmondragon/picknest-core/pkg/config"
	"github.com/angelmondragon/picknest-core/pkg/db"
	"github.com/angelmondragon/picknest-core/pkg/db/dbtest"
	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
	"github.com/angelmondragon/picknest-core/pkg/locks"
	"github.com/angelmondragon/picknest-core/pkg/logger"
	"github.com/angelmondragon/picknest-core/pkg/metrics"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
)

type harness struct {
	conn  *gorm.DB
	coord *Coordinator
	reg   *prometheus.Registry
}

func newHarness(t *testing.T, configure ...func(*Deps)) *harness {
	t.Helper()
	conn := dbtest.New(t)
	reg := prometheus.NewRegistry()
	deps := Deps{
		DB:      db.Wrap(conn),
		Locker:  locks.NewLocalLocker(2 * time.Second),
		Outbox:  outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Metrics: metrics.NewCoordinatorMetrics(reg),
		Logger:  logger.Nop(),
		Config: config.CoordinatorConfig{
			MaxLockRetries:     2,
			RetryBase:          time.Millisecond,
			SettlementCurrency: "USD",
		},
	}
	for _, fn := range configure {
		fn(&deps)
	}
	coord, err := New(deps)
	require.NoError(t, err)
	return &harness{conn: conn, coord: coord, reg: reg}
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func client(id uuid.UUID) Actor {
	return Actor{ID: id, Role: enums.ActorRoleClient}
}

var systemActor = Actor{ID: uuid.MustParse("00000000-0000-0000-0000-00000000a001"), Role: enums.ActorRoleSystem}

// openOrder opens an empty order for a fresh client.
func (h *harness) openOrder(t *testing.T) (Actor, *OrderView) {
	t.Helper()
	actor := client(uuid.New())
	address := dbtest.SeedAddress(t, h.conn, actor.ID)
	view, err := h.coord.OpenOrder(context.Background(), OpenOrderCommand{
		Actor:             actor,
		ShippingAddressID: address.ID,
	})
	require.NoError(t, err)
	return actor, view
}

func (h *harness) addLine(t *testing.T, actor Actor, orderID, itemID uuid.UUID, qty int) *OrderView {
	t.Helper()
	view, err := h.coord.AddLine(context.Background(), AddLineCommand{
		Actor:    actor,
		OrderID:  orderID,
		ItemID:   itemID,
		Quantity: qty,
	})
	require.NoError(t, err)
	return view
}

func (h *harness) eventTypes(t *testing.T) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.conn.Order("rowid ASC").Find(&rows).Error)
	types := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

// counter returns the value of the named counter whose labels include every
// name/value pair in labels.
func (h *harness) counter(t *testing.T, name string, labels ...string) float64 {
	t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(pairs []*dto.LabelPair, labels []string) bool {
	for i := 0; i+1 < len(labels); i += 2 {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == labels[i] && pair.GetValue() == labels[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestNewValidatesDeps(t *testing.T) {
	conn := dbtest.New(t)
	base := Deps{
		DB:     db.Wrap(conn),
		Locker: locks.NewLocalLocker(time.Second),
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
		Logger: logger.Nop(),
		Config: config.CoordinatorConfig{SettlementCurrency: "USD"},
	}

	cases := map[string]func(*Deps){
		"db":       func(d *Deps) { d.DB = nil },
		"locker":   func(d *Deps) { d.Locker = nil },
		"outbox":   func(d *Deps) { d.Outbox = nil },
		"logger":   func(d *Deps) { d.Logger = nil },
		"currency": func(d *Deps) { d.Config.SettlementCurrency = "XYZ" },
	}
	for name, mutate := range cases {
		deps := base
		mutate(&deps)
		_, err := New(deps)
		assert.Error(t, err, name)
	}

	_, err := New(base)
	require.NoError(t, err)
}

func TestOpenOrderResolvesOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	clientID := uuid.New()
	address := dbtest.SeedAddress(t, h.conn, clientID)

	view, err := h.coord.OpenOrder(ctx, OpenOrderCommand{Actor: systemActor, ClientID: clientID, ShippingAddressID: address.ID})
	require.NoError(t, err)
	assert.Equal(t, clientID, view.Order.ClientID)
	assert.Equal(t, enums.OrderStatusPending, view.Order.Status)

	_, err = h.coord.OpenOrder(ctx, OpenOrderCommand{Actor: systemActor, ShippingAddressID: address.ID})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = h.coord.OpenOrder(ctx, OpenOrderCommand{Actor: client(uuid.New()), ClientID: clientID, ShippingAddressID: address.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	company := Actor{ID: uuid.New(), Role: enums.ActorRoleCompany}
	_, err = h.coord.OpenOrder(ctx, OpenOrderCommand{Actor: company, ShippingAddressID: address.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	// the address belongs to another client
	_, err = h.coord.OpenOrder(ctx, OpenOrderCommand{Actor: client(uuid.New()), ShippingAddressID: address.ID})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderOpened}, h.eventTypes(t))
}

func TestCommandValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.AddLine(ctx, AddLineCommand{Actor: client(uuid.New()), OrderID: uuid.New(), ItemID: uuid.New()})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be at least 1", details["AddLineCommand.Quantity"])

	_, err = h.coord.Settle(ctx, SettleCommand{Actor: Actor{ID: uuid.New(), Role: "guest"}, OrderID: uuid.New()})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	details = pkgerrors.As(err).Details().(map[string]string)
	assert.Contains(t, details, "SettleCommand.Actor.Role")
	assert.Contains(t, details, "SettleCommand.Reference")
	assert.Contains(t, details, "SettleCommand.Currency")

	validation := string(pkgerrors.CodeValidation)
	assert.Equal(t, float64(1), h.counter(t, "picknest_coordinator_operation_total", "operation", "add_line", "code", validation))
	assert.Equal(t, float64(1), h.counter(t, "picknest_coordinator_operation_total", "operation", "settle", "code", validation))
}

func TestAddLineRoundTripRestoresStockAndTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 10, Price: "4.25"})
	actor, opened := h.openOrder(t)

	view := h.addLine(t, actor, opened.Order.ID, item.ID, 3)
	require.Len(t, view.Lines, 1)
	assert.True(t, view.Order.OrderTotal.Equal(dec("12.75")))
	assert.Equal(t, 7, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)

	view, err := h.coord.RemoveLine(ctx, RemoveLineCommand{Actor: actor, OrderID: opened.Order.ID, LineID: view.Lines[0].ID})
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
	assert.True(t, view.Order.OrderTotal.IsZero())
	assert.Equal(t, 10, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)

	assert.Equal(t, []enums.OutboxEventType{
		enums.EventOrderOpened,
		enums.EventStockReserved,
		enums.EventOrderLineAdded,
		enums.EventStockReleased,
		enums.EventOrderLineRemoved,
	}, h.eventTypes(t))
}

func TestChangeLineQuantityRepricesAtOriginalPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 10, Price: "5.00"})
	actor, opened := h.openOrder(t)
	view := h.addLine(t, actor, opened.Order.ID, item.ID, 2)

	newPrice := dec("9.00")
	_, err := h.coord.UpdateItem(ctx, UpdateItemCommand{
		Actor:  Actor{ID: item.CompanyID, Role: enums.ActorRoleCompany},
		ItemID: item.ID,
		Patch:  catalog.ItemPatch{Price: &newPrice},
	})
	require.NoError(t, err)

	view, err = h.coord.ChangeLineQuantity(ctx, ChangeLineQuantityCommand{
		Actor:    actor,
		OrderID:  opened.Order.ID,
		LineID:   view.Lines[0].ID,
		Quantity: 5,
	})
	require.NoError(t, err)
	assert.True(t, view.Order.OrderTotal.Equal(dec("25.00")))
	assert.Equal(t, 5, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)

	view, err = h.coord.ChangeLineQuantity(ctx, ChangeLineQuantityCommand{
		Actor:    actor,
		OrderID:  opened.Order.ID,
		LineID:   view.Lines[0].ID,
		Quantity: 1,
	})
	require.NoError(t, err)
	assert.True(t, view.Order.OrderTotal.Equal(dec("5.00")))
	assert.Equal(t, 9, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)
}

func TestChangeLineQuantityToSameQuantityEmitsNothing(t *testing.T) {
	h := newHarness(t)
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 10, Price: "5.00"})
	actor, opened := h.openOrder(t)
	view := h.addLine(t, actor, opened.Order.ID, item.ID, 3)
	before := h.eventTypes(t)

	view, err := h.coord.ChangeLineQuantity(context.Background(), ChangeLineQuantityCommand{
		Actor:    actor,
		OrderID:  opened.Order.ID,
		LineID:   view.Lines[0].ID,
		Quantity: 3,
	})
	require.NoError(t, err)
	assert.True(t, view.Order.OrderTotal.Equal(dec("15.00")))
	assert.Equal(t, 7, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)
	assert.Equal(t, before, h.eventTypes(t))
}

func TestOrderMutationsRequireOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 5})
	_, opened := h.openOrder(t)

	stranger := client(uuid.New())
	_, err := h.coord.AddLine(ctx, AddLineCommand{Actor: stranger, OrderID: opened.Order.ID, ItemID: item.ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	company := Actor{ID: item.CompanyID, Role: enums.ActorRoleCompany}
	_, err = h.coord.CancelOrder(ctx, CancelOrderCommand{Actor: company, OrderID: opened.Order.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = h.coord.GetOrder(ctx, GetOrderQuery{Actor: stranger, OrderID: opened.Order.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	assert.Equal(t, 5, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)
}

func TestCancelOrderRestocksOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 8})
	second := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 8})
	actor, opened := h.openOrder(t)
	h.addLine(t, actor, opened.Order.ID, first.ID, 3)
	h.addLine(t, actor, opened.Order.ID, second.ID, 5)

	view, err := h.coord.CancelOrder(ctx, CancelOrderCommand{Actor: actor, OrderID: opened.Order.ID, Reason: "changed my mind"})
	require.NoError(t, err)
	assert.True(t, view.Restocked)
	assert.Equal(t, enums.OrderStatusCancelled, view.Order.Status)
	assert.Len(t, view.Lines, 2)
	assert.Equal(t, 8, dbtest.ReloadItem(t, h.conn, first.ID).StockAmount)
	assert.Equal(t, 8, dbtest.ReloadItem(t, h.conn, second.ID).StockAmount)

	_, err = h.coord.CancelOrder(ctx, CancelOrderCommand{Actor: actor, OrderID: opened.Order.ID})
	assert.Equal(t, pkgerrors.CodeInvalidOrderState, pkgerrors.CodeOf(err))

	deleted, err := h.coord.DeleteOrder(ctx, DeleteOrderCommand{Actor: actor, OrderID: opened.Order.ID})
	require.NoError(t, err)
	assert.False(t, deleted.Restocked)
	assert.Equal(t, 8, dbtest.ReloadItem(t, h.conn, first.ID).StockAmount)

	_, err = h.coord.GetOrder(ctx, GetOrderQuery{Actor: actor, OrderID: opened.Order.ID})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestDeletePendingOrderRestocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 6})
	actor, opened := h.openOrder(t)
	h.addLine(t, actor, opened.Order.ID, item.ID, 6)
	assert.Equal(t, 0, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)

	view, err := h.coord.DeleteOrder(ctx, DeleteOrderCommand{Actor: actor, OrderID: opened.Order.ID})
	require.NoError(t, err)
	assert.True(t, view.Restocked)
	assert.Equal(t, 6, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)

	var lines int64
	require.NoError(t, h.conn.Model(&models.OrderLine{}).Where("order_id = ?", opened.Order.ID).Count(&lines).Error)
	assert.Zero(t, lines)
}

func TestMarkDeliveredIsPrivileged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 4, Price: "25.00"})
	actor, opened := h.openOrder(t)
	h.addLine(t, actor, opened.Order.ID, item.ID, 2)

	_, err := h.coord.MarkDelivered(ctx, MarkDeliveredCommand{Actor: systemActor, OrderID: opened.Order.ID})
	assert.Equal(t, pkgerrors.CodeInvalidOrderState, pkgerrors.CodeOf(err))

	_, err = h.coord.Settle(ctx, SettleCommand{
		Actor:     actor,
		OrderID:   opened.Order.ID,
		Amount:    dec("50.00"),
		Method:    enums.PaymentMethodCreditCard,
		Reference: "ref-deliver",
		Currency:  enums.CurrencyUSD,
	})
	require.NoError(t, err)

	_, err = h.coord.MarkDelivered(ctx, MarkDeliveredCommand{Actor: actor, OrderID: opened.Order.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	view, err := h.coord.MarkDelivered(ctx, MarkDeliveredCommand{Actor: systemActor, OrderID: opened.Order.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, view.Order.Status)
	assert.NotNil(t, view.Order.DeliveredAt)
}

func TestUpdateOrderChangesAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor, opened := h.openOrder(t)
	other := dbtest.SeedAddress(t, h.conn, actor.ID)

	view, err := h.coord.UpdateOrder(ctx, UpdateOrderCommand{
		Actor:   actor,
		OrderID: opened.Order.ID,
		Patch:   orders.OrderPatch{ShippingAddressID: &other.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, other.ID, view.Order.ShippingAddressID)
	assert.Contains(t, h.eventTypes(t), enums.EventOrderUpdated)
}

type fakeGuard struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	err      error
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{claimed: map[string]bool{}}
}

func (g *fakeGuard) Claim(_ context.Context, operation, actor, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	id := operation + "|" + actor + "|" + key
	if g.claimed[id] {
		return false, nil
	}
	g.claimed[id] = true
	return true, nil
}

func (g *fakeGuard) Release(_ context.Context, operation, actor, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := operation + "|" + actor + "|" + key
	delete(g.claimed, id)
	g.released = append(g.released, id)
	return nil
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	guard := newFakeGuard()
	h := newHarness(t, func(d *Deps) { d.Idempotency = guard })
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 10})
	company := Actor{ID: item.CompanyID, Role: enums.ActorRoleCompany}

	cmd := StockCommand{Actor: company, ItemID: item.ID, Quantity: 4, IdempotencyKey: "restock-1"}
	view, err := h.coord.ReleaseStock(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 14, view.Item.StockAmount)
	assert.Equal(t, 4, view.NetChange)

	_, err = h.coord.ReleaseStock(ctx, cmd)
	assert.Equal(t, pkgerrors.CodeIdempotency, pkgerrors.CodeOf(err))
	assert.Equal(t, 14, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)

	// a failed command hands its key back
	failing := StockCommand{Actor: company, ItemID: item.ID, Quantity: 100, IdempotencyKey: "shrink-1"}
	_, err = h.coord.ReserveStock(ctx, failing)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, pkgerrors.CodeOf(err))
	assert.Len(t, guard.released, 1)

	failing.Quantity = 2
	view, err = h.coord.ReserveStock(ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, 12, view.Item.StockAmount)
}

func TestIdempotencyStoreFailureIsDependencyError(t *testing.T) {
	guard := newFakeGuard()
	guard.err = errors.New("redis down")
	h := newHarness(t, func(d *Deps) { d.Idempotency = guard })
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 10})

	_, err := h.coord.ReleaseStock(context.Background(), StockCommand{
		Actor:          systemActor,
		ItemID:         item.ID,
		Quantity:       1,
		IdempotencyKey: "k",
	})
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
	assert.Equal(t, 10, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)
}

func TestStockOperationsAuthorizeCompany(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 5, ReorderLevel: 3})

	other := Actor{ID: uuid.New(), Role: enums.ActorRoleCompany}
	_, err := h.coord.ReserveStock(ctx, StockCommand{Actor: other, ItemID: item.ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	_, err = h.coord.ItemStatus(ctx, ItemStatusQuery{Actor: other, ItemID: item.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	_, err = h.coord.ReserveStock(ctx, StockCommand{Actor: client(uuid.New()), ItemID: item.ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	view, err := h.coord.ReserveStock(ctx, StockCommand{Actor: systemActor, ItemID: item.ID, Quantity: 3})
	require.NoError(t, err)
	assert.True(t, view.BelowReorder)
	assert.Equal(t, -3, view.NetChange)

	status, err := h.coord.ItemStatus(ctx, ItemStatusQuery{Actor: client(uuid.New()), ItemID: item.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, status.Item.StockAmount)

	assert.Equal(t, []enums.OutboxEventType{enums.EventStockBelowReorder, enums.EventStockReserved}, h.eventTypes(t))
}

type flakyLocker struct {
	inner    locks.Locker
	mu       sync.Mutex
	failures int
	calls    int
}

func (l *flakyLocker) Lock(ctx context.Context, keys []string) (locks.Lease, error) {
	l.mu.Lock()
	l.calls++
	fail := l.calls <= l.failures
	l.mu.Unlock()
	if fail {
		return nil, pkgerrors.New(pkgerrors.CodeLockTimeout, "timed out waiting for lock")
	}
	return l.inner.Lock(ctx, keys)
}

func TestLockTimeoutIsRetried(t *testing.T) {
	locker := &flakyLocker{inner: locks.NewLocalLocker(time.Second), failures: 2}
	h := newHarness(t, func(d *Deps) { d.Locker = locker })
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 3})

	view, err := h.coord.ReserveStock(context.Background(), StockCommand{Actor: systemActor, ItemID: item.ID, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Item.StockAmount)
	assert.Equal(t, 3, locker.calls)
	assert.Equal(t, float64(2), h.counter(t, "picknest_coordinator_lock_retries_total", "operation", "reserve_stock"))
}

func TestLockTimeoutSurfacesAfterRetries(t *testing.T) {
	locker := &flakyLocker{inner: locks.NewLocalLocker(time.Second), failures: 100}
	h := newHarness(t, func(d *Deps) { d.Locker = locker })
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 3})

	_, err := h.coord.ReserveStock(context.Background(), StockCommand{Actor: systemActor, ItemID: item.ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeLockTimeout, pkgerrors.CodeOf(err))
	assert.Equal(t, 3, locker.calls)
	assert.Equal(t, 3, dbtest.ReloadItem(t, h.conn, item.ID).StockAmount)
	assert.Equal(t, float64(1), h.counter(t, "picknest_coordinator_operation_total", "code", string(pkgerrors.CodeLockTimeout)))
}

func TestLockPlanKeysOrderItemsBeforeOrder(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	order := uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
	plan := lockPlan{items: []uuid.UUID{a, b}, order: order}

	assert.Equal(t, []string{
		locks.ItemKey(a.String()),
		locks.ItemKey(b.String()),
		locks.OrderKey(order.String()),
	}, plan.keys())
	assert.True(t, plan.sameItems([]uuid.UUID{b, a}))
	assert.False(t, plan.sameItems([]uuid.UUID{a}))
}

func (h *harness) settle(t *testing.T, actor Actor, orderID uuid.UUID, amount, reference string) {
	t.Helper()
	_, err := h.coord.Settle(context.Background(), SettleCommand{
		Actor:     actor,
		OrderID:   orderID,
		Amount:    dec(amount),
		Method:    enums.PaymentMethodCreditCard,
		Reference: reference,
		Currency:  enums.CurrencyUSD,
	})
	require.NoError(t, err)
}

func paymentRefs(list []models.Payment) []string {
	refs := make([]string, 0, len(list))
	for _, p := range list {
		refs = append(refs, p.TransactionReferenceNumber)
	}
	return refs
}

func TestListOrderPaymentsIsScopedToOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 4, Price: "25.00"})
	actor, opened := h.openOrder(t)
	h.addLine(t, actor, opened.Order.ID, item.ID, 2)
	h.settle(t, actor, opened.Order.ID, "50.00", "ref-list-1")

	list, err := h.coord.ListOrderPayments(ctx, ListPaymentsQuery{Actor: actor, OrderID: opened.Order.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ref-list-1", list[0].TransactionReferenceNumber)
	assert.True(t, list[0].AmountPaid.Equal(dec("50.00")))

	list, err = h.coord.ListOrderPayments(ctx, ListPaymentsQuery{Actor: systemActor, OrderID: opened.Order.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = h.coord.ListOrderPayments(ctx, ListPaymentsQuery{Actor: client(uuid.New()), OrderID: opened.Order.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = h.coord.ListOrderPayments(ctx, ListPaymentsQuery{Actor: systemActor, OrderID: uuid.New()})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestListClientPaymentsSpansOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := dbtest.SeedItem(t, h.conn, dbtest.ItemSeed{Stock: 10, Price: "10.00"})
	actor, first := h.openOrder(t)
	h.addLine(t, actor, first.Order.ID, item.ID, 1)
	h.settle(t, actor, first.Order.ID, "10.00", "ref-client-1")

	address := dbtest.SeedAddress(t, h.conn, actor.ID)
	second, err := h.coord.OpenOrder(ctx, OpenOrderCommand{Actor: actor, ShippingAddressID: address.ID})
	require.NoError(t, err)
	h.addLine(t, actor, second.Order.ID, item.ID, 2)
	h.settle(t, actor, second.Order.ID, "20.00", "ref-client-2")

	other, otherOrder := h.openOrder(t)
	h.addLine(t, other, otherOrder.Order.ID, item.ID, 1)
	h.settle(t, other, otherOrder.Order.ID, "10.00", "ref-other")

	list, err := h.coord.ListClientPayments(ctx, ClientPaymentsQuery{Actor: actor, ClientID: actor.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ref-client-1", "ref-client-2"}, paymentRefs(list))

	list, err = h.coord.ListClientPayments(ctx, ClientPaymentsQuery{Actor: systemActor, ClientID: actor.ID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = h.coord.ListClientPayments(ctx, ClientPaymentsQuery{Actor: other, ClientID: actor.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = h.coord.ListClientPayments(ctx, ClientPaymentsQuery{Actor: systemActor, ClientID: actor.ID, Limit: 501})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}
