package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
)

// StockLedger moves item stock on behalf of order lines.
type StockLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, qty int) (*models.Item, error)
	Release(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, qty int) (*models.Item, error)
}

// Aggregate keeps an order's total in step with its lines. order_total is
// only ever moved by the price delta of the line being touched.
type Aggregate struct {
	ledger StockLedger
}

// OrderPatch lists the order fields a caller may change directly. Totals,
// line prices and status are derived and not part of it.
type OrderPatch struct {
	ShippingAddressID *uuid.UUID
}

// LineChange describes a quantity change applied to a line.
type LineChange struct {
	Line             models.OrderLine
	PreviousQuantity int
	PriceDelta       decimal.Decimal
}

// NewAggregate builds the order aggregate.
func NewAggregate(ledger StockLedger) (*Aggregate, error) {
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	return &Aggregate{ledger: ledger}, nil
}

// Open creates an empty pending order. The shipping address must belong to
// the client placing the order.
func (a *Aggregate) Open(ctx context.Context, tx *gorm.DB, clientID, addressID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	repo := NewRepository(tx)
	if err := checkAddress(ctx, repo, clientID, addressID); err != nil {
		return nil, err
	}

	order := &models.Order{
		ClientID:          clientID,
		ShippingAddressID: addressID,
		Status:            enums.OrderStatusPending,
		OrderTotal:        decimal.Zero,
	}
	if err := repo.CreateOrder(ctx, order); err != nil {
		return nil, pkgerrors.Classify(err, "create order")
	}
	return order, nil
}

// Lock loads the order FOR UPDATE inside tx.
func (a *Aggregate) Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	order, err := NewRepository(tx).LockOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "lock order")
	}
	if order == nil {
		return nil, orderNotFound(orderID)
	}
	return order, nil
}

// Get loads the order without locking it.
func (a *Aggregate) Get(ctx context.Context, handle *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := NewRepository(handle).FindOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "load order")
	}
	if order == nil {
		return nil, orderNotFound(orderID)
	}
	return order, nil
}

// Lines returns the order's lines in creation order.
func (a *Aggregate) Lines(ctx context.Context, handle *gorm.DB, orderID uuid.UUID) ([]models.OrderLine, error) {
	lines, err := NewRepository(handle).ListLines(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "list order lines")
	}
	return lines, nil
}

// Line loads one line and checks it belongs to orderID.
func (a *Aggregate) Line(ctx context.Context, handle *gorm.DB, orderID, lineID uuid.UUID) (*models.OrderLine, error) {
	line, err := NewRepository(handle).FindLine(ctx, lineID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "load order line")
	}
	if line == nil || line.OrderID != orderID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order line not found").
			WithDetails(map[string]any{"order_id": orderID.String(), "line_id": lineID.String()})
	}
	return line, nil
}

// ItemIDs lists the distinct items on the order, ascending.
func (a *Aggregate) ItemIDs(ctx context.Context, handle *gorm.DB, orderID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := NewRepository(handle).LineItemIDs(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "list order items")
	}
	return ids, nil
}

// AddLine reserves qty of item and appends a line priced at the item's
// current unit price. item is refreshed with the post-reservation stock.
func (a *Aggregate) AddLine(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.Item, qty int) (*models.OrderLine, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	if err := requirePending(order, "add line"); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
			WithDetails(map[string]any{"quantity": qty})
	}
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
	}

	repo := NewRepository(tx)
	existing, err := repo.FindLineByItem(ctx, order.ID, item.ID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "check existing line")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeDuplicateLine, "item already has a line on this order").
			WithDetails(map[string]any{
				"order_id": order.ID.String(),
				"item_id":  item.ID.String(),
				"line_id":  existing.ID.String(),
			})
	}

	reserved, err := a.ledger.Reserve(ctx, tx, item.ID, qty)
	if err != nil {
		return nil, err
	}
	*item = *reserved

	unit := reserved.Price
	line := &models.OrderLine{
		OrderID:              order.ID,
		ItemID:               item.ID,
		QuantityOrdered:      qty,
		UnitPriceAtOrderTime: unit,
		PriceAtOrderTime:     lineTotal(unit, qty),
	}
	if err := repo.CreateLine(ctx, line); err != nil {
		return nil, pkgerrors.Classify(err, "create order line")
	}
	if err := a.moveTotal(ctx, repo, order, line.PriceAtOrderTime); err != nil {
		return nil, err
	}
	return line, nil
}

// ChangeLineQuantity reserves or releases the difference and reprices the
// line at its original unit price. The same quantity is a no-op.
func (a *Aggregate) ChangeLineQuantity(ctx context.Context, tx *gorm.DB, order *models.Order, line *models.OrderLine, newQty int) (LineChange, error) {
	change := LineChange{PriceDelta: decimal.Zero}
	if tx == nil {
		return change, errTxRequired
	}
	if err := requirePending(order, "change line quantity"); err != nil {
		return change, err
	}
	if err := requireLineOnOrder(order, line); err != nil {
		return change, err
	}
	change.PreviousQuantity = line.QuantityOrdered
	if newQty < 1 {
		return change, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
			WithDetails(map[string]any{"quantity": newQty})
	}
	change.Line = *line
	if newQty == line.QuantityOrdered {
		return change, nil
	}

	delta := newQty - line.QuantityOrdered
	if delta > 0 {
		if _, err := a.ledger.Reserve(ctx, tx, line.ItemID, delta); err != nil {
			return change, err
		}
	} else {
		if _, err := a.ledger.Release(ctx, tx, line.ItemID, -delta); err != nil {
			return change, err
		}
	}

	repo := NewRepository(tx)
	newPrice := lineTotal(line.UnitPriceAtOrderTime, newQty)
	change.PriceDelta = newPrice.Sub(line.PriceAtOrderTime)
	err := repo.UpdateLine(ctx, line.ID, map[string]any{
		"quantity_ordered":    newQty,
		"price_at_order_time": newPrice,
	})
	if err != nil {
		return change, pkgerrors.Classify(err, "update order line")
	}
	line.QuantityOrdered = newQty
	line.PriceAtOrderTime = newPrice
	change.Line = *line

	if err := a.moveTotal(ctx, repo, order, change.PriceDelta); err != nil {
		return change, err
	}
	return change, nil
}

// RemoveLine releases the line's stock, takes its price off the total and
// deletes it.
func (a *Aggregate) RemoveLine(ctx context.Context, tx *gorm.DB, order *models.Order, line *models.OrderLine) error {
	if tx == nil {
		return errTxRequired
	}
	if err := requirePending(order, "remove line"); err != nil {
		return err
	}
	if err := requireLineOnOrder(order, line); err != nil {
		return err
	}

	if _, err := a.ledger.Release(ctx, tx, line.ItemID, line.QuantityOrdered); err != nil {
		return err
	}
	repo := NewRepository(tx)
	if err := repo.DeleteLine(ctx, line.ID); err != nil {
		return pkgerrors.Classify(err, "delete order line")
	}
	return a.moveTotal(ctx, repo, order, line.PriceAtOrderTime.Neg())
}

// Restock releases every line's quantity back to the catalog. It is the
// compensating step of the transition out of Pending into Cancelled and is
// refused once the order has left Pending, so stock comes back at most once.
// Lines stay in place as the record of what was ordered.
func (a *Aggregate) Restock(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.OrderLine, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	if err := requirePending(order, "restock"); err != nil {
		return nil, err
	}
	lines, err := NewRepository(tx).ListLines(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "list order lines")
	}
	for _, line := range lines {
		if _, err := a.ledger.Release(ctx, tx, line.ItemID, line.QuantityOrdered); err != nil {
			return nil, err
		}
	}
	return lines, nil
}

// Cancel moves a pending order to Cancelled, restocking its lines first when
// restock is set.
func (a *Aggregate) Cancel(ctx context.Context, tx *gorm.DB, order *models.Order, restock bool) ([]models.OrderLine, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	if err := requirePending(order, "cancel"); err != nil {
		return nil, err
	}
	var restocked []models.OrderLine
	if restock {
		lines, err := a.Restock(ctx, tx, order)
		if err != nil {
			return nil, err
		}
		restocked = lines
	}

	now := time.Now().UTC()
	err := NewRepository(tx).UpdateOrder(ctx, order.ID, map[string]any{
		"status":       enums.OrderStatusCancelled,
		"cancelled_at": now,
	})
	if err != nil {
		return nil, pkgerrors.Classify(err, "cancel order")
	}
	order.Status = enums.OrderStatusCancelled
	order.CancelledAt = &now
	return restocked, nil
}

// MarkShipped moves a pending order to Shipped.
func (a *Aggregate) MarkShipped(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if tx == nil {
		return errTxRequired
	}
	if err := requirePending(order, "ship"); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := NewRepository(tx).UpdateOrder(ctx, order.ID, map[string]any{
		"status":     enums.OrderStatusShipped,
		"shipped_at": now,
	})
	if err != nil {
		return pkgerrors.Classify(err, "ship order")
	}
	order.Status = enums.OrderStatusShipped
	order.ShippedAt = &now
	return nil
}

// MarkDelivered moves a shipped order to Delivered.
func (a *Aggregate) MarkDelivered(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if tx == nil {
		return errTxRequired
	}
	if order.Status != enums.OrderStatusShipped {
		return invalidState(order, "deliver")
	}
	now := time.Now().UTC()
	err := NewRepository(tx).UpdateOrder(ctx, order.ID, map[string]any{
		"status":       enums.OrderStatusDelivered,
		"delivered_at": now,
	})
	if err != nil {
		return pkgerrors.Classify(err, "deliver order")
	}
	order.Status = enums.OrderStatusDelivered
	order.DeliveredAt = &now
	return nil
}

// ApplyPatch changes the settable order fields and returns the names of the
// columns that changed.
func (a *Aggregate) ApplyPatch(ctx context.Context, tx *gorm.DB, order *models.Order, patch OrderPatch) ([]string, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	if err := requirePending(order, "update"); err != nil {
		return nil, err
	}
	if patch.ShippingAddressID == nil || *patch.ShippingAddressID == order.ShippingAddressID {
		return nil, nil
	}

	repo := NewRepository(tx)
	addressID := *patch.ShippingAddressID
	if err := checkAddress(ctx, repo, order.ClientID, addressID); err != nil {
		return nil, err
	}
	if err := repo.UpdateOrder(ctx, order.ID, map[string]any{"shipping_address_id": addressID}); err != nil {
		return nil, pkgerrors.Classify(err, "update order")
	}
	order.ShippingAddressID = addressID
	return []string{"shipping_address_id"}, nil
}

// Delete removes the order with its lines and payments. A pending order has
// its stock released first; a cancelled one was already restocked on the way
// into Cancelled. Shipped and delivered orders cannot be deleted.
func (a *Aggregate) Delete(ctx context.Context, tx *gorm.DB, order *models.Order) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	restocked := false
	switch order.Status {
	case enums.OrderStatusPending:
		if _, err := a.Restock(ctx, tx, order); err != nil {
			return false, err
		}
		restocked = true
	case enums.OrderStatusCancelled:
	default:
		return false, invalidState(order, "delete")
	}

	if err := NewRepository(tx).DeleteOrder(ctx, order.ID); err != nil {
		return false, pkgerrors.Classify(err, "delete order")
	}
	return restocked, nil
}

// VerifyTotal checks order_total against the sum of its line prices.
func VerifyTotal(order models.Order, lines []models.OrderLine) error {
	sum := decimal.Zero
	for _, line := range lines {
		if line.OrderID != order.ID {
			continue
		}
		sum = sum.Add(line.PriceAtOrderTime)
	}
	if sum.Equal(order.OrderTotal) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeIntegrityViolation, "order total does not match its lines").
		WithDetails(map[string]any{
			"order_id":    order.ID.String(),
			"order_total": order.OrderTotal.StringFixed(2),
			"line_sum":    sum.StringFixed(2),
		})
}

func (a *Aggregate) moveTotal(ctx context.Context, repo Repository, order *models.Order, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	total := order.OrderTotal.Add(delta)
	if total.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeIntegrityViolation, "order total would become negative").
			WithDetails(map[string]any{"order_id": order.ID.String()})
	}
	if err := repo.UpdateOrder(ctx, order.ID, map[string]any{"order_total": total}); err != nil {
		return pkgerrors.Classify(err, "update order total")
	}
	order.OrderTotal = total
	return nil
}

func checkAddress(ctx context.Context, repo Repository, clientID, addressID uuid.UUID) error {
	address, err := repo.FindAddress(ctx, addressID)
	if err != nil {
		return pkgerrors.Classify(err, "load shipping address")
	}
	if address == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "shipping address not found").
			WithDetails(map[string]any{"address_id": addressID.String()})
	}
	if address.ClientID != clientID {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address belongs to another client").
			WithDetails(map[string]any{"address_id": addressID.String()})
	}
	return nil
}

func lineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

func requirePending(order *models.Order, action string) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusPending {
		return invalidState(order, action)
	}
	return nil
}

func requireLineOnOrder(order *models.Order, line *models.OrderLine) error {
	if line == nil || line.OrderID != order.ID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order line not found").
			WithDetails(map[string]any{"order_id": order.ID.String()})
	}
	return nil
}

func invalidState(order *models.Order, action string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidOrderState, fmt.Sprintf("cannot %s: order is %s", action, order.Status)).
		WithDetails(map[string]any{
			"order_id": order.ID.String(),
			"status":   order.Status,
		})
}

func orderNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
		WithDetails(map[string]any{"order_id": id.String()})
}

var errTxRequired = pkgerrors.New(pkgerrors.CodeInternal, "transaction required for order mutation")
