package coordinator

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
)

// OpenOrder creates an empty pending order for the client.
func (c *Coordinator) OpenOrder(ctx context.Context, cmd OpenOrderCommand) (*OrderView, error) {
	var view *OrderView
	err := c.execute(ctx, operation{
		name:    "open_order",
		actor:   cmd.Actor,
		command: cmd,
		idemKey: cmd.IdempotencyKey,
		run: func(ctx context.Context, tx *gorm.DB, _ lockPlan) error {
			clientID, err := orderOwner(cmd)
			if err != nil {
				return err
			}
			order, err := c.orders.Open(ctx, tx, clientID, cmd.ShippingAddressID)
			if err != nil {
				return err
			}
			if err := c.emitOrder(ctx, tx, cmd.Actor, enums.EventOrderOpened, order, false, ""); err != nil {
				return err
			}
			view = &OrderView{Order: *order, Lines: []models.OrderLine{}}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// AddLine reserves stock for a new line on a pending order.
func (c *Coordinator) AddLine(ctx context.Context, cmd AddLineCommand) (*OrderView, error) {
	var view *OrderView
	err := c.execute(ctx, operation{
		name:    "add_line",
		actor:   cmd.Actor,
		command: cmd,
		idemKey: cmd.IdempotencyKey,
		plan: func(context.Context, *gorm.DB) (lockPlan, error) {
			return lockPlan{items: []uuid.UUID{cmd.ItemID}, order: cmd.OrderID}, nil
		},
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			items, err := c.catalog.LockItems(ctx, tx, plan.items)
			if err != nil {
				return err
			}
			order, err := c.orders.Lock(ctx, tx, plan.order)
			if err != nil {
				return err
			}
			if err := authorizeOrder(cmd.Actor, order, "modify this order"); err != nil {
				return err
			}

			item := &items[0]
			line, err := c.orders.AddLine(ctx, tx, order, item, cmd.Quantity)
			if err != nil {
				return err
			}
			if err := c.emitStock(ctx, tx, cmd.Actor, enums.EventStockReserved, item, &order.ID, cmd.Quantity); err != nil {
				return err
			}
			if err := c.emitLine(ctx, tx, cmd.Actor, enums.EventOrderLineAdded, order, *line, 0); err != nil {
				return err
			}
			view, err = c.orderView(ctx, tx, order)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ChangeLineQuantity moves a line to a new quantity at its original unit
// price, reserving or releasing the difference.
func (c *Coordinator) ChangeLineQuantity(ctx context.Context, cmd ChangeLineQuantityCommand) (*OrderView, error) {
	var view *OrderView
	err := c.execute(ctx, operation{
		name:    "change_line_quantity",
		actor:   cmd.Actor,
		command: cmd,
		idemKey: cmd.IdempotencyKey,
		plan:    c.linePlan(cmd.OrderID, cmd.LineID),
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			order, line, err := c.lockLine(ctx, tx, plan, cmd.LineID)
			if err != nil {
				return err
			}
			if err := authorizeOrder(cmd.Actor, order, "modify this order"); err != nil {
				return err
			}

			change, err := c.orders.ChangeLineQuantity(ctx, tx, order, line, cmd.Quantity)
			if err != nil {
				return err
			}
			// The aggregate reports an unchanged quantity as a zero-delta change.
			if delta := change.Line.QuantityOrdered - change.PreviousQuantity; delta != 0 {
				item, err := c.catalog.Get(ctx, tx, line.ItemID)
				if err != nil {
					return err
				}
				eventType, qty := enums.EventStockReserved, delta
				if delta < 0 {
					eventType, qty = enums.EventStockReleased, -delta
				}
				if err := c.emitStock(ctx, tx, cmd.Actor, eventType, item, &order.ID, qty); err != nil {
					return err
				}
				if err := c.emitLine(ctx, tx, cmd.Actor, enums.EventOrderLineQuantityChanged, order, change.Line, change.PreviousQuantity); err != nil {
					return err
				}
			}
			view, err = c.orderView(ctx, tx, order)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RemoveLine releases a line's stock and deletes it.
func (c *Coordinator) RemoveLine(ctx context.Context, cmd RemoveLineCommand) (*OrderView, error) {
	var view *OrderView
	err := c.execute(ctx, operation{
		name:    "remove_line",
		actor:   cmd.Actor,
		command: cmd,
		idemKey: cmd.IdempotencyKey,
		plan:    c.linePlan(cmd.OrderID, cmd.LineID),
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			order, line, err := c.lockLine(ctx, tx, plan, cmd.LineID)
			if err != nil {
				return err
			}
			if err := authorizeOrder(cmd.Actor, order, "modify this order"); err != nil {
				return err
			}

			if err := c.orders.RemoveLine(ctx, tx, order, line); err != nil {
				return err
			}
			item, err := c.catalog.Get(ctx, tx, line.ItemID)
			if err != nil {
				return err
			}
			if err := c.emitStock(ctx, tx, cmd.Actor, enums.EventStockReleased, item, &order.ID, line.QuantityOrdered); err != nil {
				return err
			}
			if err := c.emitLine(ctx, tx, cmd.Actor, enums.EventOrderLineRemoved, order, *line, 0); err != nil {
				return err
			}
			view, err = c.orderView(ctx, tx, order)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// UpdateOrder applies an order patch. Only the shipping address is settable.
func (c *Coordinator) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (*OrderView, error) {
	var view *OrderView
	err := c.execute(ctx, operation{
		name:    "update_order",
		actor:   cmd.Actor,
		command: cmd,
		plan: func(context.Context, *gorm.DB) (lockPlan, error) {
			return lockPlan{order: cmd.OrderID}, nil
		},
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			order, err := c.orders.Lock(ctx, tx, plan.order)
			if err != nil {
				return err
			}
			if err := authorizeOrder(cmd.Actor, order, "modify this order"); err != nil {
				return err
			}
			changed, err := c.orders.ApplyPatch(ctx, tx, order, cmd.Patch)
			if err != nil {
				return err
			}
			if len(changed) > 0 {
				if err := c.emitOrder(ctx, tx, cmd.Actor, enums.EventOrderUpdated, order, false, ""); err != nil {
					return err
				}
			}
			view, err = c.orderView(ctx, tx, order)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// CancelOrder cancels a pending order and returns all of its stock.
func (c *Coordinator) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (*OrderView, error) {
	var view *OrderView
	err := c.execute(ctx, operation{
		name:    "cancel_order",
		actor:   cmd.Actor,
		command: cmd,
		idemKey: cmd.IdempotencyKey,
		plan:    c.orderItemsPlan(cmd.OrderID),
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			order, err := c.lockOrderWithItems(ctx, tx, plan)
			if err != nil {
				return err
			}
			if err := authorizeOrder(cmd.Actor, order, "cancel this order"); err != nil {
				return err
			}

			restocked, err := c.orders.Cancel(ctx, tx, order, true)
			if err != nil {
				return err
			}
			if err := c.emitRestocked(ctx, tx, cmd.Actor, order, restocked); err != nil {
				return err
			}
			if err := c.emitOrder(ctx, tx, cmd.Actor, enums.EventOrderCancelled, order, len(restocked) > 0, cmd.Reason); err != nil {
				return err
			}
			view, err = c.orderView(ctx, tx, order)
			if err != nil {
				return err
			}
			view.Restocked = len(restocked) > 0
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// DeleteOrder removes a pending or cancelled order. Pending orders are
// restocked first.
func (c *Coordinator) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (*OrderView, error) {
	var view *OrderView
	err := c.execute(ctx, operation{
		name:    "delete_order",
		actor:   cmd.Actor,
		command: cmd,
		plan:    c.orderItemsPlan(cmd.OrderID),
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			order, err := c.lockOrderWithItems(ctx, tx, plan)
			if err != nil {
				return err
			}
			if err := authorizeOrder(cmd.Actor, order, "delete this order"); err != nil {
				return err
			}
			lines, err := c.orders.Lines(ctx, tx, order.ID)
			if err != nil {
				return err
			}

			restocked, err := c.orders.Delete(ctx, tx, order)
			if err != nil {
				return err
			}
			if restocked {
				if err := c.emitRestocked(ctx, tx, cmd.Actor, order, lines); err != nil {
					return err
				}
			}
			if err := c.emitOrder(ctx, tx, cmd.Actor, enums.EventOrderDeleted, order, restocked, ""); err != nil {
				return err
			}
			view = &OrderView{Order: *order, Lines: lines, Restocked: restocked}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// MarkDelivered completes a shipped order.
func (c *Coordinator) MarkDelivered(ctx context.Context, cmd MarkDeliveredCommand) (*OrderView, error) {
	var view *OrderView
	err := c.execute(ctx, operation{
		name:    "mark_delivered",
		actor:   cmd.Actor,
		command: cmd,
		plan: func(context.Context, *gorm.DB) (lockPlan, error) {
			return lockPlan{order: cmd.OrderID}, nil
		},
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			if err := requirePrivileged(cmd.Actor, "mark orders delivered"); err != nil {
				return err
			}
			order, err := c.orders.Lock(ctx, tx, plan.order)
			if err != nil {
				return err
			}
			if err := c.orders.MarkDelivered(ctx, tx, order); err != nil {
				return err
			}
			if err := c.emitOrder(ctx, tx, cmd.Actor, enums.EventOrderDelivered, order, false, ""); err != nil {
				return err
			}
			view, err = c.orderView(ctx, tx, order)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// GetOrder returns an order with its lines. Clients only see their own
// orders.
func (c *Coordinator) GetOrder(ctx context.Context, q GetOrderQuery) (*OrderView, error) {
	var view *OrderView
	err := c.execute(ctx, operation{
		name:    "get_order",
		actor:   q.Actor,
		command: q,
		run: func(ctx context.Context, tx *gorm.DB, _ lockPlan) error {
			order, err := c.orders.Get(ctx, tx, q.OrderID)
			if err != nil {
				return err
			}
			if err := authorizeOrder(q.Actor, order, "view this order"); err != nil {
				return err
			}
			view, err = c.orderView(ctx, tx, order)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// linePlan reads the line before locking to learn which item it holds.
func (c *Coordinator) linePlan(orderID, lineID uuid.UUID) func(ctx context.Context, db *gorm.DB) (lockPlan, error) {
	return func(ctx context.Context, db *gorm.DB) (lockPlan, error) {
		line, err := c.orders.Line(ctx, db, orderID, lineID)
		if err != nil {
			return lockPlan{}, err
		}
		return lockPlan{items: []uuid.UUID{line.ItemID}, order: orderID}, nil
	}
}

// lockLine row-locks the planned item and the order, then reloads the line
// under the order lock.
func (c *Coordinator) lockLine(ctx context.Context, tx *gorm.DB, plan lockPlan, lineID uuid.UUID) (*models.Order, *models.OrderLine, error) {
	if _, err := c.catalog.LockItems(ctx, tx, plan.items); err != nil {
		return nil, nil, err
	}
	order, err := c.orders.Lock(ctx, tx, plan.order)
	if err != nil {
		return nil, nil, err
	}
	line, err := c.orders.Line(ctx, tx, order.ID, lineID)
	if err != nil {
		return nil, nil, err
	}
	if len(plan.items) != 1 || plan.items[0] != line.ItemID {
		return nil, nil, errItemSetChanged
	}
	return order, line, nil
}
