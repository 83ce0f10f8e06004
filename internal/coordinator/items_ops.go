package coordinator

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
	"github.com/angelmondragon/picknest-core/pkg/outbox/payloads"
)

// ReserveStock takes stock off an item outside of any order.
func (c *Coordinator) ReserveStock(ctx context.Context, cmd StockCommand) (*ItemView, error) {
	return c.moveStock(ctx, "reserve_stock", cmd, enums.EventStockReserved, c.catalog.Reserve)
}

// ReleaseStock puts stock back on an item outside of any order.
func (c *Coordinator) ReleaseStock(ctx context.Context, cmd StockCommand) (*ItemView, error) {
	return c.moveStock(ctx, "release_stock", cmd, enums.EventStockReleased, c.catalog.Release)
}

type stockMove func(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, qty int) (*models.Item, error)

func (c *Coordinator) moveStock(ctx context.Context, name string, cmd StockCommand, eventType enums.OutboxEventType, move stockMove) (*ItemView, error) {
	var view *ItemView
	err := c.execute(ctx, operation{
		name:    name,
		actor:   cmd.Actor,
		command: cmd,
		idemKey: cmd.IdempotencyKey,
		plan:    itemPlan(cmd.ItemID),
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			item, err := c.lockItem(ctx, tx, plan)
			if err != nil {
				return err
			}
			if err := authorizeItem(cmd.Actor, item, "move stock on this item"); err != nil {
				return err
			}

			moved, err := move(ctx, tx, item.ID, cmd.Quantity)
			if err != nil {
				return err
			}
			if err := c.emitStock(ctx, tx, cmd.Actor, eventType, moved, nil, cmd.Quantity); err != nil {
				return err
			}
			view = newItemView(*moved)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// UpdateItem patches the settable catalog fields of an item. Stock counters
// only move through reservations and releases.
func (c *Coordinator) UpdateItem(ctx context.Context, cmd UpdateItemCommand) (*ItemView, error) {
	var view *ItemView
	err := c.execute(ctx, operation{
		name:    "update_item",
		actor:   cmd.Actor,
		command: cmd,
		plan:    itemPlan(cmd.ItemID),
		run: func(ctx context.Context, tx *gorm.DB, plan lockPlan) error {
			item, err := c.lockItem(ctx, tx, plan)
			if err != nil {
				return err
			}
			if err := authorizeItem(cmd.Actor, item, "update this item"); err != nil {
				return err
			}

			updated, fields, err := c.catalog.ApplyPatch(ctx, tx, item.ID, cmd.Patch)
			if err != nil {
				return err
			}
			if len(fields) > 0 {
				err := c.emit(ctx, tx, cmd.Actor, outbox.DomainEvent{
					EventType:     enums.EventItemUpdated,
					AggregateType: enums.AggregateItem,
					AggregateID:   updated.ID,
					Data: payloads.ItemUpdatedEvent{
						ItemID:    updated.ID,
						CompanyID: updated.CompanyID,
						Fields:    fields,
					},
				})
				if err != nil {
					return err
				}
			}
			view = newItemView(*updated)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ItemStatus reports an item's stock counters and reorder state. Companies
// only see their own items.
func (c *Coordinator) ItemStatus(ctx context.Context, q ItemStatusQuery) (*ItemView, error) {
	var view *ItemView
	err := c.execute(ctx, operation{
		name:    "item_status",
		actor:   q.Actor,
		command: q,
		run: func(ctx context.Context, tx *gorm.DB, _ lockPlan) error {
			item, err := c.catalog.Get(ctx, tx, q.ItemID)
			if err != nil {
				return err
			}
			if q.Actor.Role == enums.ActorRoleCompany {
				if err := authorizeItem(q.Actor, item, "view this item"); err != nil {
					return err
				}
			}
			view = newItemView(*item)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func itemPlan(itemID uuid.UUID) func(context.Context, *gorm.DB) (lockPlan, error) {
	return func(context.Context, *gorm.DB) (lockPlan, error) {
		return lockPlan{items: []uuid.UUID{itemID}}, nil
	}
}

func (c *Coordinator) lockItem(ctx context.Context, tx *gorm.DB, plan lockPlan) (*models.Item, error) {
	items, err := c.catalog.LockItems(ctx, tx, plan.items)
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}
