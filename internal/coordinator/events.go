package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/internal/payments"
	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
	"github.com/angelmondragon/picknest-core/pkg/outbox/payloads"
)

func (c *Coordinator) emitOrder(ctx context.Context, tx *gorm.DB, actor Actor, eventType enums.OutboxEventType, order *models.Order, restocked bool, reason string) error {
	return c.emit(ctx, tx, actor, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderEvent{
			OrderID:           order.ID,
			ClientID:          order.ClientID,
			ShippingAddressID: order.ShippingAddressID,
			Status:            order.Status,
			OrderTotal:        order.OrderTotal,
			Restocked:         restocked,
			Reason:            reason,
			OccurredAt:        time.Now().UTC(),
		},
	})
}

func (c *Coordinator) emitLine(ctx context.Context, tx *gorm.DB, actor Actor, eventType enums.OutboxEventType, order *models.Order, line models.OrderLine, previous int) error {
	return c.emit(ctx, tx, actor, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderLineEvent{
			OrderID:          order.ID,
			LineID:           line.ID,
			ItemID:           line.ItemID,
			Quantity:         line.QuantityOrdered,
			PreviousQuantity: previous,
			UnitPrice:        line.UnitPriceAtOrderTime,
			PriceAtOrderTime: line.PriceAtOrderTime,
			OrderTotal:       order.OrderTotal,
		},
	})
}

func (c *Coordinator) emitStock(ctx context.Context, tx *gorm.DB, actor Actor, eventType enums.OutboxEventType, item *models.Item, orderID *uuid.UUID, qty int) error {
	return c.emit(ctx, tx, actor, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateItem,
		AggregateID:   item.ID,
		Data: payloads.StockEvent{
			ItemID:       item.ID,
			CompanyID:    item.CompanyID,
			OrderID:      orderID,
			Quantity:     qty,
			StockAmount:  item.StockAmount,
			ReorderLevel: item.ReorderLevel,
		},
	})
}

// emitRestocked announces the stock returned by a cancellation with the
// post-release counters of each item.
func (c *Coordinator) emitRestocked(ctx context.Context, tx *gorm.DB, actor Actor, order *models.Order, lines []models.OrderLine) error {
	for _, line := range lines {
		item, err := c.catalog.Get(ctx, tx, line.ItemID)
		if err != nil {
			return err
		}
		orderID := order.ID
		if err := c.emitStock(ctx, tx, actor, enums.EventStockReleased, item, &orderID, line.QuantityOrdered); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) emitPayment(ctx context.Context, tx *gorm.DB, actor Actor, eventType enums.OutboxEventType, order *models.Order, payment models.Payment) error {
	reason := ""
	if payment.ReviewReason != nil {
		reason = *payment.ReviewReason
	}
	return c.emit(ctx, tx, actor, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data: payloads.PaymentEvent{
			PaymentID:     payment.ID,
			OrderID:       order.ID,
			Status:        payment.Status,
			AmountPaid:    payment.AmountPaid,
			OrderTotal:    order.OrderTotal,
			Currency:      payment.Currency,
			PaymentMethod: payment.PaymentMethod,
			Reference:     payment.TransactionReferenceNumber,
			ReviewReason:  reason,
			OrderStatus:   order.Status,
		},
	})
}

// emitOutcome queues the payment event and the order transition it caused.
func (c *Coordinator) emitOutcome(ctx context.Context, tx *gorm.DB, actor Actor, eventType enums.OutboxEventType, order *models.Order, outcome *payments.Outcome) error {
	if err := c.emitPayment(ctx, tx, actor, eventType, order, outcome.Payment); err != nil {
		return err
	}
	switch {
	case outcome.Shipped:
		return c.emitOrder(ctx, tx, actor, enums.EventOrderShipped, order, false, "")
	case outcome.Cancelled:
		if err := c.emitRestocked(ctx, tx, actor, order, outcome.Restocked); err != nil {
			return err
		}
		return c.emitOrder(ctx, tx, actor, enums.EventOrderCancelled, order, len(outcome.Restocked) > 0, string(eventType))
	}
	return nil
}
