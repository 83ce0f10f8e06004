package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateItem    OutboxAggregateType = "item"
	AggregatePayment OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateItem,
	AggregatePayment,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderOpened              OutboxEventType = "order_opened"
	EventOrderUpdated             OutboxEventType = "order_updated"
	EventOrderLineAdded           OutboxEventType = "order_line_added"
	EventOrderLineQuantityChanged OutboxEventType = "order_line_quantity_changed"
	EventOrderLineRemoved         OutboxEventType = "order_line_removed"
	EventOrderShipped             OutboxEventType = "order_shipped"
	EventOrderDelivered           OutboxEventType = "order_delivered"
	EventOrderCancelled           OutboxEventType = "order_cancelled"
	EventOrderDeleted             OutboxEventType = "order_deleted"
	EventPaymentCompleted         OutboxEventType = "payment_completed"
	EventPaymentFailed            OutboxEventType = "payment_failed"
	EventPaymentFlagged           OutboxEventType = "payment_flagged"
	EventPaymentVoided            OutboxEventType = "payment_voided"
	EventStockReserved            OutboxEventType = "stock_reserved"
	EventStockReleased            OutboxEventType = "stock_released"
	EventStockBelowReorder        OutboxEventType = "stock_below_reorder"
	EventItemUpdated              OutboxEventType = "item_updated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderOpened,
	EventOrderUpdated,
	EventOrderLineAdded,
	EventOrderLineQuantityChanged,
	EventOrderLineRemoved,
	EventOrderShipped,
	EventOrderDelivered,
	EventOrderCancelled,
	EventOrderDeleted,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentFlagged,
	EventPaymentVoided,
	EventStockReserved,
	EventStockReleased,
	EventStockBelowReorder,
	EventItemUpdated,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why a row left the publish loop.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
