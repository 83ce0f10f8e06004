package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/picknest-core/pkg/enums"
)

// OrderEvent carries an order state snapshot for lifecycle events
// (opened, updated, shipped, delivered, cancelled, deleted).
type OrderEvent struct {
	OrderID           uuid.UUID         `json:"order_id"`
	ClientID          uuid.UUID         `json:"client_id"`
	ShippingAddressID uuid.UUID         `json:"shipping_address_id"`
	Status            enums.OrderStatus `json:"status"`
	OrderTotal        decimal.Decimal   `json:"order_total"`
	Restocked         bool              `json:"restocked,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	OccurredAt        time.Time         `json:"occurred_at"`
}

// OrderLineEvent describes a line added, re-quantified or removed.
type OrderLineEvent struct {
	OrderID          uuid.UUID       `json:"order_id"`
	LineID           uuid.UUID       `json:"line_id"`
	ItemID           uuid.UUID       `json:"item_id"`
	Quantity         int             `json:"quantity"`
	PreviousQuantity int             `json:"previous_quantity,omitempty"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	PriceAtOrderTime decimal.Decimal `json:"price_at_order_time"`
	OrderTotal       decimal.Decimal `json:"order_total"`
}

// PaymentEvent reports a settlement outcome or a void.
type PaymentEvent struct {
	PaymentID     uuid.UUID           `json:"payment_id"`
	OrderID       uuid.UUID           `json:"order_id"`
	Status        enums.PaymentStatus `json:"status"`
	AmountPaid    decimal.Decimal     `json:"amount_paid"`
	OrderTotal    decimal.Decimal     `json:"order_total"`
	Currency      enums.Currency      `json:"currency"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Reference     string              `json:"transaction_reference_number"`
	ReviewReason  string              `json:"review_reason,omitempty"`
	OrderStatus   enums.OrderStatus   `json:"order_status"`
}

// StockEvent reports a stock counter movement on one item.
type StockEvent struct {
	ItemID       uuid.UUID  `json:"item_id"`
	CompanyID    uuid.UUID  `json:"company_id"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	Quantity     int        `json:"quantity"`
	StockAmount  int        `json:"stock_amount"`
	ReorderLevel int        `json:"reorder_level"`
}

// ItemUpdatedEvent lists the catalog fields changed by an item patch.
type ItemUpdatedEvent struct {
	ItemID    uuid.UUID `json:"item_id"`
	CompanyID uuid.UUID `json:"company_id"`
	Fields    []string  `json:"fields"`
}
