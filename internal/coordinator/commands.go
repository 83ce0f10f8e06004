package coordinator

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/picknest-core/internal/catalog"
	"github.com/angelmondragon/picknest-core/internal/orders"
	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
)

// Actor is the verified caller identity handed over by the authentication
// layer. The coordinator trusts it for ownership checks.
type Actor struct {
	ID   uuid.UUID       `validate:"required"`
	Role enums.ActorRole `validate:"required,oneof=admin client company system"`
}

type OpenOrderCommand struct {
	Actor Actor
	// ClientID is only honoured for admin and system actors; a client always
	// opens orders for itself.
	ClientID          uuid.UUID
	ShippingAddressID uuid.UUID `validate:"required"`
	IdempotencyKey    string    `validate:"omitempty,max=128"`
}

type AddLineCommand struct {
	Actor          Actor
	OrderID        uuid.UUID `validate:"required"`
	ItemID         uuid.UUID `validate:"required"`
	Quantity       int       `validate:"min=1"`
	IdempotencyKey string    `validate:"omitempty,max=128"`
}

type ChangeLineQuantityCommand struct {
	Actor          Actor
	OrderID        uuid.UUID `validate:"required"`
	LineID         uuid.UUID `validate:"required"`
	Quantity       int       `validate:"min=1"`
	IdempotencyKey string    `validate:"omitempty,max=128"`
}

type RemoveLineCommand struct {
	Actor          Actor
	OrderID        uuid.UUID `validate:"required"`
	LineID         uuid.UUID `validate:"required"`
	IdempotencyKey string    `validate:"omitempty,max=128"`
}

type UpdateOrderCommand struct {
	Actor   Actor
	OrderID uuid.UUID `validate:"required"`
	Patch   orders.OrderPatch
}

type GetOrderQuery struct {
	Actor   Actor
	OrderID uuid.UUID `validate:"required"`
}

type ListPaymentsQuery struct {
	Actor   Actor
	OrderID uuid.UUID `validate:"required"`
}

// ClientPaymentsQuery lists a client's payments across orders. A zero
// Limit uses the default page size.
type ClientPaymentsQuery struct {
	Actor    Actor
	ClientID uuid.UUID `validate:"required"`
	Limit    int       `validate:"gte=0,lte=500"`
}

type CancelOrderCommand struct {
	Actor          Actor
	OrderID        uuid.UUID `validate:"required"`
	Reason         string    `validate:"max=256"`
	IdempotencyKey string    `validate:"omitempty,max=128"`
}

type DeleteOrderCommand struct {
	Actor   Actor
	OrderID uuid.UUID `validate:"required"`
}

type MarkDeliveredCommand struct {
	Actor   Actor
	OrderID uuid.UUID `validate:"required"`
}

type SettleCommand struct {
	Actor          Actor
	OrderID        uuid.UUID           `validate:"required"`
	Amount         decimal.Decimal
	Method         enums.PaymentMethod `validate:"required"`
	Reference      string              `validate:"required,max=128"`
	Currency       enums.Currency      `validate:"required,len=3"`
	PaymentDate    time.Time
	RequireReview  bool
	IdempotencyKey string `validate:"omitempty,max=128"`
}

type RevisePaymentCommand struct {
	Actor          Actor
	PaymentID      uuid.UUID `validate:"required"`
	Amount         decimal.Decimal
	Currency       enums.Currency `validate:"omitempty,len=3"`
	IdempotencyKey string         `validate:"omitempty,max=128"`
}

type VoidPaymentCommand struct {
	Actor          Actor
	PaymentID      uuid.UUID `validate:"required"`
	IdempotencyKey string    `validate:"omitempty,max=128"`
}

// StockCommand moves stock on one item outside of any order, e.g. a manual
// restock or a correction. Bare retries would double count, so callers are
// expected to send an idempotency key.
type StockCommand struct {
	Actor          Actor
	ItemID         uuid.UUID `validate:"required"`
	Quantity       int       `validate:"min=1"`
	IdempotencyKey string    `validate:"omitempty,max=128"`
}

type ItemStatusQuery struct {
	Actor  Actor
	ItemID uuid.UUID `validate:"required"`
}

type UpdateItemCommand struct {
	Actor  Actor
	ItemID uuid.UUID `validate:"required"`
	Patch  catalog.ItemPatch
}

// OrderView is the order snapshot returned after an order operation.
type OrderView struct {
	Order     models.Order
	Lines     []models.OrderLine
	Restocked bool
}

// PaymentView is the snapshot returned after a settlement operation.
type PaymentView struct {
	Payment   models.Payment
	Order     models.Order
	Restocked bool
}

// ItemView is the snapshot returned after a stock or catalog operation.
type ItemView struct {
	Item         models.Item
	BelowReorder bool
	NetChange    int
}

func newItemView(item models.Item) *ItemView {
	return &ItemView{
		Item:         item,
		BelowReorder: catalog.IsBelowReorder(item),
		NetChange:    item.NetChange(),
	}
}
