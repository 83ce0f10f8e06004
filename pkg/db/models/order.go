package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/enums"
)

// Order is a client's purchase. OrderTotal always equals the sum of its
// lines' PriceAtOrderTime and is maintained by deltas.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ClientID          uuid.UUID         `gorm:"column:client_id;type:uuid;not null;index:idx_orders_client"`
	ShippingAddressID uuid.UUID         `gorm:"column:shipping_address_id;type:uuid;not null"`
	Status            enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending';index:idx_orders_status_created"`
	OrderTotal        decimal.Decimal   `gorm:"column:order_total;type:numeric(12,2);not null;default:0"`
	ShippedAt         *time.Time        `gorm:"column:shipped_at"`
	DeliveredAt       *time.Time        `gorm:"column:delivered_at"`
	CancelledAt       *time.Time        `gorm:"column:cancelled_at"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime;index:idx_orders_status_created"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
