package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderLine pairs an order with one item. PriceAtOrderTime is always
// UnitPriceAtOrderTime multiplied by QuantityOrdered.
type OrderLine struct {
	ID                   uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID              uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_order_lines_order_item"`
	ItemID               uuid.UUID       `gorm:"column:item_id;type:uuid;not null;uniqueIndex:ux_order_lines_order_item"`
	QuantityOrdered      int             `gorm:"column:quantity_ordered;not null;check:chk_order_lines_quantity,quantity_ordered >= 1"`
	UnitPriceAtOrderTime decimal.Decimal `gorm:"column:unit_price_at_order_time;type:numeric(12,2);not null"`
	PriceAtOrderTime     decimal.Decimal `gorm:"column:price_at_order_time;type:numeric(12,2);not null"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
