package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Item is a sellable catalog entry owned by a company. StockAmount is only
// moved through the catalog ledger.
type Item struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID    uuid.UUID       `gorm:"column:company_id;type:uuid;not null;index:idx_items_company"`
	SKU          string          `gorm:"column:sku;not null;uniqueIndex:ux_items_sku"`
	Name         string          `gorm:"column:name;not null"`
	Description  *string         `gorm:"column:description"`
	Category     string          `gorm:"column:category;not null;default:'general'"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	StockAmount  int             `gorm:"column:stock_amount;not null;default:0;check:chk_items_stock_amount,stock_amount >= 0"`
	InitialStock int             `gorm:"column:initial_stock;not null;default:0"`
	ReorderLevel int             `gorm:"column:reorder_level;not null;default:0"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// NetChange is the signed stock movement since the item was stocked.
func (i Item) NetChange() int {
	return i.StockAmount - i.InitialStock
}

func (i *Item) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
