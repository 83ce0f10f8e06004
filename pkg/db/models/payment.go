package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/enums"
)

// Payment records one settlement attempt against an order.
type Payment struct {
	ID                         uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID                    uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index:idx_payments_order"`
	AmountPaid                 decimal.Decimal     `gorm:"column:amount_paid;type:numeric(12,2);not null"`
	Currency                   enums.Currency      `gorm:"column:currency;type:text;not null"`
	PaymentMethod              enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Status                     enums.PaymentStatus `gorm:"column:status;type:payment_status;not null"`
	TransactionReferenceNumber string              `gorm:"column:transaction_reference_number;not null;uniqueIndex:ux_payments_reference"`
	ReviewReason               *string             `gorm:"column:review_reason"`
	PaymentDate                time.Time           `gorm:"column:payment_date;not null"`
	VoidedAt                   *time.Time          `gorm:"column:voided_at"`
	CreatedAt                  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsVoided reports whether the payment has been voided.
func (p Payment) IsVoided() bool {
	return p.VoidedAt != nil
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
