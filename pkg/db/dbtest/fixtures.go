package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
)

// ItemSeed describes an item to insert. Zero values get usable defaults.
type ItemSeed struct {
	CompanyID    uuid.UUID
	Price        string
	Stock        int
	ReorderLevel int
}

// SeedItem inserts an item whose initial stock equals its stock.
func SeedItem(t testing.TB, conn *gorm.DB, seed ItemSeed) models.Item {
	t.Helper()
	if seed.CompanyID == uuid.Nil {
		seed.CompanyID = uuid.New()
	}
	if seed.Price == "" {
		seed.Price = "10.00"
	}
	id := uuid.New()
	item := models.Item{
		ID:           id,
		CompanyID:    seed.CompanyID,
		SKU:          fmt.Sprintf("SKU-%s", id.String()[:8]),
		Name:         "item " + id.String()[:8],
		Category:     "general",
		Price:        decimal.RequireFromString(seed.Price),
		StockAmount:  seed.Stock,
		InitialStock: seed.Stock,
		ReorderLevel: seed.ReorderLevel,
	}
	if err := conn.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

// SeedAddress inserts a shipping address owned by clientID.
func SeedAddress(t testing.TB, conn *gorm.DB, clientID uuid.UUID) models.Address {
	t.Helper()
	address := models.Address{
		ClientID:   clientID,
		Line1:      "1 Market Street",
		City:       "Nairobi",
		PostalCode: "00100",
		Country:    "KE",
	}
	if err := conn.Create(&address).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return address
}

// SeedOrder inserts an empty pending order for clientID with a fresh address.
func SeedOrder(t testing.TB, conn *gorm.DB, clientID uuid.UUID) models.Order {
	t.Helper()
	address := SeedAddress(t, conn, clientID)
	order := models.Order{
		ClientID:          clientID,
		ShippingAddressID: address.ID,
		Status:            enums.OrderStatusPending,
		OrderTotal:        decimal.Zero,
	}
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

// ReloadItem reads the item back from conn.
func ReloadItem(t testing.TB, conn *gorm.DB, id uuid.UUID) models.Item {
	t.Helper()
	var item models.Item
	if err := conn.First(&item, "id = ?", id).Error; err != nil {
		t.Fatalf("reload item: %v", err)
	}
	return item
}

// ReloadOrder reads the order back from conn.
func ReloadOrder(t testing.TB, conn *gorm.DB, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	if err := conn.First(&order, "id = ?", id).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return order
}
