package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
)

// Repository reads and writes item rows. Every write is scoped to the handle
// it was built with, which for mutations is always a transaction.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a repository to db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID returns nil, nil when the item does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	var item models.Item
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// LockByIDs selects the rows FOR UPDATE ordered by id.
func (r *Repository) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
	var items []models.Item
	if len(ids) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DecrementStock subtracts qty only while enough stock remains. It reports
// whether a row was updated.
func (r *Repository) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE items
		SET stock_amount = stock_amount - ?,
			updated_at = ?
		WHERE id = ? AND stock_amount >= ?
	`, qty, time.Now().UTC(), id, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementStock adds qty and reports whether the item exists.
func (r *Repository) IncrementStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE items
		SET stock_amount = stock_amount + ?,
			updated_at = ?
		WHERE id = ?
	`, qty, time.Now().UTC(), id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateFields applies a column map to one item.
func (r *Repository) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListBelowReorder returns items whose stock sits under their reorder level,
// lowest stock first.
func (r *Repository) ListBelowReorder(ctx context.Context, limit int) ([]models.Item, error) {
	var items []models.Item
	query := r.db.WithContext(ctx).
		Where("stock_amount < reorder_level").
		Order("stock_amount ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
