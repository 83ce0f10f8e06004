package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
)

// Repository persists payment rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a repository to db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// FindByID returns nil, nil when the payment does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// LockByID selects the payment FOR UPDATE; nil, nil when missing.
func (r *Repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

// FindByReference returns nil, nil when the reference is unused.
func (r *Repository) FindByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("transaction_reference_number = ?", reference))
}

// FindCompletedForOrder returns the order's completed payment, if any.
func (r *Repository) FindCompletedForOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.first(r.db.WithContext(ctx).
		Where("order_id = ? AND status = ? AND voided_at IS NULL", orderID, enums.PaymentStatusCompleted))
}

// ListForOrder returns the order's payments, oldest first.
func (r *Repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ListForClient returns payments on any of the client's orders, newest first.
func (r *Repository) ListForClient(ctx context.Context, clientID uuid.UUID, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("orders.client_id = ?", clientID).
		Order("payments.created_at DESC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *Repository) first(query *gorm.DB) (*models.Payment, error) {
	var payment models.Payment
	err := query.First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
