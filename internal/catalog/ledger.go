package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
	"github.com/angelmondragon/picknest-core/pkg/outbox"
	"github.com/angelmondragon/picknest-core/pkg/outbox/payloads"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Ledger owns item stock counters. Callers never write stock_amount
// directly; they reserve and release through the ledger inside their
// transaction.
type Ledger struct {
	db     *gorm.DB
	outbox outboxPublisher
}

// ItemPatch lists the catalog fields that may be changed from outside the
// ledger. Stock counters are not part of it.
type ItemPatch struct {
	Name         *string
	Description  *string
	Category     *string
	Price        *decimal.Decimal
	ReorderLevel *int
}

// NewLedger builds a ledger. db serves the read-only queries; publisher may be
// nil, in which case reorder crossings are not announced.
func NewLedger(db *gorm.DB, publisher outboxPublisher) *Ledger {
	return &Ledger{db: db, outbox: publisher}
}

// Reserve takes qty units from the item and returns the updated row. The
// stock check and the decrement are a single guarded UPDATE.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, qty int) (*models.Item, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for stock reservation")
	}
	if qty < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
			WithDetails(map[string]any{"quantity": qty})
	}

	repo := NewRepository(tx)
	ok, err := repo.DecrementStock(ctx, itemID, qty)
	if err != nil {
		return nil, pkgerrors.Classify(err, "reserve stock")
	}
	if !ok {
		item, err := repo.FindByID(ctx, itemID)
		if err != nil {
			return nil, pkgerrors.Classify(err, "load item")
		}
		if item == nil {
			return nil, itemNotFound(itemID)
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock to reserve").
			WithDetails(map[string]any{
				"item_id":   itemID.String(),
				"requested": qty,
				"available": item.StockAmount,
			})
	}

	item, err := repo.FindByID(ctx, itemID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "load item")
	}
	if item == nil {
		return nil, itemNotFound(itemID)
	}

	before := item.StockAmount + qty
	if before >= item.ReorderLevel && IsBelowReorder(*item) {
		if err := l.announceBelowReorder(ctx, tx, item); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// Release returns qty units to the item. There is no upper bound: released
// units always come from an earlier reservation on the same item.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, qty int) (*models.Item, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for stock release")
	}
	if qty < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
			WithDetails(map[string]any{"quantity": qty})
	}

	repo := NewRepository(tx)
	ok, err := repo.IncrementStock(ctx, itemID, qty)
	if err != nil {
		return nil, pkgerrors.Classify(err, "release stock")
	}
	if !ok {
		return nil, itemNotFound(itemID)
	}
	item, err := repo.FindByID(ctx, itemID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "load item")
	}
	if item == nil {
		return nil, itemNotFound(itemID)
	}
	return item, nil
}

// IsBelowReorder reports whether the item should be restocked.
func IsBelowReorder(item models.Item) bool {
	return item.StockAmount < item.ReorderLevel
}

// LockItems row-locks the given items in ascending id order and returns
// them in that order. Every id must exist.
func (l *Ledger) LockItems(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]models.Item, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for item locks")
	}
	ordered := SortedIDs(ids)
	items, err := NewRepository(tx).LockByIDs(ctx, ordered)
	if err != nil {
		return nil, pkgerrors.Classify(err, "lock items")
	}
	if len(items) == len(ordered) {
		return items, nil
	}

	found := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		found[item.ID] = struct{}{}
	}
	for _, id := range ordered {
		if _, ok := found[id]; !ok {
			return nil, itemNotFound(id)
		}
	}
	return items, nil
}

// Get loads one item through handle, which may be a transaction.
func (l *Ledger) Get(ctx context.Context, handle *gorm.DB, itemID uuid.UUID) (*models.Item, error) {
	if handle == nil {
		handle = l.db
	}
	item, err := NewRepository(handle).FindByID(ctx, itemID)
	if err != nil {
		return nil, pkgerrors.Classify(err, "load item")
	}
	if item == nil {
		return nil, itemNotFound(itemID)
	}
	return item, nil
}

// ApplyPatch updates the settable catalog fields and returns the updated item
// together with the names of the fields that actually changed.
func (l *Ledger) ApplyPatch(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, patch ItemPatch) (*models.Item, []string, error) {
	if tx == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for item update")
	}
	repo := NewRepository(tx)
	item, err := repo.FindByID(ctx, itemID)
	if err != nil {
		return nil, nil, pkgerrors.Classify(err, "load item")
	}
	if item == nil {
		return nil, nil, itemNotFound(itemID)
	}

	updates, err := patch.updates(*item)
	if err != nil {
		return nil, nil, err
	}
	if len(updates) == 0 {
		return item, nil, nil
	}

	wasBelow := IsBelowReorder(*item)
	if err := repo.UpdateFields(ctx, itemID, updates); err != nil {
		return nil, nil, pkgerrors.Classify(err, "update item")
	}
	updated, err := repo.FindByID(ctx, itemID)
	if err != nil {
		return nil, nil, pkgerrors.Classify(err, "load item")
	}
	if updated == nil {
		return nil, nil, itemNotFound(itemID)
	}
	if !wasBelow && IsBelowReorder(*updated) {
		if err := l.announceBelowReorder(ctx, tx, updated); err != nil {
			return nil, nil, err
		}
	}

	fields := make([]string, 0, len(updates))
	for column := range updates {
		fields = append(fields, column)
	}
	sort.Strings(fields)
	return updated, fields, nil
}

// ListBelowReorder reads items under their reorder level outside any
// transaction.
func (l *Ledger) ListBelowReorder(ctx context.Context, limit int) ([]models.Item, error) {
	items, err := NewRepository(l.db).ListBelowReorder(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Classify(err, "list items below reorder level")
	}
	return items, nil
}

func (l *Ledger) announceBelowReorder(ctx context.Context, tx *gorm.DB, item *models.Item) error {
	if l.outbox == nil {
		return nil
	}
	err := l.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockBelowReorder,
		AggregateType: enums.AggregateItem,
		AggregateID:   item.ID,
		Data: payloads.StockEvent{
			ItemID:       item.ID,
			CompanyID:    item.CompanyID,
			StockAmount:  item.StockAmount,
			ReorderLevel: item.ReorderLevel,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit stock below reorder event")
	}
	return nil
}

func (p ItemPatch) updates(current models.Item) (map[string]any, error) {
	updates := map[string]any{}
	details := map[string]string{}

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		switch {
		case name == "":
			details["name"] = "is required"
		case name != current.Name:
			updates["name"] = name
		}
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		if current.Description == nil || *current.Description != desc {
			updates["description"] = desc
		}
	}
	if p.Category != nil {
		category := strings.TrimSpace(*p.Category)
		switch {
		case category == "":
			details["category"] = "is required"
		case category != current.Category:
			updates["category"] = category
		}
	}
	if p.Price != nil {
		switch {
		case !p.Price.IsPositive():
			details["price"] = "must be greater than 0"
		case !p.Price.Equal(current.Price):
			updates["price"] = p.Price.Round(2)
		}
	}
	if p.ReorderLevel != nil {
		switch {
		case *p.ReorderLevel < 0:
			details["reorder_level"] = "must be at least 0"
		case *p.ReorderLevel != current.ReorderLevel:
			updates["reorder_level"] = *p.ReorderLevel
		}
	}

	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid item patch").WithDetails(details)
	}
	return updates, nil
}

// SortedIDs returns the distinct ids in ascending order, the order item locks
// are always taken in.
func SortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func itemNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "item not found").
		WithDetails(map[string]any{"item_id": id.String()})
}
