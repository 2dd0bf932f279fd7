package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

type InventoryRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Item
}

func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{
		items: make(map[string]*domain.Item),
	}
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Item, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(item), nil
}

func (r *InventoryRepository) Put(ctx context.Context, item *domain.Item) error {
	_ = ctx
	if item == nil {
		return nil
	}
	if item.Stock < 0 {
		return domain.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[item.ProductID] = cloneItem(item)
	return nil
}

func (r *InventoryRepository) ConditionalDecrement(ctx context.Context, productID string, quantity int) (bool, error) {
	_ = ctx
	if quantity <= 0 {
		return false, domain.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[productID]
	if !ok {
		return false, nil
	}
	if err := item.Deduct(quantity); err != nil {
		return false, nil
	}
	return true, nil
}

func (r *InventoryRepository) Increment(ctx context.Context, productID string, quantity int) error {
	_ = ctx
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[productID]
	if !ok {
		item = &domain.Item{ProductID: productID, UpdatedAt: time.Now().UTC()}
		r.items[productID] = item
	}
	return item.Restore(quantity)
}

func cloneItem(item *domain.Item) *domain.Item {
	if item == nil {
		return nil
	}
	clone := *item
	return &clone
}
