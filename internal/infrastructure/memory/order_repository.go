package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type OrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]*domain.Order
	byGateway map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:    make(map[string]*domain.Order),
		byGateway: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	if _, exists := r.byGateway[order.GatewayOrderID]; exists {
		return domain.ErrConflict
	}

	r.orders[order.ID] = order.Clone()
	r.byGateway[order.GatewayOrderID] = order.ID
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByReferences(ctx context.Context, id, gatewayOrderID string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok || order.GatewayOrderID != gatewayOrderID {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, expected domain.Status, update domain.StatusUpdate) (int64, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok || order.Status != expected {
		return 0, nil
	}

	next := order.Clone()
	next.Status = update.Status
	next.PaymentStatus = update.PaymentStatus
	next.TrackingNumber = update.TrackingNumber
	next.GatewayPaymentID = update.GatewayPaymentID
	next.GatewaySignature = update.GatewaySignature
	next.FailureReason = update.FailureReason
	next.UpdatedAt = update.UpdatedAt
	r.orders[id] = next
	return 1, nil
}
