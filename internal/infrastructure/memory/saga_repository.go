package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/saga"
)

// SagaRepository keeps one saga per order id.
type SagaRepository struct {
	mu    sync.Mutex
	sagas map[string]*domain.Saga
}

func NewSagaRepository() *SagaRepository {
	return &SagaRepository{sagas: make(map[string]*domain.Saga)}
}

func (r *SagaRepository) Begin(ctx context.Context, s *domain.Saga) error {
	_ = ctx
	if s == nil || s.OrderID == "" {
		return fmt.Errorf("saga repository: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sagas[s.OrderID]; ok && !existing.Status.Reclaimable() {
		return domain.ErrConflict
	}
	r.sagas[s.OrderID] = s.Clone()
	return nil
}

func (r *SagaRepository) Save(ctx context.Context, s *domain.Saga) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sagas[s.OrderID]
	if !ok || existing.ID != s.ID {
		return domain.ErrNotFound
	}
	r.sagas[s.OrderID] = s.Clone()
	return nil
}

func (r *SagaRepository) Get(ctx context.Context, orderID string) (*domain.Saga, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sagas[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *SagaRepository) ListUnfinished(ctx context.Context, olderThan time.Time) ([]*domain.Saga, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Saga
	for _, s := range r.sagas {
		if s.Status.Finished() || s.UpdatedAt.After(olderThan) {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
