package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

type InventoryRepository struct {
	pool *pgxpool.Pool
}

var _ domain.Repository = (*InventoryRepository)(nil)

func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Item, error) {
	item := domain.Item{ProductID: productID}
	err := r.pool.QueryRow(ctx, `SELECT stock, updated_at FROM products WHERE product_id = $1`, productID).
		Scan(&item.Stock, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("inventory repository: get %s: %w", productID, err)
	}
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func (r *InventoryRepository) Put(ctx context.Context, item *domain.Item) error {
	if item == nil {
		return nil
	}
	if item.Stock < 0 {
		return domain.ErrInvalidQuantity
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO products (product_id, stock, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (product_id) DO UPDATE SET stock = EXCLUDED.stock, updated_at = EXCLUDED.updated_at`,
		item.ProductID, item.Stock,
	)
	if err != nil {
		return fmt.Errorf("inventory repository: put %s: %w", item.ProductID, err)
	}
	return nil
}

func (r *InventoryRepository) ConditionalDecrement(ctx context.Context, productID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	tag, err := r.pool.Exec(ctx, `UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE product_id = $1 AND stock >= $2`,
		productID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("inventory repository: decrement %s: %w", productID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *InventoryRepository) Increment(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO products (product_id, stock, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (product_id) DO UPDATE SET stock = products.stock + EXCLUDED.stock, updated_at = EXCLUDED.updated_at`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("inventory repository: increment %s: %w", productID, err)
	}
	return nil
}
