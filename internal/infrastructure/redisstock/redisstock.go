package redisstock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

const defaultPrefix = "stock:"

// decrementScript subtracts ARGV[1] from KEYS[1] only when enough stock is
// left. Returns -1 for a missing key, 0 when short, 1 when applied.
var decrementScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
local q = tonumber(ARGV[1])
if tonumber(v) < q then return 0 end
redis.call('DECRBY', KEYS[1], q)
return 1
`)

// Repository keeps one integer counter per product. Orders and sagas stay in
// the primary store; only the hot counters live in Redis.
type Repository struct {
	client redis.Cmdable
	prefix string
}

var _ domain.Repository = (*Repository)(nil)

func New(client redis.Cmdable, prefix string) *Repository {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Repository{client: client, prefix: prefix}
}

func (r *Repository) key(productID string) string { return r.prefix + productID }

func (r *Repository) Get(ctx context.Context, productID string) (*domain.Item, error) {
	stock, err := r.client.Get(ctx, r.key(productID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redisstock: get %s: %w", productID, err)
	}
	return &domain.Item{ProductID: productID, Stock: stock, UpdatedAt: time.Now().UTC()}, nil
}

func (r *Repository) Put(ctx context.Context, item *domain.Item) error {
	if item == nil {
		return nil
	}
	if item.Stock < 0 {
		return domain.ErrInvalidQuantity
	}
	if err := r.client.Set(ctx, r.key(item.ProductID), item.Stock, 0).Err(); err != nil {
		return fmt.Errorf("redisstock: set %s: %w", item.ProductID, err)
	}
	return nil
}

func (r *Repository) ConditionalDecrement(ctx context.Context, productID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, domain.ErrInvalidQuantity
	}
	res, err := decrementScript.Run(ctx, r.client, []string{r.key(productID)}, quantity).Int64()
	if err != nil {
		return false, fmt.Errorf("redisstock: decrement %s: %w", productID, err)
	}
	return res == 1, nil
}

func (r *Repository) Increment(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := r.client.IncrBy(ctx, r.key(productID), int64(quantity)).Err(); err != nil {
		return fmt.Errorf("redisstock: increment %s: %w", productID, err)
	}
	return nil
}
