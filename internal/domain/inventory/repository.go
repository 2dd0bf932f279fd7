package inventory

import (
	"context"
)

type Repository interface {
	Get(ctx context.Context, productID string) (*Item, error)
	// Put creates or overwrites a stock record (catalog/admin edits).
	Put(ctx context.Context, item *Item) error
	// ConditionalDecrement subtracts quantity in a single atomic write when
	// stock >= quantity. It reports false, with a nil error, when the product
	// is missing or short.
	ConditionalDecrement(ctx context.Context, productID string, quantity int) (bool, error)
	// Increment adds quantity back; used for compensation.
	Increment(ctx context.Context, productID string, quantity int) error
}
