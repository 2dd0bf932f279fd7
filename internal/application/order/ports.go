package order

import (
	"context"

	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

type IDGenerator interface {
	NewID() string
}

// StockReader backs the advisory availability check at checkout.
type StockReader interface {
	Get(ctx context.Context, productID string) (*dominventory.Item, error)
}
