package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// Item is the stock record for one product. Stock never goes below zero.
type Item struct {
	ProductID string
	Stock     int
	UpdatedAt time.Time
}

func NewItem(productID string, stock int) (*Item, error) {
	if productID == "" {
		return nil, errors.New("inventory: product id is required")
	}
	if stock < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Item{
		ProductID: productID,
		Stock:     stock,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Deduct applies a decrement only when enough stock remains.
func (i *Item) Deduct(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > i.Stock {
		return ErrInsufficientStock
	}
	i.Stock -= quantity
	i.touch()
	return nil
}

func (i *Item) Restore(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	i.Stock += quantity
	i.touch()
	return nil
}

func (i *Item) touch() {
	i.UpdatedAt = time.Now().UTC()
}

// InsufficientStockError names the line item that could not be reserved.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("%s is out of stock", name)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }
