package inventory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeductNeverGoesNegative(t *testing.T) {
	item, err := NewItem("A", 3)
	require.NoError(t, err)

	assert.ErrorIs(t, item.Deduct(4), ErrInsufficientStock)
	assert.Equal(t, 3, item.Stock)

	require.NoError(t, item.Deduct(3))
	assert.Equal(t, 0, item.Stock)

	assert.ErrorIs(t, item.Deduct(0), ErrInvalidQuantity)
}

func TestNewItemRejectsNegativeStock(t *testing.T) {
	_, err := NewItem("A", -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestInsufficientStockErrorMatchesSentinel(t *testing.T) {
	var err error = &InsufficientStockError{ProductID: "B", ProductName: "Teapot"}
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Equal(t, "Teapot is out of stock", err.Error())

	err = &InsufficientStockError{ProductID: "B"}
	assert.Equal(t, "B is out of stock", err.Error())
}
