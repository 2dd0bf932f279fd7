package id

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIDFormat(t *testing.T) {
	g := NewOrderIDs("TYZ")
	g.Now = func() time.Time { return time.UnixMilli(1718030000000) }

	got := g.NewID()
	assert.Regexp(t, regexp.MustCompile(`^TYZ-1718030000000-[0-9a-z]{5}$`), got)
	assert.NotEqual(t, got, g.NewID())
}

func TestDefaultPrefix(t *testing.T) {
	assert.Equal(t, "ORD", NewOrderIDs("").Prefix)
}

func TestUUIDs(t *testing.T) {
	_, err := uuid.Parse(UUIDs{}.NewID())
	require.NoError(t, err)
}
