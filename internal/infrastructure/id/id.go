package id

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// OrderIDs produces human-readable ids like ORD-1718030000000-k3z9q.
type OrderIDs struct {
	Prefix string
	Now    func() time.Time
}

func NewOrderIDs(prefix string) *OrderIDs {
	if prefix == "" {
		prefix = "ORD"
	}
	return &OrderIDs{Prefix: prefix, Now: time.Now}
}

func (g *OrderIDs) NewID() string {
	return fmt.Sprintf("%s-%d-%s", g.Prefix, g.Now().UnixMilli(), randomBase36(5))
}

func randomBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			out[i] = base36[time.Now().UnixNano()%int64(len(base36))]
			continue
		}
		out[i] = base36[v.Int64()]
	}
	return string(out)
}

// UUIDs produces random v4 ids for records nobody types by hand.
type UUIDs struct{}

func (UUIDs) NewID() string { return uuid.NewString() }
