package order

import (
	"context"
	"time"
)

// StatusUpdate is the set of fields a lifecycle transition may write.
type StatusUpdate struct {
	Status           Status
	PaymentStatus    PaymentStatus
	TrackingNumber   string
	GatewayPaymentID string
	GatewaySignature string
	FailureReason    string
	UpdatedAt        time.Time
}

// StatusUpdateOf captures the transition fields of o after a state change.
func StatusUpdateOf(o *Order) StatusUpdate {
	return StatusUpdate{
		Status:           o.Status,
		PaymentStatus:    o.PaymentStatus,
		TrackingNumber:   o.TrackingNumber,
		GatewayPaymentID: o.GatewayPaymentID,
		GatewaySignature: o.GatewaySignature,
		FailureReason:    o.FailureReason,
		UpdatedAt:        o.UpdatedAt,
	}
}

type Repository interface {
	// Insert stores a new order. ErrConflict when the id or gateway reference is taken.
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// FindByReferences matches on both the internal id and the gateway order reference.
	FindByReferences(ctx context.Context, id, gatewayOrderID string) (*Order, error)
	// UpdateStatus applies update only while the stored status equals expected
	// and reports how many records changed (0 or 1).
	UpdateStatus(ctx context.Context, id string, expected Status, update StatusUpdate) (int64, error)
}
