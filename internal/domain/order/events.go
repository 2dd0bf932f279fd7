package order

import "time"

const StatusChangedEventName = "order.status_changed"

// StatusChangedEvent is emitted after every applied lifecycle transition.
// It carries enough of the order for notifiers to reach the customer.
type StatusChangedEvent struct {
	OrderID        string
	GatewayOrderID string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	PreviousStatus Status
	Status         Status
	PaymentStatus  PaymentStatus
	TrackingNumber string
	Reason         string
	Total          int64
	OccurredAt     time.Time
}

func (StatusChangedEvent) EventName() string { return StatusChangedEventName }

func NewStatusChangedEvent(o *Order, previous Status) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:        o.ID,
		GatewayOrderID: o.GatewayOrderID,
		CustomerName:   o.Customer.Name,
		CustomerEmail:  o.Customer.Email,
		CustomerPhone:  o.Customer.Phone,
		PreviousStatus: previous,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		TrackingNumber: o.TrackingNumber,
		Reason:         o.FailureReason,
		Total:          o.Total,
		OccurredAt:     time.Now().UTC(),
	}
}
