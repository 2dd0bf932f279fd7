package order

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: conflict")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount          = errors.New("order: amount must be zero or greater")
	ErrNoItems                = errors.New("order: at least one line item is required")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrTrackingRequired       = errors.New("order: tracking number is required to ship")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// LineItem is a snapshot of one cart entry taken when the order was created.
// UnitPrice is in minor currency units.
type LineItem struct {
	ProductID string
	Name      string
	Image     string
	UnitPrice int64
	Quantity  int
}

func (li LineItem) Subtotal() int64 { return li.UnitPrice * int64(li.Quantity) }

type Customer struct {
	Name  string
	Email string
	Phone string
}

type ShippingAddress struct {
	Line1      string
	City       string
	PostalCode string
	Country    string
}

type Order struct {
	ID              string
	GatewayOrderID  string
	Customer        Customer
	ShippingAddress ShippingAddress
	Items           []LineItem
	ShippingFee     int64
	Total           int64

	Status        Status
	PaymentStatus PaymentStatus

	TrackingNumber   string
	GatewayPaymentID string
	GatewaySignature string
	FailureReason    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds a pending order. Items are copied so later edits by the caller
// never reach the stored snapshot.
func New(id, gatewayOrderID string, customer Customer, address ShippingAddress, items []LineItem, shippingFee int64) (*Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("order: id is required")
	}
	if strings.TrimSpace(gatewayOrderID) == "" {
		return nil, errors.New("order: gateway order id is required")
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if shippingFee < 0 {
		return nil, ErrInvalidAmount
	}

	total := shippingFee
	snapshot := make([]LineItem, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, errors.New("order: product id is required")
		}
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if item.UnitPrice < 0 {
			return nil, ErrInvalidAmount
		}
		snapshot[i] = item
		total += item.Subtotal()
	}

	now := time.Now().UTC()
	return &Order{
		ID:              id,
		GatewayOrderID:  gatewayOrderID,
		Customer:        customer,
		ShippingAddress: address,
		Items:           snapshot,
		ShippingFee:     shippingFee,
		Total:           total,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Item returns the line item for productID, if the order has one.
func (o *Order) Item(productID string) (LineItem, bool) {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return LineItem{}, false
}

func (o *Order) IsTerminal() bool {
	return o.Status == StatusDelivered || o.Status == StatusCancelled
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem(nil), o.Items...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
