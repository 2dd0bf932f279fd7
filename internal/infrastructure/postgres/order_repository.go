package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type customerRecord struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type addressRecord struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type lineItemRecord struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

const orderColumns = `id, gateway_order_id, customer, shipping_address, items, shipping_fee, total,
	status, payment_status, tracking_number, gateway_payment_id, gateway_signature, failure_reason,
	created_at, updated_at`

type OrderRepository struct {
	pool *pgxpool.Pool
}

var _ domain.Repository = (*OrderRepository)(nil)

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	items := make([]lineItemRecord, len(o.Items))
	for i, li := range o.Items {
		items[i] = lineItemRecord(li)
	}

	_, err := r.pool.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.GatewayOrderID, customerRecord(o.Customer), addressRecord(o.ShippingAddress), items,
		o.ShippingFee, o.Total, string(o.Status), string(o.PaymentStatus), o.TrackingNumber,
		o.GatewayPaymentID, o.GatewaySignature, o.FailureReason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("order repository: insert %s: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *OrderRepository) FindByReferences(ctx context.Context, id, gatewayOrderID string) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND gateway_order_id = $2`, id, gatewayOrderID)
	return scanOrder(row)
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, expected domain.Status, update domain.StatusUpdate) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE orders
		SET status = $3, payment_status = $4, tracking_number = $5, gateway_payment_id = $6,
		    gateway_signature = $7, failure_reason = $8, updated_at = $9
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(update.Status), string(update.PaymentStatus), update.TrackingNumber,
		update.GatewayPaymentID, update.GatewaySignature, update.FailureReason, update.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("order repository: update %s: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o             domain.Order
		customer      customerRecord
		address       addressRecord
		items         []lineItemRecord
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.GatewayOrderID, &customer, &address, &items, &o.ShippingFee, &o.Total,
		&status, &paymentStatus, &o.TrackingNumber, &o.GatewayPaymentID, &o.GatewaySignature, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("order repository: scan: %w", err)
	}

	o.Customer = domain.Customer(customer)
	o.ShippingAddress = domain.ShippingAddress(address)
	o.Items = make([]domain.LineItem, len(items))
	for i, li := range items {
		o.Items[i] = domain.LineItem(li)
	}
	o.Status = domain.Status(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}
