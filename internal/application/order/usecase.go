package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
)

var (
	ErrConflict = domain.ErrConflict
	ErrNotFound = domain.ErrNotFound
)

// CreateOrderUseCase records a pending order once the gateway has issued its
// order reference. Line items are priced by the caller's cart snapshot.
type CreateOrderUseCase struct {
	repo        domain.Repository
	stock       StockReader
	idGenerator IDGenerator
	shippingFee int64

	log observability.Logger
	in  application.Instruments
}

func NewCreateOrderUseCase(
	repo domain.Repository,
	stock StockReader,
	idGen IDGenerator,
	shippingFee int64,
	tel observability.Observability,
) *CreateOrderUseCase {
	tel = observability.Or(tel)
	return &CreateOrderUseCase{
		repo:        repo,
		stock:       stock,
		idGenerator: idGen,
		shippingFee: shippingFee,
		log:         tel.Logger().With(observability.F("service", orderService)),
		in:          application.NewInstruments(tel),
	}
}

type CreateOrderInput struct {
	GatewayOrderID  string
	Customer        domain.Customer
	ShippingAddress domain.ShippingAddress
	Items           []domain.LineItem
}

type CreateOrderResult struct {
	OrderID       string
	Status        domain.Status
	PaymentStatus domain.PaymentStatus
	Total         int64
}

// Execute performs the order creation flow.
func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *CreateOrderResult, err error) {
	ctx, run := uc.in.Start(ctx, uc.log, useCaseOrderCreate, "CreateOrder",
		attribute.String("order.gateway_order_id", cmd.GatewayOrderID),
		attribute.Int("order.items", len(cmd.Items)),
	)
	defer func() { run.End(err) }()
	span := run.Span()

	if strings.TrimSpace(cmd.GatewayOrderID) == "" {
		run.Fail("GATEWAY_ORDER_ID_REQUIRED")
		return nil, newValidation("gateway order id is required")
	}
	if strings.TrimSpace(cmd.Customer.Email) == "" {
		run.Fail("CUSTOMER_EMAIL_REQUIRED")
		return nil, newValidation("customer email is required")
	}
	if len(cmd.Items) == 0 {
		run.Fail("ITEMS_REQUIRED")
		return nil, newValidation("at least one line item is required")
	}
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			run.Fail("QUANTITY_INVALID")
			return nil, newValidation(fmt.Sprintf("quantity for %s must be greater than zero", item.ProductID))
		}
		if item.UnitPrice < 0 {
			run.Fail("PRICE_INVALID")
			return nil, newValidation(fmt.Sprintf("price for %s must be zero or greater", item.ProductID))
		}
	}
	if err := ctx.Err(); err != nil {
		run.Fail("CONTEXT_CANCELED")
		return nil, err
	}

	// Advisory only: the reservation at payment time is authoritative.
	if uc.stock != nil {
		for _, item := range cmd.Items {
			stock, serr := uc.stock.Get(ctx, item.ProductID)
			switch {
			case errors.Is(serr, dominventory.ErrNotFound):
				run.Fail("PRODUCT_NOT_FOUND")
				return nil, newValidation(fmt.Sprintf("product %s not found", item.ProductID))
			case serr != nil:
				run.Fail("STOCK_LOOKUP_FAILED")
				return nil, fmt.Errorf("%w: stock lookup: %w", application.ErrStorage, serr)
			case stock.Stock < item.Quantity:
				run.Fail("INSUFFICIENT_STOCK")
				return nil, &dominventory.InsufficientStockError{ProductID: item.ProductID, ProductName: item.Name}
			}
		}
	}

	orderID := uc.idGenerator.NewID()
	entity, derr := domain.New(orderID, cmd.GatewayOrderID, cmd.Customer, cmd.ShippingAddress, cmd.Items, uc.shippingFee)
	if derr != nil {
		run.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, derr)
	}
	if err := uc.repo.Insert(ctx, entity); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			run.Fail("GATEWAY_REFERENCE_TAKEN")
			return nil, ErrConflict
		}
		run.Fail("REPO_INSERT_FAILED")
		return nil, wrapRepositoryError(err)
	}

	run.With(observability.F("order_id", orderID), observability.F("total", entity.Total))
	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	span.AddEvent("order.created", trace.WithAttributes(attribute.String("order.id", orderID)))

	return &CreateOrderResult{
		OrderID:       entity.ID,
		Status:        entity.Status,
		PaymentStatus: entity.PaymentStatus,
		Total:         entity.Total,
	}, nil
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", application.ErrStorage, err)
	}
}

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", application.ErrValidation, msg)
}
