package payment

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	appinventory "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	domsaga "github.com/Zhima-Mochi/minishop-checkout/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const (
	paymentService        = "payment-service"
	useCasePaymentVerify  = "payment.verify"
	releaseReasonConflict = "order left pending before payment was recorded"
)

var (
	ErrInvalidConfirmation = dompayment.ErrInvalidConfirmation
	ErrAuthentication      = errors.New("payment: signature verification failed")
	// ErrOrderNotFound means the gateway reports a charge we have no order for.
	ErrOrderNotFound = errors.New("payment: order not found, reconciliation required")
	ErrStorage       = application.ErrStorage
	ErrCompensation  = application.ErrCompensation
)

type Outcome string

const (
	OutcomePaid              Outcome = "paid"
	OutcomeAlreadyProcessed  Outcome = "already_processed"
	OutcomeReservationFailed Outcome = "reservation_failed"
)

type OrderFinder interface {
	FindByReferences(ctx context.Context, id, gatewayOrderID string) (*domorder.Order, error)
}

type Reserver interface {
	Reserve(ctx context.Context, o *domorder.Order) (*domsaga.Saga, error)
	Complete(ctx context.Context, s *domsaga.Saga) error
	Release(ctx context.Context, s *domsaga.Saga, reason string) error
}

type Lifecycle interface {
	MarkPaid(ctx context.Context, orderID, paymentID, signature string) (*domorder.Order, error)
	MarkReservationFailed(ctx context.Context, orderID, paymentID, signature, reason string) (*domorder.Order, error)
}

type Result struct {
	OrderID         string
	Outcome         Outcome
	OrderStatus     domorder.Status
	PaymentStatus   domorder.PaymentStatus
	Message         string
	FailedProductID string
}

// VerifyPaymentUseCase authenticates a gateway confirmation, reserves stock
// for the order and records the outcome. Redelivered confirmations are
// answered as already processed without touching stock.
type VerifyPaymentUseCase struct {
	verifier  dompayment.Verifier
	orders    OrderFinder
	reserver  Reserver
	lifecycle Lifecycle

	log observability.Logger
	in  application.Instruments
}

func NewVerifyPaymentUseCase(
	verifier dompayment.Verifier,
	orders OrderFinder,
	reserver Reserver,
	lifecycle Lifecycle,
	tel observability.Observability,
) *VerifyPaymentUseCase {
	tel = observability.Or(tel)
	return &VerifyPaymentUseCase{
		verifier:  verifier,
		orders:    orders,
		reserver:  reserver,
		lifecycle: lifecycle,
		log:       tel.Logger().With(observability.F("service", paymentService)),
		in:        application.NewInstruments(tel),
	}
}

func (uc *VerifyPaymentUseCase) Execute(ctx context.Context, cmd dompayment.Confirmation) (_ *Result, err error) {
	ctx, run := uc.in.Start(ctx, uc.log, useCasePaymentVerify, "VerifyPayment",
		attribute.String("order.id", cmd.InternalOrderID),
		attribute.String("payment.gateway_order_id", cmd.GatewayOrderID),
	)
	run.With(
		observability.F("order_id", cmd.InternalOrderID),
		observability.F("gateway_order_id", cmd.GatewayOrderID),
	)
	defer func() { run.End(err) }()
	// the workflow finishes even when the caller stops waiting
	ctx = context.WithoutCancel(ctx)

	if err := cmd.Validate(); err != nil {
		run.Fail("INVALID_PAYLOAD")
		return nil, err
	}
	if !uc.verifier.Verify(ctx, cmd) {
		run.Fail("AUTHENTICATION_FAILED")
		return nil, ErrAuthentication
	}

	o, err := uc.orders.FindByReferences(ctx, cmd.InternalOrderID, cmd.GatewayOrderID)
	if err != nil {
		if errors.Is(err, domorder.ErrNotFound) {
			run.Fail("ORDER_NOT_FOUND")
			return nil, ErrOrderNotFound
		}
		run.Fail("ORDER_LOOKUP_FAILED")
		return nil, fmt.Errorf("%w: find order: %w", ErrStorage, err)
	}
	if o.Status != domorder.StatusPending {
		run.Mark("ALREADY_PROCESSED")
		return alreadyProcessed(o), nil
	}

	s, err := uc.reserver.Reserve(ctx, o)
	if err != nil {
		return uc.reservationFailed(ctx, run, o, cmd, err)
	}

	paid, err := uc.lifecycle.MarkPaid(ctx, o.ID, cmd.GatewayPaymentID, cmd.Signature)
	if err != nil {
		return uc.markPaidFailed(ctx, run, o, s, err)
	}

	if cerr := uc.reserver.Complete(ctx, s); cerr != nil {
		// the recovery sweep rolls this saga forward
		logctx.FromOr(ctx, uc.log).Warn("saga_complete_failed", observability.F("error", cerr))
	}

	return &Result{
		OrderID:       paid.ID,
		Outcome:       OutcomePaid,
		OrderStatus:   paid.Status,
		PaymentStatus: paid.PaymentStatus,
		Message:       "Payment verified, order updated, and stock reserved.",
	}, nil
}

func (uc *VerifyPaymentUseCase) reservationFailed(ctx context.Context, run *application.Run, o *domorder.Order, cmd dompayment.Confirmation, err error) (*Result, error) {
	if errors.Is(err, appinventory.ErrClaimed) {
		run.Mark("ALREADY_PROCESSED")
		return alreadyProcessed(o), nil
	}

	var short *dominventory.InsufficientStockError
	if !errors.As(err, &short) {
		if errors.Is(err, ErrCompensation) {
			run.Fail("COMPENSATION_FAILED")
		} else {
			run.Fail("RESERVATION_FAILED")
		}
		return nil, err
	}
	run.With(observability.F("product_id", short.ProductID))

	cancelled, merr := uc.lifecycle.MarkReservationFailed(ctx, o.ID, cmd.GatewayPaymentID, cmd.Signature, short.Error())
	if errors.Is(err, ErrCompensation) {
		// stock is already short; the order must still not look payable
		run.Fail("COMPENSATION_FAILED")
		if merr != nil {
			return nil, errors.Join(err, merr)
		}
		return nil, err
	}
	if merr != nil {
		if errors.Is(merr, apporder.ErrStaleStatus) || errors.Is(merr, domorder.ErrInvalidStateTransition) {
			// someone else moved the order; our reservation was already given back
			run.Mark("ALREADY_PROCESSED")
			return alreadyProcessed(o), nil
		}
		run.Fail("ORDER_UPDATE_FAILED")
		return nil, fmt.Errorf("%w: mark reservation failed: %w", ErrStorage, merr)
	}

	run.Mark("INSUFFICIENT_STOCK")
	return &Result{
		OrderID:         cancelled.ID,
		Outcome:         OutcomeReservationFailed,
		OrderStatus:     cancelled.Status,
		PaymentStatus:   cancelled.PaymentStatus,
		Message:         fmt.Sprintf("Payment verified, but %s. The order has been cancelled.", short.Error()),
		FailedProductID: short.ProductID,
	}, nil
}

func (uc *VerifyPaymentUseCase) markPaidFailed(ctx context.Context, run *application.Run, o *domorder.Order, s *domsaga.Saga, err error) (*Result, error) {
	stale := errors.Is(err, apporder.ErrStaleStatus) || errors.Is(err, domorder.ErrInvalidStateTransition)
	reason := err.Error()
	if stale {
		reason = releaseReasonConflict
	}

	if rerr := uc.reserver.Release(ctx, s, reason); rerr != nil {
		run.Fail("COMPENSATION_FAILED")
		return nil, errors.Join(rerr, err)
	}
	if stale {
		run.Mark("ALREADY_PROCESSED")
		return alreadyProcessed(o), nil
	}
	run.Fail("ORDER_UPDATE_FAILED")
	if errors.Is(err, ErrStorage) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: mark paid: %w", ErrStorage, err)
}

func alreadyProcessed(o *domorder.Order) *Result {
	return &Result{
		OrderID:       o.ID,
		Outcome:       OutcomeAlreadyProcessed,
		OrderStatus:   o.Status,
		PaymentStatus: o.PaymentStatus,
		Message:       "Payment already confirmed for this order.",
	}
}
