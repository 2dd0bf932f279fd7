package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const (
	lifecycleService = "order-lifecycle"
	publishPeer      = "outbox"
	publishTimeout   = 300 * time.Millisecond
)

// ErrStaleStatus means the order changed between load and conditional write.
var ErrStaleStatus = errors.New("order: status changed concurrently")

var (
	ErrInvalidStateTransition = domain.ErrInvalidStateTransition
	ErrTrackingRequired       = domain.ErrTrackingRequired
)

// LifecycleManager applies order transitions with a conditional write on the
// current status and announces each applied change on the outbox.
type LifecycleManager struct {
	repo      domain.Repository
	publisher domoutbox.Publisher

	log          observability.Logger
	in           application.Instruments
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewLifecycleManager(repo domain.Repository, publisher domoutbox.Publisher, tel observability.Observability) *LifecycleManager {
	tel = observability.Or(tel)
	return &LifecycleManager{
		repo:         repo,
		publisher:    publisher,
		log:          tel.Logger().With(observability.F("service", lifecycleService)),
		in:           application.NewInstruments(tel),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// MarkPaid moves a pending order to processing/paid.
func (m *LifecycleManager) MarkPaid(ctx context.Context, orderID, paymentID, signature string) (*domain.Order, error) {
	return m.transition(ctx, "order.mark_paid", "MarkPaid", orderID,
		func(s domain.OrderState, o *domain.Order) (domain.OrderState, error) {
			return s.OnPaymentConfirmed(o, paymentID, signature)
		})
}

// MarkReservationFailed moves a pending order to cancelled/failed with reason.
func (m *LifecycleManager) MarkReservationFailed(ctx context.Context, orderID, paymentID, signature, reason string) (*domain.Order, error) {
	return m.transition(ctx, "order.mark_reservation_failed", "MarkReservationFailed", orderID,
		func(s domain.OrderState, o *domain.Order) (domain.OrderState, error) {
			return s.OnReservationFailed(o, paymentID, signature, reason)
		})
}

func (m *LifecycleManager) Ship(ctx context.Context, orderID, trackingNumber string) (*domain.Order, error) {
	return m.transition(ctx, "order.ship", "ShipOrder", orderID,
		func(s domain.OrderState, o *domain.Order) (domain.OrderState, error) {
			return s.OnShipped(o, trackingNumber)
		})
}

func (m *LifecycleManager) Deliver(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.transition(ctx, "order.deliver", "DeliverOrder", orderID,
		func(s domain.OrderState, o *domain.Order) (domain.OrderState, error) {
			return s.OnDelivered(o)
		})
}

// Cancel is the manual cancellation from pending or processing. Payment status
// and stock are left alone; refunds and restocking are handled outside.
func (m *LifecycleManager) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	return m.transition(ctx, "order.cancel", "CancelOrder", orderID,
		func(s domain.OrderState, o *domain.Order) (domain.OrderState, error) {
			return s.OnCancelled(o, reason)
		})
}

func (m *LifecycleManager) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return o, nil
}

type transitionFunc func(domain.OrderState, *domain.Order) (domain.OrderState, error)

func (m *LifecycleManager) transition(ctx context.Context, useCase, spanName, orderID string, fire transitionFunc) (_ *domain.Order, err error) {
	ctx, run := m.in.Start(ctx, m.log, useCase, spanName, attribute.String("order.id", orderID))
	run.With(observability.F("order_id", orderID))
	defer func() { run.End(err) }()

	current, err := m.repo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			run.Fail("ORDER_NOT_FOUND")
		} else {
			run.Fail("ORDER_LOAD_FAILED")
		}
		return nil, wrapRepositoryError(err)
	}

	previous := current.Status
	next := current.Clone()
	if _, err := fire(domain.StateOf(previous), next); err != nil {
		run.Fail("STATE_TRANSITION_REJECTED")
		run.With(observability.F("from", string(previous)))
		return nil, err
	}

	applied, err := m.repo.UpdateStatus(ctx, orderID, previous, domain.StatusUpdateOf(next))
	if err != nil {
		run.Fail("ORDER_UPDATE_FAILED")
		return nil, wrapRepositoryError(err)
	}
	if applied == 0 {
		run.Fail("STALE_STATUS")
		return nil, ErrStaleStatus
	}

	run.With(
		observability.F("from", string(previous)),
		observability.F("to", string(next.Status)),
	)
	run.Span().SetAttributes(attribute.String("order.status", string(next.Status)))

	if perr := m.publish(ctx, domain.NewStatusChangedEvent(next, previous)); perr != nil {
		run.Mark("EVENT_PUBLISH_FAILED")
		run.Span().RecordError(perr)
	}
	return next, nil
}

// publish is fire-and-forget: a failure is logged and never undoes the transition.
func (m *LifecycleManager) publish(ctx context.Context, evt domoutbox.Event) error {
	if m.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	start := time.Now()
	outcome := "success"
	err := m.publisher.Publish(pubCtx, evt)
	if err != nil {
		outcome = "error"
		logctx.FromOr(ctx, m.log).Warn("event_publish_failed",
			observability.F("event", evt.EventName()),
			observability.F("error", err.Error()),
		)
	}

	m.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", evt.EventName()),
		observability.L("outcome", outcome),
	)
	m.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", evt.EventName()),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", evt.EventName(), err)
	}
	return nil
}
