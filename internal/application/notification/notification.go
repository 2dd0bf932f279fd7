package notification

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

const (
	notificationService = "notification-service"
	useCaseNotify       = "notification.status_changed"
)

// StatusChange is what a customer is told after an order transition.
type StatusChange struct {
	OrderID        string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	PreviousStatus domorder.Status
	Status         domorder.Status
	PaymentStatus  domorder.PaymentStatus
	TrackingNumber string
	Reason         string
	Total          int64
}

func FromEvent(evt domorder.StatusChangedEvent) StatusChange {
	return StatusChange{
		OrderID:        evt.OrderID,
		CustomerName:   evt.CustomerName,
		CustomerEmail:  evt.CustomerEmail,
		CustomerPhone:  evt.CustomerPhone,
		PreviousStatus: evt.PreviousStatus,
		Status:         evt.Status,
		PaymentStatus:  evt.PaymentStatus,
		TrackingNumber: evt.TrackingNumber,
		Reason:         evt.Reason,
		Total:          evt.Total,
	}
}

type Notifier interface {
	NotifyStatusChange(ctx context.Context, change StatusChange) error
}

// NotifyUseCase delivers a status change to the configured notifier.
// Delivery failures are reported to the caller for logging only.
type NotifyUseCase struct {
	notifier Notifier

	log          observability.Logger
	in           application.Instruments
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewNotifyUseCase(notifier Notifier, tel observability.Observability) *NotifyUseCase {
	tel = observability.Or(tel)
	return &NotifyUseCase{
		notifier:     notifier,
		log:          tel.Logger().With(observability.F("service", notificationService)),
		in:           application.NewInstruments(tel),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

func (uc *NotifyUseCase) Execute(ctx context.Context, change StatusChange) (_ struct{}, err error) {
	ctx, run := uc.in.Start(ctx, uc.log, useCaseNotify, "NotifyStatusChange",
		attribute.String("order.id", change.OrderID),
		attribute.String("order.status", string(change.Status)),
	)
	run.With(
		observability.F("order_id", change.OrderID),
		observability.F("order_status", string(change.Status)),
	)
	defer func() { run.End(err) }()

	if uc.notifier == nil {
		run.Mark("NO_NOTIFIER")
		return struct{}{}, nil
	}

	start := time.Now()
	err = uc.notifier.NotifyStatusChange(ctx, change)
	outcome := "success"
	if err != nil {
		outcome = "error"
		run.Fail("NOTIFY_FAILED")
		err = fmt.Errorf("notify %s: %w", change.OrderID, err)
	}
	uc.extCounter.Add(1,
		observability.L("peer", "notifier"),
		observability.L("endpoint", "status_changed"),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", "notifier"),
		observability.L("endpoint", "status_changed"),
	)
	return struct{}{}, err
}
