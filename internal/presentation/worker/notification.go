package workerpresentation

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const componentNotificationWorker = "notification_worker"

type Notify = application.UseCase[notification.StatusChange, struct{}]

// NotificationWorker turns order.status_changed events into customer
// notifications. Delivery errors are logged and never retried here.
type NotificationWorker struct {
	subscriber domoutbox.Subscriber
	notify     Notify
	log        observability.Logger
	tel        observability.Observability
}

func NewNotificationWorker(subscriber domoutbox.Subscriber, notify Notify, tel observability.Observability) *NotificationWorker {
	tel = observability.Or(tel)
	return &NotificationWorker{
		subscriber: subscriber,
		notify:     notify,
		log:        tel.Logger().With(observability.F("component", componentNotificationWorker)),
		tel:        tel,
	}
}

func (w *NotificationWorker) Start() {
	if w.subscriber == nil || w.notify == nil {
		return
	}
	w.subscriber.Subscribe(domorder.StatusChangedEventName, w.handleStatusChanged)
}

func (w *NotificationWorker) handleStatusChanged(ctx context.Context, e domoutbox.Event) error {
	var evt domorder.StatusChangedEvent
	switch v := e.(type) {
	case domorder.StatusChangedEvent:
		evt = v
	case *domorder.StatusChangedEvent:
		if v == nil {
			return nil
		}
		evt = *v
	default:
		return nil
	}

	ctx = WithEventContext(ctx, logctx.FromOr(ctx, w.log), w.tel, map[string]string{
		"event":        e.EventName(),
		"order_status": string(evt.Status),
	})

	if _, err := w.notify.Execute(ctx, notification.FromEvent(evt)); err != nil {
		logctx.FromOr(ctx, w.log).Error("notification_failed",
			observability.F("order_id", evt.OrderID),
			observability.F("error", err.Error()),
		)
	}
	return nil
}
