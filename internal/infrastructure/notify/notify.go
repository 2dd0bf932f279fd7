package notify

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

// LogNotifier writes the notification to the log. Used when no SMTP server is configured.
type LogNotifier struct {
	log observability.Logger
}

func NewLogNotifier(logger observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{log: logger.With(observability.F("component", "log-notifier"))}
}

func (n *LogNotifier) NotifyStatusChange(ctx context.Context, change notification.StatusChange) error {
	logctx.FromOr(ctx, n.log).Info("status_change_notification",
		observability.F("order_id", change.OrderID),
		observability.F("to", change.CustomerEmail),
		observability.F("status", string(change.Status)),
		observability.F("tracking_number", change.TrackingNumber),
	)
	return nil
}

// Multi fans a change out to every notifier and joins their errors.
type Multi []notification.Notifier

func (m Multi) NotifyStatusChange(ctx context.Context, change notification.StatusChange) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyStatusChange(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
