package workerpresentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/obstest"
)

type syncBus struct {
	handlers map[string][]domoutbox.Handler
}

func (b *syncBus) Subscribe(name string, h domoutbox.Handler) {
	if b.handlers == nil {
		b.handlers = map[string][]domoutbox.Handler{}
	}
	b.handlers[name] = append(b.handlers[name], h)
}

func (b *syncBus) Publish(ctx context.Context, e domoutbox.Event) error {
	for _, h := range b.handlers[e.EventName()] {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

type recordingNotify struct {
	got []notification.StatusChange
	err error
}

func (r *recordingNotify) Execute(_ context.Context, c notification.StatusChange) (struct{}, error) {
	r.got = append(r.got, c)
	return struct{}{}, r.err
}

func shippedEvent() domorder.StatusChangedEvent {
	return domorder.StatusChangedEvent{
		OrderID:        "ORD-1",
		CustomerEmail:  "ada@example.com",
		PreviousStatus: domorder.StatusProcessing,
		Status:         domorder.StatusShipped,
		TrackingNumber: "TRK-1",
	}
}

func TestNotificationWorkerDeliversStatusChanges(t *testing.T) {
	bus := &syncBus{}
	notify := &recordingNotify{}
	NewNotificationWorker(bus, notify, obstest.New()).Start()

	require.NoError(t, bus.Publish(context.Background(), shippedEvent()))
	evt := shippedEvent()
	require.NoError(t, bus.Publish(context.Background(), &evt))

	require.Len(t, notify.got, 2)
	assert.Equal(t, "ORD-1", notify.got[0].OrderID)
	assert.Equal(t, "TRK-1", notify.got[0].TrackingNumber)
	assert.Equal(t, domorder.StatusShipped, notify.got[1].Status)
}

func TestNotificationWorkerLogsFailures(t *testing.T) {
	tel := obstest.New()
	bus := &syncBus{}
	notify := &recordingNotify{err: errors.New("smtp down")}
	NewNotificationWorker(bus, notify, tel).Start()

	assert.NoError(t, bus.Publish(context.Background(), shippedEvent()))

	failures := tel.Log.Find("notification_failed")
	require.Len(t, failures, 1)
	assert.Equal(t, "error", failures[0].Level)
	assert.Equal(t, "ORD-1", failures[0].Fields["order_id"])
	assert.Equal(t, domorder.StatusChangedEventName, failures[0].Fields["event"])
	assert.NotEmpty(t, failures[0].Fields["event_id"])
}

func TestWithEventContextKeepsProvidedEventID(t *testing.T) {
	log := obstest.NewLogger()
	ctx := WithEventContext(context.Background(), log, nil, map[string]string{
		"event_id": "evt-9",
		"event":    "order.status_changed",
		"empty":    "",
	})

	logctx.From(ctx).Info("handled")

	entries := log.Find("handled")
	require.Len(t, entries, 1)
	assert.Equal(t, "evt-9", entries[0].Fields["event_id"])
	assert.Equal(t, "order.status_changed", entries[0].Fields["event"])
	assert.NotContains(t, entries[0].Fields, "empty")
	assert.NotContains(t, entries[0].Fields, "trace_id")
}
