package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaNotifier publishes status changes as JSON records keyed by order id,
// so every change for one order lands on the same partition.
type KafkaNotifier struct {
	client producer
	topic  string
	close  func()
}

type statusChangedRecord struct {
	OrderID        string    `json:"order_id"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"payment_status"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CustomerEmail  string    `json:"customer_email,omitempty"`
	Total          int64     `json:"total"`
	SentAt         time.Time `json:"sent_at"`
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("notify: kafka brokers and topic are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: kafka client: %w", err)
	}
	return &KafkaNotifier{client: client, topic: topic, close: client.Close}, nil
}

func (n *KafkaNotifier) NotifyStatusChange(ctx context.Context, change notification.StatusChange) error {
	payload, err := json.Marshal(statusChangedRecord{
		OrderID:        change.OrderID,
		PreviousStatus: string(change.PreviousStatus),
		Status:         string(change.Status),
		PaymentStatus:  string(change.PaymentStatus),
		TrackingNumber: change.TrackingNumber,
		Reason:         change.Reason,
		CustomerEmail:  change.CustomerEmail,
		Total:          change.Total,
		SentAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: encode record: %w", err)
	}

	record := &kgo.Record{Topic: n.topic, Key: []byte(change.OrderID), Value: payload}
	if err := n.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("notify: produce: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() {
	if n.close != nil {
		n.close()
	}
}
