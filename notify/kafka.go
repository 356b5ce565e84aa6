package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes each notification as a JSON message keyed by subscription id.
type Kafka struct {
	w     MessageWriter
	topic string
}

// NewKafka creates a Kafka notifier writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
	}, topic)
}

// NewKafkaWithWriter wraps an existing writer.
func NewKafkaWithWriter(w MessageWriter, topic string) *Kafka {
	return &Kafka{w: w, topic: topic}
}

// Notify publishes n.
func (k *Kafka) Notify(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return &ErrSendFailed{Notifier: "kafka", SubscriptionID: n.SubscriptionID,
			Cause: fmt.Errorf("marshal: %w", err)}
	}
	msg := kafka.Message{
		Key:   []byte(n.SubscriptionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
			{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return &ErrSendFailed{Notifier: "kafka", SubscriptionID: n.SubscriptionID,
			Cause: fmt.Errorf("write %s: %w", k.topic, err)}
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}
