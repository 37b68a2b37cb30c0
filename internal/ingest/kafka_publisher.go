package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/bottle-collector/internal/models"
	"github.com/example/bottle-collector/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards lifecycle events to a topic, keyed by pin id so
// every event of one pin lands on the same partition in order. Countdown
// and step events are only interesting to the device and are not forwarded.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				observability.EventsPublished.WithLabelValues("kafka", "error").Add(float64(len(msgs)))
				logger.Error("kafka write failed", "topic", topic, "messages", len(msgs), "error", err)
			}
		},
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

// Forwarded reports whether events of type t are published.
func Forwarded(t models.EventType) bool {
	switch t {
	case models.EventCountdown, models.EventStepAdvanced, models.EventRouteUpdated:
		return false
	}
	return true
}

func (k *KafkaPublisher) Publish(ctx context.Context, e models.Event) error {
	if !Forwarded(e.Type) {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.PinID), Value: b, Time: e.At}); err != nil {
		observability.EventsPublished.WithLabelValues("kafka", "error").Inc()
		return err
	}
	observability.EventsPublished.WithLabelValues("kafka", "ok").Inc()
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
