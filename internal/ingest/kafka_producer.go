package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/example/haul-dispatch/internal/models"
)

// messageWriter is the subset of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer messageWriter
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w}
}

// PublishTripEvent writes ev keyed by booking id so a trip's events stay ordered within a partition.
func (k *KafkaProducer) PublishTripEvent(ctx context.Context, ev models.TripEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode trip event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.BookingID), Value: b}); err != nil {
		return fmt.Errorf("publish %s for %s: %w", ev.Type, ev.BookingID, err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
