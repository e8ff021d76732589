package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/pipeline"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaListener forwards every event to a Kafka topic. It produces no notifications; the
// dedup ledger makes each event go out once per successful claim.
type KafkaListener struct {
	writer MessageWriter
}

func NewKafkaListener(w MessageWriter) *KafkaListener {
	return &KafkaListener{writer: w}
}

// NewKafkaWriter builds the producer for brokers and topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (l *KafkaListener) Name() string { return "kafka-relay" }

func (l *KafkaListener) Handle(ctx context.Context, evt *model.EventOutbox) ([]pipeline.Draft, error) {
	value, err := envelope(evt)
	if err != nil {
		return nil, err
	}
	msg := kafka.Message{
		// one key per aggregate keeps its events ordered on one partition
		Key:   []byte(evt.AggregateType + ":" + evt.AggregateID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(evt.EventID)},
			{Key: "event-type", Value: []byte(evt.EventType)},
			{Key: "message-id", Value: []byte(uuid.NewString())},
		},
	}
	if err := l.writer.WriteMessages(ctx, msg); err != nil {
		return nil, fmt.Errorf("kafka publish: %w", err)
	}
	return nil, nil
}
