package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/pipeline"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is satisfied by *amqp.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPListener forwards every event to a topic exchange, routed by event type.
type AMQPListener struct {
	pub      Publisher
	exchange string
}

func NewAMQPListener(pub Publisher, exchange string) *AMQPListener {
	return &AMQPListener{pub: pub, exchange: exchange}
}

// DialAMQP connects and declares the durable topic exchange.
func DialAMQP(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

func (l *AMQPListener) Name() string { return "amqp-relay" }

func (l *AMQPListener) Handle(ctx context.Context, evt *model.EventOutbox) ([]pipeline.Draft, error) {
	body, err := envelope(evt)
	if err != nil {
		return nil, err
	}
	err = l.pub.PublishWithContext(ctx, l.exchange, evt.EventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.EventID,
		Type:         evt.EventType,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("amqp publish: %w", err)
	}
	return nil, nil
}
