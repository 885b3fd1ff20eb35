package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMQPublisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    amqpChannel
	exchange   string
	routingKey string
}

// DialRabbitMQ connects and declares the durable topic exchange events are published to.
func DialRabbitMQ(url, exchange, routingKey string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)
	go func() {
		for err := range notifyClose {
			logger.Warn("RabbitMQ connection closed", zap.Error(err))
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := newRabbitMQPublisher(ch, exchange, routingKey)
	p.conn = conn
	return p, nil
}

func newRabbitMQPublisher(ch amqpChannel, exchange, routingKey string) *RabbitMQPublisher {
	return &RabbitMQPublisher{channel: ch, exchange: exchange, routingKey: routingKey}
}

// Publish routes by <routing key>.<platform>.<status> so consumers can bind narrowly.
func (r *RabbitMQPublisher) Publish(ctx context.Context, e StatusChanged) error {
	key := fmt.Sprintf("%s.%s.%s", r.routingKey, e.Platform, e.Status)
	ctx, span := otel.Tracer("ripplecast/events").Start(ctx, "events.rabbitmq.publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKey.String(r.exchange),
			semconv.MessagingRabbitmqRoutingKeyKey.String(key),
		),
	)
	defer span.End()

	body, err := encode(e)
	if err != nil {
		return err
	}
	headers := amqp.Table{}
	for k, v := range traceHeaders(ctx) {
		headers[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.channel.Publish(r.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.PublicationID,
		Timestamp:    e.At,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish status event to RabbitMQ: %w", err)
	}
	span.SetAttributes(attribute.Int("messaging.message_payload_size_bytes", len(body)))
	return nil
}

func (r *RabbitMQPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.channel.Close(); err != nil {
		return err
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
