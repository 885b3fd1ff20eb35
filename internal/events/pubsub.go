package events

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
)

type PubSubPublisher struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	publish func(ctx context.Context, msg *pubsub.Message) error
	name    string
}

func NewPubSubPublisher(ctx context.Context, projectID, topic string) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	t := client.Topic(topic)
	t.EnableMessageOrdering = true
	p := &PubSubPublisher{client: client, topic: t, name: topic}
	p.publish = func(ctx context.Context, msg *pubsub.Message) error {
		_, err := t.Publish(ctx, msg).Get(ctx)
		return err
	}
	return p, nil
}

// Publish orders messages per publication so consumers see its transitions in sequence.
func (p *PubSubPublisher) Publish(ctx context.Context, e StatusChanged) error {
	ctx, span := otel.Tracer("ripplecast/events").Start(ctx, "events.pubsub.publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.name),
		),
	)
	defer span.End()

	body, err := encode(e)
	if err != nil {
		return err
	}
	attrs := traceHeaders(ctx)
	attrs["platform"] = string(e.Platform)
	attrs["status"] = string(e.Status)

	if err := p.publish(ctx, &pubsub.Message{Data: body, Attributes: attrs, OrderingKey: e.PublicationID}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish status event to Pub/Sub: %w", err)
	}
	return nil
}

func (p *PubSubPublisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
