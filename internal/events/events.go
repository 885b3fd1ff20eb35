// Package events fans publication status changes out to the configured sinks.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ifuryst/ripplecast/internal/models"
)

// StatusChanged is emitted on every publication status transition.
type StatusChanged struct {
	PublicationID  string                   `json:"publication_id"`
	ContentID      string                   `json:"content_id"`
	Platform       models.Platform          `json:"platform"`
	Status         models.PublicationStatus `json:"status"`
	Previous       models.PublicationStatus `json:"previous,omitempty"`
	Attempt        int                      `json:"attempt,omitempty"`
	PlatformPostID string                   `json:"platform_post_id,omitempty"`
	Permalink      string                   `json:"permalink,omitempty"`
	ErrorCode      string                   `json:"error_code,omitempty"`
	ErrorMessage   string                   `json:"error_message,omitempty"`
	Retrying       bool                     `json:"retrying,omitempty"`
	At             time.Time                `json:"at"`
}

// Terminal reports whether the event closes an attempt.
func (e StatusChanged) Terminal() bool { return e.Status.Terminal() }

type Publisher interface {
	Publish(ctx context.Context, event StatusChanged) error
	Close() error
}

func encode(event StatusChanged) ([]byte, error) {
	return json.Marshal(event)
}

// traceHeaders carries the active span context to consumers.
func traceHeaders(ctx context.Context) map[string]string {
	headers := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

// Multi publishes to every sink and returns the joined failures.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event StatusChanged) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
