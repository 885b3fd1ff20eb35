package publisher

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
)

// Request is everything a provider needs to publish one publication.
type Request struct {
	PublicationID string
	Content       models.ContentSnapshot
	Account       *models.SocialAccount
	Attempt       int
}

// Result represents the result of a successful publish
type Result struct {
	PlatformPostID string         `json:"platform_post_id"`
	Permalink      string         `json:"permalink,omitempty"`
	PublishedAt    time.Time      `json:"published_at"`
	Method         string         `json:"method,omitempty"`
	Payload        map[string]any `json:"payload"`
}

// Provider publishes content to one platform.
type Provider interface {
	Platform() models.Platform
	Publish(ctx context.Context, req *Request) (*Result, error)
}

// Preflighter is implemented by providers that can run advisory checks before publishing.
// Warnings are logged and never abort the attempt.
type Preflighter interface {
	Preflight(ctx context.Context, req *Request) []string
}

// Resolver turns a content snapshot into outgoing captions and fetchable media URLs.
type Resolver interface {
	ResolveCaption(content models.ContentSnapshot, account *models.SocialAccount, platform models.Platform) string
	ResolveMediaURL(ctx context.Context, media models.Media, ttl time.Duration) (string, error)
}

// Deps are the collaborators injected into every provider.
type Deps struct {
	HTTP        *http.Client
	Resolver    Resolver
	Clock       poll.Clock
	Logger      *zap.Logger
	PollBounds  poll.Bounds
	CallTimeout time.Duration
	MediaTTL    time.Duration
}

// WithDefaults fills zero-valued dependencies.
func (d Deps) WithDefaults() Deps {
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 5 * time.Minute}
	}
	if d.Clock == nil {
		d.Clock = poll.RealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.CallTimeout <= 0 {
		d.CallTimeout = 60 * time.Second
	}
	if d.MediaTTL <= 0 {
		d.MediaTTL = time.Hour
	}
	if d.PollBounds.MinInterval <= 0 {
		d.PollBounds.MinInterval = 3 * time.Second
	}
	if d.PollBounds.MaxInterval <= 0 {
		d.PollBounds.MaxInterval = 30 * time.Second
	}
	if d.PollBounds.MaxWait <= 0 {
		d.PollBounds.MaxWait = 10 * time.Minute
	}
	return d
}

// MediaPolicy is the poll policy for processing one asset.
func (d Deps) MediaPolicy(m models.Media) poll.Policy {
	return poll.ForMedia(poll.MediaEstimate{DurationSec: m.DurationSec, SizeBytes: m.SizeBytes}, d.PollBounds)
}
