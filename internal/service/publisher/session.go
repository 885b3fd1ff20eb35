package publisher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
)

// Session is the state of one publish attempt: resolved inputs plus the call transcript.
type Session struct {
	Platform   models.Platform
	Deps       Deps
	Req        *Request
	Client     *Client
	Transcript *Transcript
	Logger     *zap.Logger
}

func NewSession(platform models.Platform, deps Deps, req *Request, classify Classifier) *Session {
	tr := NewTranscript()
	client := NewClient(platform, deps, classify, tr)
	logger := deps.Logger.With(
		zap.String("platform", string(platform)),
		zap.String("publication_id", req.PublicationID),
	)
	return &Session{
		Platform:   platform,
		Deps:       deps,
		Req:        req,
		Client:     client,
		Transcript: tr,
		Logger:     logger,
	}
}

// Account returns the target account after checking the credential every provider needs.
func (s *Session) Account() (*models.SocialAccount, error) {
	if s.Req.Account == nil {
		return nil, ConfigError(s.Platform, "missing social account")
	}
	if err := Require(s.Platform,
		"access token", s.Req.Account.AccessToken,
		"account external id", s.Req.Account.ExternalID,
	); err != nil {
		return nil, err
	}
	return s.Req.Account, nil
}

func (s *Session) Caption() string {
	if s.Deps.Resolver == nil {
		return s.Req.Content.Caption
	}
	return s.Deps.Resolver.ResolveCaption(s.Req.Content, s.Req.Account, s.Platform)
}

// MediaURL resolves a media reference for this attempt. Resolution failures are configuration errors.
func (s *Session) MediaURL(ctx context.Context, m models.Media) (string, error) {
	if s.Deps.Resolver == nil {
		if m.PublicURL != "" {
			return m.PublicURL, nil
		}
		return "", ConfigError(s.Platform, "no media resolver for media %s", m.ID)
	}
	u, err := s.Deps.Resolver.ResolveMediaURL(ctx, m, s.Deps.MediaTTL)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		pe := ConfigError(s.Platform, "resolve media %s: %v", m.ID, err)
		pe.Err = err
		return "", pe
	}
	return u, nil
}

// CoverURL resolves the account specific cover image, if one was selected.
func (s *Session) CoverURL(ctx context.Context) (string, int64, error) {
	if s.Req.Account == nil {
		return "", 0, nil
	}
	cover, ok := s.Req.Content.CoverFor(s.Req.Account.ID)
	if !ok {
		return "", 0, nil
	}
	if cover.MediaID == "" {
		return "", cover.ThumbOffsetMs, nil
	}
	m, ok := s.Req.Content.MediaByID(cover.MediaID)
	if !ok {
		return "", cover.ThumbOffsetMs, nil
	}
	u, err := s.MediaURL(ctx, m)
	return u, cover.ThumbOffsetMs, err
}

// Poll runs policy on the session clock. Exhausting the wait budget becomes a retryable error.
func (s *Session) Poll(ctx context.Context, step string, policy poll.Policy, fn poll.Func) error {
	err := policy.Run(ctx, s.Deps.Clock, fn)
	if errors.Is(err, poll.ErrTimeout) {
		return TransientError(s.Platform, err, "%s did not reach a terminal state", step).
			With("step", step).
			With("max_wait", policy.MaxWait.String())
	}
	return err
}

// Now is the session clock time in UTC.
func (s *Session) Now() time.Time {
	return s.Deps.Clock.Now().UTC()
}

func (s *Session) Finish(res *Result, err error) (*Result, error) {
	if err == nil && res != nil && res.PublishedAt.IsZero() {
		res.PublishedAt = s.Now()
	}
	return s.Transcript.Finish(s.Platform, res, err)
}

// Trusted marks a result whose visibility could not be confirmed.
func Trusted(res *Result, reason string) *Result {
	if res.Payload == nil {
		res.Payload = make(map[string]any)
	}
	res.Payload["verified"] = false
	res.Payload["trusted_reason"] = reason
	return res
}

// Verified marks a result confirmed by a read-back.
func Verified(res *Result) *Result {
	if res.Payload == nil {
		res.Payload = make(map[string]any)
	}
	res.Payload["verified"] = true
	return res
}
