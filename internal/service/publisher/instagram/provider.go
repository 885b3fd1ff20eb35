package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
	"github.com/ifuryst/ripplecast/internal/service/publisher/graph"
)

const maxCarouselItems = 10

// Container states reported by status_code.
const (
	statusFinished   = "FINISHED"
	statusInProgress = "IN_PROGRESS"
	statusError      = "ERROR"
	statusExpired    = "EXPIRED"
	statusPublished  = "PUBLISHED"
)

type Config struct {
	GraphURL   string
	APIVersion string
}

// Provider publishes to Instagram professional accounts through media containers.
type Provider struct {
	cfg  Config
	deps publisher.Deps
}

func New(cfg Config, deps publisher.Deps) *Provider {
	return &Provider{cfg: cfg, deps: deps.WithDefaults()}
}

func (p *Provider) Platform() models.Platform { return models.PlatformInstagram }

func (p *Provider) base() string { return graph.Version(p.cfg.GraphURL, p.cfg.APIVersion) }

func (p *Provider) Publish(ctx context.Context, req *publisher.Request) (*publisher.Result, error) {
	s := publisher.NewSession(p.Platform(), p.deps, req, graph.Classify)
	res, err := p.publish(ctx, s)
	return s.Finish(res, err)
}

func (p *Provider) Preflight(ctx context.Context, req *publisher.Request) []string {
	s := publisher.NewSession(p.Platform(), p.deps, req, graph.Classify)
	warnings := publisher.CommonPreflight(ctx, s)
	c := req.Content
	if c.FormFactor == models.FormFactorCarousel && (len(c.Media) < 2 || len(c.Media) > maxCarouselItems) {
		warnings = append(warnings, fmt.Sprintf("carousel has %d items, instagram accepts 2 to %d", len(c.Media), maxCarouselItems))
	}
	return warnings
}

type container struct {
	params url.Values
	media  models.Media
	kind   string
}

func (p *Provider) publish(ctx context.Context, s *publisher.Session) (*publisher.Result, error) {
	acc, err := s.Account()
	if err != nil {
		return nil, err
	}
	content := s.Req.Content
	if len(content.Media) == 0 {
		return nil, publisher.ValidationError(p.Platform(), "instagram requires at least one media item")
	}

	var containerID string
	var kind string
	switch content.FormFactor {
	case models.FormFactorCarousel:
		kind = "CAROUSEL"
		containerID, err = p.carousel(ctx, s, acc)
	case models.FormFactorStory:
		kind = "STORIES"
		containerID, err = p.single(ctx, s, acc, content.Media[0], "STORIES")
	case models.FormFactorVerticalVideo:
		video, ok := content.FirstVideo()
		if !ok {
			return nil, publisher.ValidationError(p.Platform(), "vertical video content has no video")
		}
		kind = "REELS"
		containerID, err = p.single(ctx, s, acc, video, "REELS")
	case models.FormFactorFeedPost:
		m := content.Media[0]
		kind = "IMAGE"
		if m.IsVideo() {
			kind = "REELS"
		}
		containerID, err = p.single(ctx, s, acc, m, kind)
	default:
		return nil, publisher.ValidationError(p.Platform(), "form factor %s is not supported on instagram", content.FormFactor)
	}
	if err != nil {
		return nil, err
	}

	mediaID, err := p.publishContainer(ctx, s, acc, containerID)
	if err != nil {
		return nil, err
	}

	res := &publisher.Result{
		PlatformPostID: mediaID,
		Method:         strings.ToLower(kind),
		Payload:        map[string]any{"container_id": containerID, "media_type": kind},
	}
	return p.verify(ctx, s, acc, res), nil
}

// single creates one container and waits until it can be published.
func (p *Provider) single(ctx context.Context, s *publisher.Session, acc *models.SocialAccount, m models.Media, kind string) (string, error) {
	mediaURL, err := s.MediaURL(ctx, m)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	if kind != "IMAGE" {
		params.Set("media_type", kind)
	}
	if m.IsVideo() {
		params.Set("video_url", mediaURL)
	} else {
		params.Set("image_url", mediaURL)
	}
	if kind != "STORIES" {
		params.Set("caption", s.Caption())
	}
	if kind == "REELS" {
		params.Set("share_to_feed", "true")
		coverURL, offset, err := s.CoverURL(ctx)
		if err != nil {
			return "", err
		}
		if coverURL != "" {
			params.Set("cover_url", coverURL)
		} else if offset > 0 {
			params.Set("thumb_offset", strconv.FormatInt(offset, 10))
		}
	}

	id, err := p.createContainer(ctx, s, acc, "create_container", params)
	if err != nil {
		return "", err
	}
	if err := p.waitContainer(ctx, s, acc, id, p.deps.MediaPolicy(m)); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Provider) carousel(ctx context.Context, s *publisher.Session, acc *models.SocialAccount) (string, error) {
	items := s.Req.Content.Media
	if len(items) > maxCarouselItems {
		items = items[:maxCarouselItems]
		s.Logger.Warn("Carousel truncated", zap.Int("items", len(s.Req.Content.Media)))
	}

	var children []string
	var largest models.Media
	for i, m := range items {
		mediaURL, err := s.MediaURL(ctx, m)
		if err != nil {
			return "", err
		}
		params := url.Values{"is_carousel_item": {"true"}}
		if m.IsVideo() {
			params.Set("media_type", "VIDEO")
			params.Set("video_url", mediaURL)
		} else {
			params.Set("image_url", mediaURL)
		}
		id, err := p.createContainer(ctx, s, acc, fmt.Sprintf("create_child_%d", i+1), params)
		if err != nil {
			return "", err
		}
		if err := p.waitContainer(ctx, s, acc, id, p.deps.MediaPolicy(m)); err != nil {
			return "", err
		}
		children = append(children, id)
		if m.SizeBytes > largest.SizeBytes {
			largest = m
		}
	}

	params := url.Values{
		"media_type": {"CAROUSEL"},
		"children":   {strings.Join(children, ",")},
		"caption":    {s.Caption()},
	}
	id, err := p.createContainer(ctx, s, acc, "create_container", params)
	if err != nil {
		return "", err
	}
	if err := p.waitContainer(ctx, s, acc, id, p.deps.MediaPolicy(largest)); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Provider) createContainer(ctx context.Context, s *publisher.Session, acc *models.SocialAccount, step string, params url.Values) (string, error) {
	params.Set("access_token", acc.AccessToken)
	var out struct {
		ID string `json:"id"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   step,
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/%s/media", p.base(), acc.ExternalID),
		Form:   params,
		Out:    &out,
	}); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", publisher.TransientError(p.Platform(), nil, "container create returned no id")
	}
	return out.ID, nil
}

// waitContainer polls status_code until FINISHED. ERROR ends the attempt before anything is published.
func (p *Provider) waitContainer(ctx context.Context, s *publisher.Session, acc *models.SocialAccount, id string, policy poll.Policy) error {
	return s.Poll(ctx, "container_status", policy, func(ctx context.Context, attempt int) (bool, error) {
		var out struct {
			StatusCode string `json:"status_code"`
			Status     string `json:"status"`
		}
		_, err := s.Client.Do(ctx, publisher.Call{
			Step:   "container_status",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/%s", p.base(), id),
			Query:  url.Values{"fields": {"status_code,status"}, "access_token": {acc.AccessToken}},
			Out:    &out,
		})
		if err != nil {
			if publisher.IsRetryable(err) {
				s.Logger.Debug("Container status check failed, will retry", zap.Error(err))
				return false, nil
			}
			return false, err
		}

		switch out.StatusCode {
		case statusFinished, statusPublished:
			return true, nil
		case statusError:
			return false, publisher.ValidationError(p.Platform(), "container %s failed processing: %s", id, out.Status).
				With("container_id", id).With("status_code", out.StatusCode)
		case statusExpired:
			return false, publisher.TransientError(p.Platform(), nil, "container %s expired before publishing", id).
				With("container_id", id)
		default:
			return false, nil
		}
	})
}

func (p *Provider) publishContainer(ctx context.Context, s *publisher.Session, acc *models.SocialAccount, containerID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "media_publish",
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/%s/media_publish", p.base(), acc.ExternalID),
		Form:   url.Values{"creation_id": {containerID}, "access_token": {acc.AccessToken}},
		Out:    &out,
	}); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", publisher.TransientError(p.Platform(), nil, "media_publish returned no media id")
	}
	return out.ID, nil
}

// verify reads the published media back. A failed read-back trusts the publish response.
func (p *Provider) verify(ctx context.Context, s *publisher.Session, acc *models.SocialAccount, res *publisher.Result) *publisher.Result {
	policy := poll.Policy{
		Interval: p.deps.PollBounds.MinInterval,
		MaxWait:  3 * p.deps.PollBounds.MinInterval,
	}
	var permalink string
	err := policy.Run(ctx, p.deps.Clock, func(ctx context.Context, attempt int) (bool, error) {
		var out struct {
			ID        string `json:"id"`
			Permalink string `json:"permalink"`
		}
		_, err := s.Client.Do(ctx, publisher.Call{
			Step:   "verify",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/%s", p.base(), res.PlatformPostID),
			Query:  url.Values{"fields": {"id,permalink,timestamp"}, "access_token": {acc.AccessToken}},
			Out:    &out,
		})
		if err != nil {
			if publisher.IsRetryable(err) {
				return false, nil
			}
			return false, err
		}
		permalink = out.Permalink
		return out.ID != "", nil
	})
	if err != nil {
		s.Logger.Info("Instagram read-back unavailable, trusting publish response",
			zap.String("media_id", res.PlatformPostID), zap.Error(err))
		return publisher.Trusted(res, "verification read-back unavailable")
	}
	res.Permalink = permalink
	return publisher.Verified(res)
}
