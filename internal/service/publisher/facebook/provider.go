package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
	"github.com/ifuryst/ripplecast/internal/service/publisher/graph"
	"github.com/ifuryst/ripplecast/pkg/util"
)

type Config struct {
	GraphURL       string
	VideoUploadURL string
	APIVersion     string
	// ChunkedVideoMin is the size from which feed videos use the resumable upload session.
	ChunkedVideoMin int64
}

// Provider publishes to Facebook Pages.
type Provider struct {
	cfg  Config
	deps publisher.Deps
}

func New(cfg Config, deps publisher.Deps) *Provider {
	return &Provider{cfg: cfg, deps: deps.WithDefaults()}
}

func (p *Provider) Platform() models.Platform { return models.PlatformFacebook }

func (p *Provider) base() string { return graph.Version(p.cfg.GraphURL, p.cfg.APIVersion) }

func (p *Provider) Publish(ctx context.Context, req *publisher.Request) (*publisher.Result, error) {
	s := publisher.NewSession(p.Platform(), p.deps, req, graph.Classify)
	res, err := p.publish(ctx, s)
	return s.Finish(res, err)
}

func (p *Provider) Preflight(ctx context.Context, req *publisher.Request) []string {
	s := publisher.NewSession(p.Platform(), p.deps, req, graph.Classify)
	warnings := publisher.CommonPreflight(ctx, s)
	if req.Account != nil && req.Account.PageID == "" {
		warnings = append(warnings, "no page id configured, publishing as the account external id")
	}
	return warnings
}

// page carries the resolved page identity for one attempt.
type page struct {
	id    string
	token string
}

func (p *Provider) publish(ctx context.Context, s *publisher.Session) (*publisher.Result, error) {
	acc, err := s.Account()
	if err != nil {
		return nil, err
	}
	pg := page{id: acc.PageID, token: acc.AccessToken}
	if pg.id == "" {
		pg.id = acc.ExternalID
	}

	content := s.Req.Content
	switch content.FormFactor {
	case models.FormFactorVerticalVideo:
		video, ok := content.FirstVideo()
		if !ok {
			return nil, publisher.ValidationError(p.Platform(), "vertical video content has no video")
		}
		return p.reel(ctx, s, pg, video)
	case models.FormFactorStory:
		if len(content.Media) == 0 {
			return nil, publisher.ValidationError(p.Platform(), "story requires media")
		}
		if m := content.Media[0]; m.IsVideo() {
			return p.videoStory(ctx, s, pg, m)
		}
		return p.photoStory(ctx, s, pg, content.Media[0])
	case models.FormFactorFeedPost, models.FormFactorCarousel, models.FormFactorText:
		if video, ok := content.FirstVideo(); ok && content.FormFactor == models.FormFactorFeedPost {
			return p.feedVideo(ctx, s, pg, video)
		}
		return p.feed(ctx, s, pg)
	default:
		return nil, publisher.ValidationError(p.Platform(), "form factor %s is not supported on facebook", content.FormFactor)
	}
}

// feed publishes photos, links and text through the fallback chain.
func (p *Provider) feed(ctx context.Context, s *publisher.Session, pg page) (*publisher.Result, error) {
	images := s.Req.Content.Images()
	caption := s.Caption()
	link := s.Req.Content.Link

	urls := make([]string, 0, len(images))
	for _, m := range images {
		u, err := s.MediaURL(ctx, m)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}

	chain := publisher.FallbackChain{
		Platform:       p.Platform(),
		ShouldFallback: fallbackOnRejection,
	}
	switch len(urls) {
	case 0:
		chain.Methods = []publisher.Method{{
			Name: "feed",
			Run: func(ctx context.Context) (*publisher.Result, error) {
				return p.postFeed(ctx, s, pg, "feed", url.Values{"message": {caption}, "link": {link}})
			},
		}}
	case 1:
		chain.Methods = []publisher.Method{
			{Name: "photo", Run: func(ctx context.Context) (*publisher.Result, error) {
				return p.postPhoto(ctx, s, pg, urls[0], caption)
			}},
			{Name: "feed_attached_media", Run: func(ctx context.Context) (*publisher.Result, error) {
				return p.postAttached(ctx, s, pg, urls, caption)
			}},
			{Name: "feed_link", Run: func(ctx context.Context) (*publisher.Result, error) {
				return p.postFeed(ctx, s, pg, "feed_link", url.Values{"message": {caption}, "link": {util.FirstNonEmpty(link, urls[0])}})
			}},
		}
	default:
		chain.Methods = []publisher.Method{
			{Name: "feed_attached_media", Run: func(ctx context.Context) (*publisher.Result, error) {
				return p.postAttached(ctx, s, pg, urls, caption)
			}},
			{Name: "feed_link", Run: func(ctx context.Context) (*publisher.Result, error) {
				return p.postFeed(ctx, s, pg, "feed_link", url.Values{"message": {caption}, "link": {util.FirstNonEmpty(link, urls[0])}})
			}},
		}
	}
	return chain.Run(ctx)
}

// fallbackOnRejection only falls back on request-shape rejections; throttling and auth errors end the chain.
func fallbackOnRejection(err error) bool {
	pe, ok := publisher.AsError(err)
	return ok && pe.Kind == publisher.KindValidation
}

func (p *Provider) postPhoto(ctx context.Context, s *publisher.Session, pg page, imageURL, caption string) (*publisher.Result, error) {
	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "photo",
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/%s/photos", p.base(), pg.id),
		Form:   url.Values{"url": {imageURL}, "message": {caption}, "published": {"true"}, "access_token": {pg.token}},
		Out:    &out,
	}); err != nil {
		return nil, err
	}
	id := util.FirstNonEmpty(out.PostID, out.ID)
	if id == "" {
		return nil, publisher.ValidationError(p.Platform(), "photo publish returned no id")
	}
	return &publisher.Result{PlatformPostID: id, Permalink: permalink(id)}, nil
}

// uploadUnpublished stages a photo that can be attached to a feed post or story.
func (p *Provider) uploadUnpublished(ctx context.Context, s *publisher.Session, pg page, step, imageURL string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   step,
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/%s/photos", p.base(), pg.id),
		Form:   url.Values{"url": {imageURL}, "published": {"false"}, "access_token": {pg.token}},
		Out:    &out,
	}); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", publisher.ValidationError(p.Platform(), "unpublished photo upload returned no id")
	}
	return out.ID, nil
}

func (p *Provider) postAttached(ctx context.Context, s *publisher.Session, pg page, urls []string, caption string) (*publisher.Result, error) {
	form := url.Values{"message": {caption}}
	for i, u := range urls {
		id, err := p.uploadUnpublished(ctx, s, pg, fmt.Sprintf("stage_photo_%d", i+1), u)
		if err != nil {
			return nil, err
		}
		form.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":"%s"}`, id))
	}
	return p.postFeed(ctx, s, pg, "feed_attached_media", form)
}

func (p *Provider) postFeed(ctx context.Context, s *publisher.Session, pg page, step string, form url.Values) (*publisher.Result, error) {
	if form.Get("link") == "" {
		form.Del("link")
	}
	if form.Get("message") == "" && form.Get("link") == "" && len(form) <= 1 {
		return nil, publisher.ValidationError(p.Platform(), "feed post needs a message, link or media")
	}
	form.Set("access_token", pg.token)

	var out struct {
		ID string `json:"id"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   step,
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/%s/feed", p.base(), pg.id),
		Form:   form,
		Out:    &out,
	}); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, publisher.ValidationError(p.Platform(), "feed publish returned no id")
	}
	return &publisher.Result{PlatformPostID: out.ID, Permalink: permalink(out.ID)}, nil
}

func (p *Provider) photoStory(ctx context.Context, s *publisher.Session, pg page, m models.Media) (*publisher.Result, error) {
	imageURL, err := s.MediaURL(ctx, m)
	if err != nil {
		return nil, err
	}
	photoID, err := p.uploadUnpublished(ctx, s, pg, "stage_story_photo", imageURL)
	if err != nil {
		return nil, err
	}

	var out struct {
		PostID  string `json:"post_id"`
		Success bool   `json:"success"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "photo_story",
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/%s/photo_stories", p.base(), pg.id),
		Form:   url.Values{"photo_id": {photoID}, "access_token": {pg.token}},
		Out:    &out,
	}); err != nil {
		return nil, err
	}
	if out.PostID == "" {
		return nil, publisher.ValidationError(p.Platform(), "photo story returned no post id")
	}
	return &publisher.Result{PlatformPostID: out.PostID, Method: "photo_story", Permalink: permalink(out.PostID)}, nil
}

func permalink(postID string) string {
	return "https://www.facebook.com/" + postID
}
