package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
)

type Config struct {
	APIURL     string
	APIVersion string
}

// Provider publishes member and organization shares to LinkedIn.
type Provider struct {
	cfg  Config
	deps publisher.Deps
}

func New(cfg Config, deps publisher.Deps) *Provider {
	return &Provider{cfg: cfg, deps: deps.WithDefaults()}
}

func (p *Provider) Platform() models.Platform { return models.PlatformLinkedIn }

func (p *Provider) Publish(ctx context.Context, req *publisher.Request) (*publisher.Result, error) {
	s := publisher.NewSession(p.Platform(), p.deps, req, classify)
	res, err := p.publish(ctx, s)
	return s.Finish(res, err)
}

func (p *Provider) Preflight(ctx context.Context, req *publisher.Request) []string {
	s := publisher.NewSession(p.Platform(), p.deps, req, classify)
	return publisher.CommonPreflight(ctx, s)
}

// author resolves the URN posts are published as. Organization pages win over the member.
func author(acc *models.SocialAccount) string {
	if urn := acc.Meta("author_urn"); urn != "" {
		return urn
	}
	if acc.PageID != "" {
		return "urn:li:organization:" + acc.PageID
	}
	if strings.HasPrefix(acc.ExternalID, "urn:li:") {
		return acc.ExternalID
	}
	return "urn:li:person:" + acc.ExternalID
}

func (p *Provider) headers() http.Header {
	return http.Header{
		"X-Restli-Protocol-Version": {"2.0.0"},
		"Linkedin-Version":          {p.cfg.APIVersion},
	}
}

func (p *Provider) publish(ctx context.Context, s *publisher.Session) (*publisher.Result, error) {
	acc, err := s.Account()
	if err != nil {
		return nil, err
	}
	s.Client.WithBearer(acc.AccessToken)
	owner := author(acc)

	content := s.Req.Content
	if content.FormFactor == models.FormFactorStory {
		return nil, publisher.ValidationError(p.Platform(), "linkedin does not support stories")
	}
	if video, ok := content.FirstVideo(); ok {
		return p.video(ctx, s, owner, video)
	}

	images := content.Images()
	data := make([][]byte, 0, len(images))
	urls := make([]string, 0, len(images))
	for i, m := range images {
		u, err := s.MediaURL(ctx, m)
		if err != nil {
			return nil, err
		}
		b, _, err := s.Client.Fetch(ctx, fmt.Sprintf("fetch_image_%d", i+1), u)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
		data = append(data, b)
	}

	commentary := s.Caption()
	chain := publisher.FallbackChain{Platform: p.Platform(), ShouldFallback: fallbackOnRejection}
	if len(images) == 0 {
		chain.Methods = []publisher.Method{
			{Name: "ugc_text", Run: func(ctx context.Context) (*publisher.Result, error) {
				return p.ugcPost(ctx, s, owner, commentary, ugcContent{category: categoryFor(content.Link)}, content.Link)
			}},
			{Name: "posts_text", Run: func(ctx context.Context) (*publisher.Result, error) {
				return p.restPost(ctx, s, owner, commentary, nil)
			}},
		}
		return chain.Run(ctx)
	}

	link := content.Link
	if link == "" {
		link = urls[0]
	}
	chain.Methods = []publisher.Method{
		{Name: "ugc_assets", Run: func(ctx context.Context) (*publisher.Result, error) {
			assets, err := p.registerAssets(ctx, s, owner, data)
			if err != nil {
				return nil, err
			}
			return p.ugcPost(ctx, s, owner, commentary, ugcContent{category: "IMAGE", assets: assets}, "")
		}},
		{Name: "posts_images", Run: func(ctx context.Context) (*publisher.Result, error) {
			imageURNs, err := p.uploadImages(ctx, s, owner, data)
			if err != nil {
				return nil, err
			}
			return p.restPost(ctx, s, owner, commentary, imageContent(imageURNs))
		}},
		{Name: "ugc_article", Run: func(ctx context.Context) (*publisher.Result, error) {
			return p.ugcPost(ctx, s, owner, commentary, ugcContent{category: "ARTICLE"}, link)
		}},
	}
	return chain.Run(ctx)
}

// fallbackOnRejection moves to the next post shape only when LinkedIn refused the request.
// A duplicate means a share already exists, so it ends the chain.
func fallbackOnRejection(err error) bool {
	pe, ok := publisher.AsError(err)
	return ok && pe.Kind == publisher.KindValidation && pe.Type != typeDuplicate
}

func categoryFor(link string) string {
	if link != "" {
		return "ARTICLE"
	}
	return "NONE"
}

type ugcContent struct {
	category string
	assets   []string
}

// ugcPost creates a share through the v2 ugcPosts API.
func (p *Provider) ugcPost(ctx context.Context, s *publisher.Session, owner, text string, c ugcContent, link string) (*publisher.Result, error) {
	var media []map[string]any
	for _, asset := range c.assets {
		media = append(media, map[string]any{"status": "READY", "media": asset})
	}
	if c.category == "ARTICLE" && link != "" {
		media = append(media, map[string]any{"status": "READY", "originalUrl": link})
	}
	share := map[string]any{
		"shareCommentary":    map[string]string{"text": text},
		"shareMediaCategory": c.category,
	}
	if len(media) > 0 {
		share["media"] = media
	}
	body := map[string]any{
		"author":          owner,
		"lifecycleState":  "PUBLISHED",
		"specificContent": map[string]any{"com.linkedin.ugc.ShareContent": share},
		"visibility":      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}

	var out struct {
		ID string `json:"id"`
	}
	resp, err := s.Client.Do(ctx, publisher.Call{
		Step:   "ugc_post",
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/v2/ugcPosts",
		Header: p.headers(),
		JSON:   body,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return p.result(resp, out.ID)
}

// restPost creates a post through the versioned rest/posts API.
func (p *Provider) restPost(ctx context.Context, s *publisher.Session, owner, text string, content map[string]any) (*publisher.Result, error) {
	body := map[string]any{
		"author":     owner,
		"commentary": escapeCommentary(text),
		"visibility": "PUBLIC",
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByAuthor": false,
	}
	if content != nil {
		body["content"] = content
	}
	resp, err := s.Client.Do(ctx, publisher.Call{
		Step:   "rest_post",
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/rest/posts",
		Header: p.headers(),
		JSON:   body,
	})
	if err != nil {
		return nil, err
	}
	return p.result(resp, "")
}

func (p *Provider) result(resp *publisher.Response, bodyID string) (*publisher.Result, error) {
	id := resp.Header.Get("X-Restli-Id")
	if id == "" {
		id = bodyID
	}
	if id == "" {
		return nil, publisher.ValidationError(p.Platform(), "post created without an id")
	}
	return &publisher.Result{
		PlatformPostID: id,
		Permalink:      "https://www.linkedin.com/feed/update/" + id,
	}, nil
}

func imageContent(urns []string) map[string]any {
	if len(urns) == 1 {
		return map[string]any{"media": map[string]string{"id": urns[0]}}
	}
	images := make([]map[string]string, len(urns))
	for i, urn := range urns {
		images[i] = map[string]string{"id": urn}
	}
	return map[string]any{"multiImage": map[string]any{"images": images}}
}

// escapeCommentary escapes the reserved characters of the little text format used by rest/posts.
func escapeCommentary(text string) string {
	r := strings.NewReplacer(
		`\`, `\\`, `|`, `\|`, `{`, `\{`, `}`, `\}`, `@`, `\@`, `[`, `\[`, `]`, `\]`,
		`(`, `\(`, `)`, `\)`, `<`, `\<`, `>`, `\>`, `#`, `\#`, `*`, `\*`, `_`, `\_`, `~`, `\~`,
	)
	return r.Replace(text)
}
