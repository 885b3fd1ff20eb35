package pinterest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
	"github.com/ifuryst/ripplecast/pkg/util"
)

const maxTitleLength = 100

type Config struct {
	APIURL           string
	DefaultBoardName string
}

// Provider creates pins on Pinterest boards.
type Provider struct {
	cfg  Config
	deps publisher.Deps
}

func New(cfg Config, deps publisher.Deps) *Provider {
	if cfg.DefaultBoardName == "" {
		cfg.DefaultBoardName = "Ripplecast"
	}
	return &Provider{cfg: cfg, deps: deps.WithDefaults()}
}

func (p *Provider) Platform() models.Platform { return models.PlatformPinterest }

func (p *Provider) Publish(ctx context.Context, req *publisher.Request) (*publisher.Result, error) {
	s := publisher.NewSession(p.Platform(), p.deps, req, classify)
	res, err := p.publish(ctx, s)
	return s.Finish(res, err)
}

func (p *Provider) Preflight(ctx context.Context, req *publisher.Request) []string {
	s := publisher.NewSession(p.Platform(), p.deps, req, classify)
	warnings := publisher.CommonPreflight(ctx, s)
	if req.Account != nil && req.Account.BoardID == "" && req.Account.Meta("board_id") == "" {
		warnings = append(warnings, "no board configured, a board will be discovered or created")
	}
	return warnings
}

func classify(platform models.Platform, status int, body []byte) *publisher.Error {
	pe := publisher.ClassifyHTTP(platform, status, body)
	var e struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		pe.Message = e.Message
		if e.Code != 0 {
			pe.Code = fmt.Sprintf("%d", e.Code)
		}
	}
	return pe
}

func (p *Provider) publish(ctx context.Context, s *publisher.Session) (*publisher.Result, error) {
	acc, err := s.Account()
	if err != nil {
		return nil, err
	}
	s.Client.WithBearer(acc.AccessToken)

	content := s.Req.Content
	if len(content.Media) == 0 {
		return nil, publisher.ValidationError(p.Platform(), "pins require an image or video")
	}

	boardID, err := p.board(ctx, s, acc)
	if err != nil {
		return nil, err
	}
	pin := map[string]any{
		"board_id":    boardID,
		"title":       util.Truncate(util.FirstNonEmpty(content.Title, util.FirstLine(s.Caption())), maxTitleLength),
		"description": s.Caption(),
	}
	if content.Link != "" {
		pin["link"] = content.Link
	}

	var res *publisher.Result
	if video, ok := content.FirstVideo(); ok {
		res, err = p.videoPin(ctx, s, pin, video)
	} else {
		res, err = p.imagePin(ctx, s, pin, content.Images())
	}
	if err != nil {
		return nil, err
	}
	if res.Payload == nil {
		res.Payload = make(map[string]any)
	}
	res.Payload["board_id"] = boardID
	return res, nil
}

// board returns the configured board, else an existing board, else a newly created one.
func (p *Provider) board(ctx context.Context, s *publisher.Session, acc *models.SocialAccount) (string, error) {
	if acc.BoardID != "" {
		return acc.BoardID, nil
	}
	if id := acc.Meta("board_id"); id != "" {
		return id, nil
	}

	var list struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "list_boards",
		Method: http.MethodGet,
		URL:    p.cfg.APIURL + "/v5/boards",
		Query:  url.Values{"page_size": {"100"}},
		Out:    &list,
	}); err != nil {
		return "", err
	}
	for _, b := range list.Items {
		if strings.EqualFold(b.Name, p.cfg.DefaultBoardName) {
			return b.ID, nil
		}
	}
	if len(list.Items) > 0 {
		return list.Items[0].ID, nil
	}

	var created struct {
		ID string `json:"id"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "create_board",
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/v5/boards",
		JSON:   map[string]string{"name": p.cfg.DefaultBoardName, "privacy": "PUBLIC"},
		Out:    &created,
	}); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", publisher.ValidationError(p.Platform(), "board creation returned no id")
	}
	return created.ID, nil
}

func (p *Provider) imagePin(ctx context.Context, s *publisher.Session, pin map[string]any, images []models.Media) (*publisher.Result, error) {
	if len(images) == 0 {
		return nil, publisher.ValidationError(p.Platform(), "no images to pin")
	}
	urls := make([]string, 0, len(images))
	for _, m := range images {
		u, err := s.MediaURL(ctx, m)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}

	var methods []publisher.Method
	if len(urls) > 1 {
		methods = append(methods, publisher.Method{Name: "multiple_image_urls", Run: func(ctx context.Context) (*publisher.Result, error) {
			items := make([]map[string]string, len(urls))
			for i, u := range urls {
				items[i] = map[string]string{"url": u}
			}
			return p.createPin(ctx, s, pin, map[string]any{"source_type": "multiple_image_urls", "items": items})
		}})
	}
	methods = append(methods,
		publisher.Method{Name: "image_url", Run: func(ctx context.Context) (*publisher.Result, error) {
			return p.createPin(ctx, s, pin, map[string]any{"source_type": "image_url", "url": urls[0]})
		}},
		publisher.Method{Name: "image_base64", Run: func(ctx context.Context) (*publisher.Result, error) {
			data, contentType, err := p.plain(s).Fetch(ctx, "fetch_image", urls[0])
			if err != nil {
				return nil, err
			}
			if images[0].MimeType != "" {
				contentType = images[0].MimeType
			}
			if contentType == "" || !strings.HasPrefix(contentType, "image/") {
				contentType = "image/jpeg"
			}
			return p.createPin(ctx, s, pin, map[string]any{
				"source_type":  "image_base64",
				"content_type": contentType,
				"data":         base64.StdEncoding.EncodeToString(data),
			})
		}},
	)

	chain := publisher.FallbackChain{Platform: p.Platform(), Methods: methods, ShouldFallback: mediaRejected}
	return chain.Run(ctx)
}

// mediaRejected is true when Pinterest refused the media source (400-class), the only case
// where a different source type can succeed without risking a second pin.
func mediaRejected(err error) bool {
	pe, ok := publisher.AsError(err)
	return ok && pe.Kind == publisher.KindValidation
}

func (p *Provider) createPin(ctx context.Context, s *publisher.Session, pin map[string]any, source map[string]any) (*publisher.Result, error) {
	body := make(map[string]any, len(pin)+1)
	for k, v := range pin {
		body[k] = v
	}
	body["media_source"] = source

	var out struct {
		ID string `json:"id"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "create_pin_" + fmt.Sprint(source["source_type"]),
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/v5/pins",
		JSON:   body,
		Out:    &out,
	}); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, publisher.ValidationError(p.Platform(), "pin created without an id")
	}
	return &publisher.Result{
		PlatformPostID: out.ID,
		Permalink:      "https://www.pinterest.com/pin/" + out.ID + "/",
	}, nil
}

// plain is a client without the API token, for media hosts and pre-signed upload forms.
func (p *Provider) plain(s *publisher.Session) *publisher.Client {
	return publisher.NewClient(p.Platform(), p.deps, classify, s.Transcript)
}
