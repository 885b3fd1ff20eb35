package x

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
)

const (
	maxImages      = 4
	maxVideoBytes  = 512 << 20
	maxImageBytes  = 5 << 20
	chunkAttempts  = 3
	defaultChunkSz = 4 << 20
)

type Config struct {
	APIURL    string
	UploadURL string
	ChunkSize int64
}

// Provider posts to X with media uploaded through the chunked media endpoint.
type Provider struct {
	cfg  Config
	deps publisher.Deps
}

func New(cfg Config, deps publisher.Deps) *Provider {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSz
	}
	return &Provider{cfg: cfg, deps: deps.WithDefaults()}
}

func (p *Provider) Platform() models.Platform { return models.PlatformX }

func (p *Provider) Publish(ctx context.Context, req *publisher.Request) (*publisher.Result, error) {
	s := publisher.NewSession(p.Platform(), p.deps, req, classify)
	res, err := p.publish(ctx, s)
	return s.Finish(res, err)
}

func (p *Provider) Preflight(ctx context.Context, req *publisher.Request) []string {
	s := publisher.NewSession(p.Platform(), p.deps, req, classify)
	warnings := publisher.CommonPreflight(ctx, s)
	for _, m := range req.Content.Media {
		switch {
		case m.IsVideo() && m.SizeBytes > maxVideoBytes:
			warnings = append(warnings, fmt.Sprintf("video %s is larger than 512MB", m.ID))
		case !m.IsVideo() && m.SizeBytes > maxImageBytes:
			warnings = append(warnings, fmt.Sprintf("image %s is larger than 5MB", m.ID))
		}
	}
	return warnings
}

func (p *Provider) publish(ctx context.Context, s *publisher.Session) (*publisher.Result, error) {
	acc, err := s.Account()
	if err != nil {
		return nil, err
	}
	s.Client.WithBearer(acc.AccessToken)

	if s.Req.Content.FormFactor == models.FormFactorStory {
		return nil, publisher.ValidationError(p.Platform(), "x does not support stories")
	}
	media := selectMedia(s.Req.Content.Media)
	text := s.Caption()
	if text == "" && len(media) == 0 {
		return nil, publisher.ValidationError(p.Platform(), "post needs text or media")
	}

	mediaIDs, err := p.uploadAll(ctx, s, media, "")
	if err != nil {
		return nil, err
	}

	chain := publisher.FallbackChain{
		Platform:       p.Platform(),
		ShouldFallback: invalidMedia,
		Methods: []publisher.Method{
			{Name: "tweet", Run: func(ctx context.Context) (*publisher.Result, error) {
				return p.tweet(ctx, s, text, mediaIDs)
			}},
		},
	}
	if len(media) > 0 {
		chain.Methods = append(chain.Methods, publisher.Method{
			Name: "tweet_reupload",
			Run: func(ctx context.Context) (*publisher.Result, error) {
				fresh, err := p.uploadAll(ctx, s, media, "reupload_")
				if err != nil {
					return nil, err
				}
				return p.tweet(ctx, s, text, fresh)
			},
		})
	}
	return chain.Run(ctx)
}

// invalidMedia is the failure mode a fresh upload can fix.
func invalidMedia(err error) bool {
	pe, ok := publisher.AsError(err)
	if !ok || pe.Kind != publisher.KindValidation {
		return false
	}
	return pe.Code == strconv.Itoa(codeInvalidMedia) || strings.Contains(strings.ToLower(pe.Message), "media")
}

// selectMedia keeps either one video or up to four images.
func selectMedia(media []models.Media) []models.Media {
	for _, m := range media {
		if m.IsVideo() {
			return []models.Media{m}
		}
	}
	if len(media) > maxImages {
		return media[:maxImages]
	}
	return media
}

func (p *Provider) tweet(ctx context.Context, s *publisher.Session, text string, mediaIDs []string) (*publisher.Result, error) {
	body := map[string]any{"text": text}
	if len(mediaIDs) > 0 {
		body["media"] = map[string]any{"media_ids": mediaIDs}
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "create_tweet",
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/2/tweets",
		JSON:   body,
		Out:    &out,
	}); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, publisher.ValidationError(p.Platform(), "tweet created without an id")
	}
	return &publisher.Result{
		PlatformPostID: out.Data.ID,
		Permalink:      "https://x.com/i/web/status/" + out.Data.ID,
		Payload:        map[string]any{"media_ids": mediaIDs},
	}, nil
}

func (p *Provider) uploadAll(ctx context.Context, s *publisher.Session, media []models.Media, prefix string) ([]string, error) {
	ids := make([]string, 0, len(media))
	for i, m := range media {
		id, err := p.upload(ctx, s, m, fmt.Sprintf("%smedia_%d", prefix, i+1))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type processingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
	Error          *struct {
		Code    int    `json:"code"`
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

type uploadResponse struct {
	MediaIDString  string          `json:"media_id_string"`
	ProcessingInfo *processingInfo `json:"processing_info"`
}

func category(m models.Media, mime string) string {
	switch {
	case m.IsVideo():
		return "tweet_video"
	case strings.Contains(mime, "gif"):
		return "tweet_gif"
	default:
		return "tweet_image"
	}
}

// upload runs INIT, APPEND per chunk, FINALIZE and STATUS for one media item.
func (p *Provider) upload(ctx context.Context, s *publisher.Session, m models.Media, step string) (string, error) {
	mediaURL, err := s.MediaURL(ctx, m)
	if err != nil {
		return "", err
	}
	data, contentType, err := s.Client.Fetch(ctx, step+"_fetch", mediaURL)
	if err != nil {
		return "", err
	}
	mime := m.MimeType
	if mime == "" {
		mime = contentType
	}
	endpoint := p.cfg.UploadURL + "/1.1/media/upload.json"

	var init uploadResponse
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   step + "_init",
		Method: http.MethodPost,
		URL:    endpoint,
		Form: url.Values{
			"command":        {"INIT"},
			"total_bytes":    {strconv.Itoa(len(data))},
			"media_type":     {mime},
			"media_category": {category(m, mime)},
		},
		Out: &init,
	}); err != nil {
		return "", err
	}
	mediaID := init.MediaIDString
	if mediaID == "" {
		return "", publisher.ValidationError(p.Platform(), "media INIT returned no media id")
	}

	uploader := publisher.ChunkUploader{
		Platform:   p.Platform(),
		Attempts:   chunkAttempts,
		RetryDelay: p.deps.PollBounds.MinInterval,
		Clock:      p.deps.Clock,
	}
	err = uploader.Upload(ctx, publisher.SplitChunks(data, p.cfg.ChunkSize), func(ctx context.Context, c publisher.Chunk) error {
		body, ct, err := publisher.Multipart(map[string]string{
			"command":       "APPEND",
			"media_id":      mediaID,
			"segment_index": strconv.Itoa(c.Index),
		}, &publisher.FilePart{Field: "media", FileName: "blob", Data: c.Data})
		if err != nil {
			return publisher.ValidationError(p.Platform(), "encode segment: %v", err)
		}
		_, err = s.Client.Do(ctx, publisher.Call{
			Step:        fmt.Sprintf("%s_append_%d", step, c.Index),
			Method:      http.MethodPost,
			URL:         endpoint,
			Body:        body,
			ContentType: ct,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	var fin uploadResponse
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   step + "_finalize",
		Method: http.MethodPost,
		URL:    endpoint,
		Form:   url.Values{"command": {"FINALIZE"}, "media_id": {mediaID}},
		Out:    &fin,
	}); err != nil {
		return "", err
	}
	if fin.ProcessingInfo == nil {
		return mediaID, nil
	}
	if err := p.awaitProcessing(ctx, s, endpoint, mediaID, step, m, fin.ProcessingInfo); err != nil {
		return "", err
	}
	return mediaID, nil
}

func (p *Provider) awaitProcessing(ctx context.Context, s *publisher.Session, endpoint, mediaID, step string, m models.Media, info *processingInfo) error {
	policy := p.deps.MediaPolicy(m)
	current := info
	policy.Hint = func() time.Duration {
		if current == nil || current.CheckAfterSecs <= 0 {
			return 0
		}
		return time.Duration(current.CheckAfterSecs) * time.Second
	}
	return s.Poll(ctx, step+"_status", policy, func(ctx context.Context, attempt int) (bool, error) {
		if attempt > 1 {
			var out uploadResponse
			_, err := s.Client.Do(ctx, publisher.Call{
				Step:   step + "_status",
				Method: http.MethodGet,
				URL:    endpoint,
				Query:  url.Values{"command": {"STATUS"}, "media_id": {mediaID}},
				Out:    &out,
			})
			if err != nil {
				if publisher.IsRetryable(err) {
					return false, nil
				}
				return false, err
			}
			current = out.ProcessingInfo
		}
		if current == nil {
			return true, nil
		}
		switch current.State {
		case "succeeded":
			return true, nil
		case "failed":
			msg := "media processing failed"
			if current.Error != nil {
				msg = current.Error.Message
			}
			return false, publisher.ValidationError(p.Platform(), "media %s: %s", mediaID, msg).With("media_id", mediaID)
		default:
			return false, nil
		}
	})
}
