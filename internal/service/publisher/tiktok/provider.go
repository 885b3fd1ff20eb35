package tiktok

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
)

// Publish states reported by status/fetch.
// Other states (PROCESSING_UPLOAD, PROCESSING_DOWNLOAD) keep polling.
const (
	statusSendToInbox = "SEND_TO_USER_INBOX"
	statusComplete    = "PUBLISH_COMPLETE"
	statusFailed      = "FAILED"
)

const (
	minChunkSize     = 5 << 20
	maxChunkSize     = 64 << 20
	maxPhotoImages   = 35
	defaultChunkSize = 10 << 20
)

type Config struct {
	APIURL       string
	ChunkSize    int64
	PrivacyLevel string
	// MinChunkSize is lowered in tests; production uses the platform minimum.
	MinChunkSize int64
}

// Provider direct-posts videos and photo carousels to TikTok.
type Provider struct {
	cfg  Config
	deps publisher.Deps
}

func New(cfg Config, deps publisher.Deps) *Provider {
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = minChunkSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkSize < cfg.MinChunkSize {
		cfg.ChunkSize = cfg.MinChunkSize
	}
	if cfg.ChunkSize > maxChunkSize {
		cfg.ChunkSize = maxChunkSize
	}
	if cfg.PrivacyLevel == "" {
		cfg.PrivacyLevel = "SELF_ONLY"
	}
	return &Provider{cfg: cfg, deps: deps.WithDefaults()}
}

func (p *Provider) Platform() models.Platform { return models.PlatformTikTok }

func (p *Provider) Publish(ctx context.Context, req *publisher.Request) (*publisher.Result, error) {
	s := publisher.NewSession(p.Platform(), p.deps, req, classify)
	res, err := p.publish(ctx, s)
	return s.Finish(res, err)
}

func (p *Provider) Preflight(ctx context.Context, req *publisher.Request) []string {
	s := publisher.NewSession(p.Platform(), p.deps, req, classify)
	warnings := publisher.CommonPreflight(ctx, s)
	if v, ok := req.Content.FirstVideo(); ok && v.DurationSec > 600 {
		warnings = append(warnings, fmt.Sprintf("video is %.0fs long, longer than most accounts may post", v.DurationSec))
	}
	return warnings
}

func (p *Provider) publish(ctx context.Context, s *publisher.Session) (*publisher.Result, error) {
	acc, err := s.Account()
	if err != nil {
		return nil, err
	}
	s.Client.WithBearer(acc.AccessToken)

	content := s.Req.Content
	if video, ok := content.FirstVideo(); ok {
		return p.video(ctx, s, video)
	}
	if images := content.Images(); len(images) > 0 {
		return p.photos(ctx, s, images)
	}
	return nil, publisher.ValidationError(p.Platform(), "tiktok requires a video or images")
}

// planChunks follows the upload rules: chunks of ChunkSize with the remainder merged into the last chunk,
// and a single chunk for files smaller than ChunkSize.
func planChunks(data []byte, chunkSize int64) []publisher.Chunk {
	total := int64(len(data))
	if total == 0 {
		return nil
	}
	if chunkSize <= 0 || total <= chunkSize {
		return publisher.SplitChunks(data, total)
	}
	count := total / chunkSize
	chunks := make([]publisher.Chunk, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if i == count-1 {
			end = total
		}
		chunks = append(chunks, publisher.Chunk{Index: int(i), Count: int(count), Offset: start, Total: total, Data: data[start:end]})
	}
	return chunks
}

func (p *Provider) postInfo(s *publisher.Session) map[string]any {
	return map[string]any{
		"title":           s.Caption(),
		"privacy_level":   p.cfg.PrivacyLevel,
		"disable_comment": false,
		"disable_duet":    false,
		"disable_stitch":  false,
	}
}

type initResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error apiError `json:"error"`
}

func (p *Provider) video(ctx context.Context, s *publisher.Session, m models.Media) (*publisher.Result, error) {
	videoURL, err := s.MediaURL(ctx, m)
	if err != nil {
		return nil, err
	}
	data, _, err := s.Client.Fetch(ctx, "fetch_video", videoURL)
	if err != nil {
		return nil, err
	}
	chunks := planChunks(data, p.cfg.ChunkSize)
	if len(chunks) == 0 {
		return nil, publisher.ValidationError(p.Platform(), "video %s is empty", m.ID)
	}

	info := p.postInfo(s)
	if _, offset, _ := s.CoverURL(ctx); offset > 0 {
		info["video_cover_timestamp_ms"] = offset
	}

	var init initResponse
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "video_init",
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/v2/post/publish/video/init/",
		JSON: map[string]any{
			"post_info": info,
			"source_info": map[string]any{
				"source":            "FILE_UPLOAD",
				"video_size":        len(data),
				"chunk_size":        len(chunks[0].Data),
				"total_chunk_count": len(chunks),
			},
		},
		Out: &init,
	}); err != nil {
		return nil, err
	}
	if err := p.check(init.Error); err != nil {
		return nil, err
	}
	if init.Data.PublishID == "" || init.Data.UploadURL == "" {
		return nil, publisher.ValidationError(p.Platform(), "video init returned no upload target")
	}

	uploader := publisher.ChunkUploader{
		Platform:   p.Platform(),
		Attempts:   3,
		RetryDelay: p.deps.PollBounds.MinInterval,
		Clock:      p.deps.Clock,
	}
	err = uploader.Upload(ctx, chunks, func(ctx context.Context, c publisher.Chunk) error {
		_, err := s.Client.Do(ctx, publisher.Call{
			Step:   fmt.Sprintf("video_chunk_%d", c.Index+1),
			Method: http.MethodPut,
			URL:    init.Data.UploadURL,
			Header: http.Header{
				"Content-Range": {fmt.Sprintf("bytes %d-%d/%d", c.Offset, c.End(), c.Total)},
			},
			Body:        c.Data,
			ContentType: "video/mp4",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return p.await(ctx, s, init.Data.PublishID, m, true)
}

func (p *Provider) photos(ctx context.Context, s *publisher.Session, images []models.Media) (*publisher.Result, error) {
	if len(images) > maxPhotoImages {
		images = images[:maxPhotoImages]
	}
	urls := make([]string, 0, len(images))
	var largest models.Media
	for _, m := range images {
		u, err := s.MediaURL(ctx, m)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
		if m.SizeBytes > largest.SizeBytes {
			largest = m
		}
	}

	info := p.postInfo(s)
	info["title"] = s.Req.Content.Title
	info["description"] = s.Caption()

	var init initResponse
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "photo_init",
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/v2/post/publish/content/init/",
		JSON: map[string]any{
			"post_info": info,
			"source_info": map[string]any{
				"source":            "PULL_FROM_URL",
				"photo_cover_index": 0,
				"photo_images":      urls,
			},
			"post_mode":  "DIRECT_POST",
			"media_type": "PHOTO",
		},
		Out: &init,
	}); err != nil {
		return nil, err
	}
	if err := p.check(init.Error); err != nil {
		return nil, err
	}
	if init.Data.PublishID == "" {
		return nil, publisher.ValidationError(p.Platform(), "photo init returned no publish id")
	}
	return p.await(ctx, s, init.Data.PublishID, largest, false)
}

func (p *Provider) check(e apiError) error {
	if e.Code == "" || e.Code == codeOK {
		return nil
	}
	return fromAPIError(p.Platform(), e)
}

// await polls status/fetch. SEND_TO_USER_INBOX is accepted with the publish id as the post reference.
// For uploaded videos the publish id is trusted when polling runs out; pulled photos stay retryable.
func (p *Provider) await(ctx context.Context, s *publisher.Session, publishID string, m models.Media, trustOnTimeout bool) (*publisher.Result, error) {
	var (
		status string
		postID string
	)
	err := p.deps.MediaPolicy(m).Run(ctx, p.deps.Clock, func(ctx context.Context, attempt int) (bool, error) {
		var out struct {
			Data struct {
				Status                   string  `json:"status"`
				FailReason               string  `json:"fail_reason"`
				PubliclyAvailablePostIDs []int64 `json:"publicaly_available_post_id"`
			} `json:"data"`
			Error apiError `json:"error"`
		}
		_, err := s.Client.Do(ctx, publisher.Call{
			Step:   "status_fetch",
			Method: http.MethodPost,
			URL:    p.cfg.APIURL + "/v2/post/publish/status/fetch/",
			JSON:   map[string]string{"publish_id": publishID},
			Out:    &out,
		})
		if err == nil {
			err = p.check(out.Error)
		}
		if err != nil {
			if publisher.IsRetryable(err) {
				return false, nil
			}
			return false, err
		}

		status = out.Data.Status
		switch status {
		case statusComplete:
			if len(out.Data.PubliclyAvailablePostIDs) > 0 {
				postID = fmt.Sprintf("%d", out.Data.PubliclyAvailablePostIDs[0])
			}
			return true, nil
		case statusSendToInbox:
			return true, nil
		case statusFailed:
			return false, publisher.ValidationError(p.Platform(), "publish %s failed: %s", publishID, out.Data.FailReason).
				With("fail_reason", out.Data.FailReason)
		default:
			return false, nil
		}
	})

	res := &publisher.Result{
		PlatformPostID: publishID,
		Payload:        map[string]any{"publish_id": publishID, "status": status},
	}
	if postID != "" {
		res.PlatformPostID = postID
		res.Permalink = fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", s.Req.Account.Meta("username"), postID)
	}

	switch {
	case err == nil && status == statusComplete:
		return publisher.Verified(res), nil
	case err == nil:
		return publisher.Trusted(res, "delivered to the creator inbox"), nil
	case trustOnTimeout && !isFailure(err) && ctx.Err() == nil:
		s.Logger.Info("TikTok status not authoritative, trusting publish id",
			zap.String("publish_id", publishID), zap.String("status", status), zap.Error(err))
		return publisher.Trusted(res, "status polling exhausted after upload"), nil
	default:
		if pe, ok := publisher.AsError(err); ok {
			return nil, pe
		}
		return nil, publisher.TransientError(p.Platform(), err, "publish %s did not complete", publishID).
			With("publish_id", publishID).With("status", status)
	}
}

func isFailure(err error) bool {
	pe, ok := publisher.AsError(err)
	return ok && !pe.Retryable
}
