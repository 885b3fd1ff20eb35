package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
)

// registerAssets uploads images as v2 digital media assets.
func (p *Provider) registerAssets(ctx context.Context, s *publisher.Session, owner string, images [][]byte) ([]string, error) {
	assets := make([]string, 0, len(images))
	for i, data := range images {
		var out struct {
			Value struct {
				Asset           string `json:"asset"`
				UploadMechanism map[string]struct {
					UploadURL string `json:"uploadUrl"`
				} `json:"uploadMechanism"`
			} `json:"value"`
		}
		if _, err := s.Client.Do(ctx, publisher.Call{
			Step:   fmt.Sprintf("register_upload_%d", i+1),
			Method: http.MethodPost,
			URL:    p.cfg.APIURL + "/v2/assets?action=registerUpload",
			Header: p.headers(),
			JSON: map[string]any{
				"registerUploadRequest": map[string]any{
					"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
					"owner":   owner,
					"serviceRelationships": []map[string]string{{
						"relationshipType": "OWNER",
						"identifier":       "urn:li:userGeneratedContent",
					}},
				},
			},
			Out: &out,
		}); err != nil {
			return nil, err
		}
		upload := out.Value.UploadMechanism["com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"]
		if out.Value.Asset == "" || upload.UploadURL == "" {
			return nil, publisher.ValidationError(p.Platform(), "registerUpload returned no asset or upload url")
		}
		if err := p.put(ctx, s, fmt.Sprintf("asset_upload_%d", i+1), upload.UploadURL, data, nil); err != nil {
			return nil, err
		}
		assets = append(assets, out.Value.Asset)
	}
	return assets, nil
}

// uploadImages uploads images through the versioned images API.
func (p *Provider) uploadImages(ctx context.Context, s *publisher.Session, owner string, images [][]byte) ([]string, error) {
	urns := make([]string, 0, len(images))
	for i, data := range images {
		var out struct {
			Value struct {
				UploadURL string `json:"uploadUrl"`
				Image     string `json:"image"`
			} `json:"value"`
		}
		if _, err := s.Client.Do(ctx, publisher.Call{
			Step:   fmt.Sprintf("image_initialize_%d", i+1),
			Method: http.MethodPost,
			URL:    p.cfg.APIURL + "/rest/images?action=initializeUpload",
			Header: p.headers(),
			JSON:   map[string]any{"initializeUploadRequest": map[string]string{"owner": owner}},
			Out:    &out,
		}); err != nil {
			return nil, err
		}
		if out.Value.Image == "" || out.Value.UploadURL == "" {
			return nil, publisher.ValidationError(p.Platform(), "image initializeUpload returned no image urn")
		}
		if err := p.put(ctx, s, fmt.Sprintf("image_upload_%d", i+1), out.Value.UploadURL, data, nil); err != nil {
			return nil, err
		}
		urns = append(urns, out.Value.Image)
	}
	return urns, nil
}

func (p *Provider) put(ctx context.Context, s *publisher.Session, step, target string, data []byte, etag *string) error {
	resp, err := s.Client.Do(ctx, publisher.Call{
		Step:        step,
		Method:      http.MethodPut,
		URL:         target,
		Body:        data,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return err
	}
	if etag != nil {
		*etag = resp.Header.Get("ETag")
	}
	return nil
}

type uploadInstruction struct {
	UploadURL string `json:"uploadUrl"`
	FirstByte int64  `json:"firstByte"`
	LastByte  int64  `json:"lastByte"`
}

// video runs initializeUpload, part uploads, finalizeUpload, waits for AVAILABLE and creates the post.
func (p *Provider) video(ctx context.Context, s *publisher.Session, owner string, m models.Media) (*publisher.Result, error) {
	videoURL, err := s.MediaURL(ctx, m)
	if err != nil {
		return nil, err
	}
	data, _, err := s.Client.Fetch(ctx, "fetch_video", videoURL)
	if err != nil {
		return nil, err
	}

	var init struct {
		Value struct {
			Video              string              `json:"video"`
			UploadToken        string              `json:"uploadToken"`
			UploadInstructions []uploadInstruction `json:"uploadInstructions"`
		} `json:"value"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "video_initialize",
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/rest/videos?action=initializeUpload",
		Header: p.headers(),
		JSON: map[string]any{"initializeUploadRequest": map[string]any{
			"owner":           owner,
			"fileSizeBytes":   len(data),
			"uploadCaptions":  false,
			"uploadThumbnail": false,
		}},
		Out: &init,
	}); err != nil {
		return nil, err
	}
	if init.Value.Video == "" || len(init.Value.UploadInstructions) == 0 {
		return nil, publisher.ValidationError(p.Platform(), "video initializeUpload returned no upload plan")
	}

	instructions := init.Value.UploadInstructions
	chunks := make([]publisher.Chunk, 0, len(instructions))
	for i, in := range instructions {
		if in.FirstByte < 0 || in.LastByte >= int64(len(data)) || in.FirstByte > in.LastByte {
			return nil, publisher.ValidationError(p.Platform(), "upload instruction %d out of range", i)
		}
		chunks = append(chunks, publisher.Chunk{
			Index:  i,
			Count:  len(instructions),
			Offset: in.FirstByte,
			Total:  int64(len(data)),
			Data:   data[in.FirstByte : in.LastByte+1],
		})
	}

	etags := make([]string, len(chunks))
	uploader := publisher.ChunkUploader{
		Platform:   p.Platform(),
		Attempts:   3,
		RetryDelay: p.deps.PollBounds.MinInterval,
		Clock:      p.deps.Clock,
	}
	if err := uploader.Upload(ctx, chunks, func(ctx context.Context, c publisher.Chunk) error {
		return p.put(ctx, s, fmt.Sprintf("video_part_%d", c.Index+1), instructions[c.Index].UploadURL, c.Data, &etags[c.Index])
	}); err != nil {
		return nil, err
	}

	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "video_finalize",
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/rest/videos?action=finalizeUpload",
		Header: p.headers(),
		JSON: map[string]any{"finalizeUploadRequest": map[string]any{
			"video":           init.Value.Video,
			"uploadToken":     init.Value.UploadToken,
			"uploadedPartIds": etags,
		}},
	}); err != nil {
		return nil, err
	}

	if err := p.awaitVideo(ctx, s, init.Value.Video, m); err != nil {
		return nil, err
	}

	content := map[string]any{"media": map[string]string{"id": init.Value.Video, "title": s.Req.Content.Title}}
	res, err := p.restPost(ctx, s, owner, s.Caption(), content)
	if err != nil {
		return nil, err
	}
	res.Method = "video"
	res.Payload = map[string]any{"video_urn": init.Value.Video}
	return res, nil
}

func (p *Provider) awaitVideo(ctx context.Context, s *publisher.Session, videoURN string, m models.Media) error {
	return s.Poll(ctx, "video_status", p.deps.MediaPolicy(m), func(ctx context.Context, attempt int) (bool, error) {
		var out struct {
			Status string `json:"status"`
		}
		_, err := s.Client.Do(ctx, publisher.Call{
			Step:   "video_status",
			Method: http.MethodGet,
			URL:    p.cfg.APIURL + "/rest/videos/" + url.QueryEscape(videoURN),
			Header: p.headers(),
			Out:    &out,
		})
		if err != nil {
			if publisher.IsRetryable(err) {
				s.Logger.Debug("Video status check failed, will retry", zap.Error(err))
				return false, nil
			}
			return false, err
		}
		switch out.Status {
		case "AVAILABLE":
			return true, nil
		case "PROCESSING_FAILED":
			return false, publisher.ValidationError(p.Platform(), "video %s failed processing", videoURN)
		default:
			return false, nil
		}
	})
}
