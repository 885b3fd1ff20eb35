package pinterest

import (
	"context"
	"net/http"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
)

// videoPin registers a media upload, posts the file to the returned upload form, waits for processing
// and pins the resulting media id.
func (p *Provider) videoPin(ctx context.Context, s *publisher.Session, pin map[string]any, m models.Media) (*publisher.Result, error) {
	videoURL, err := s.MediaURL(ctx, m)
	if err != nil {
		return nil, err
	}
	upload := p.plain(s)
	data, _, err := upload.Fetch(ctx, "fetch_video", videoURL)
	if err != nil {
		return nil, err
	}

	var reg struct {
		MediaID          string            `json:"media_id"`
		UploadURL        string            `json:"upload_url"`
		UploadParameters map[string]string `json:"upload_parameters"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "register_media",
		Method: http.MethodPost,
		URL:    p.cfg.APIURL + "/v5/media",
		JSON:   map[string]string{"media_type": "video"},
		Out:    &reg,
	}); err != nil {
		return nil, err
	}
	if reg.MediaID == "" || reg.UploadURL == "" {
		return nil, publisher.ValidationError(p.Platform(), "media registration returned no upload target")
	}

	body, contentType, err := publisher.Multipart(reg.UploadParameters, &publisher.FilePart{
		Field: "file", FileName: "video.mp4", ContentType: "video/mp4", Data: data,
	})
	if err != nil {
		return nil, publisher.ValidationError(p.Platform(), "encode upload: %v", err)
	}
	if _, err := upload.Do(ctx, publisher.Call{
		Step:        "upload_media",
		Method:      http.MethodPost,
		URL:         reg.UploadURL,
		Body:        body,
		ContentType: contentType,
	}); err != nil {
		return nil, err
	}

	if err := s.Poll(ctx, "media_status", p.deps.MediaPolicy(m), func(ctx context.Context, attempt int) (bool, error) {
		var out struct {
			Status string `json:"status"`
		}
		_, err := s.Client.Do(ctx, publisher.Call{
			Step:   "media_status",
			Method: http.MethodGet,
			URL:    p.cfg.APIURL + "/v5/media/" + reg.MediaID,
			Out:    &out,
		})
		if err != nil {
			if publisher.IsRetryable(err) {
				return false, nil
			}
			return false, err
		}
		switch out.Status {
		case "succeeded":
			return true, nil
		case "failed":
			return false, publisher.ValidationError(p.Platform(), "video %s failed processing", reg.MediaID)
		default:
			return false, nil
		}
	}); err != nil {
		return nil, err
	}

	source := map[string]any{"source_type": "video_id", "media_id": reg.MediaID}
	coverURL, offset, err := s.CoverURL(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case coverURL != "":
		source["cover_image_url"] = coverURL
	default:
		source["cover_image_key_frame_time"] = offset
	}
	res, err := p.createPin(ctx, s, pin, source)
	if err != nil {
		return nil, err
	}
	res.Method = "video_id"
	return res, nil
}
