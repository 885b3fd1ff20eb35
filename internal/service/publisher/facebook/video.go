package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
	"github.com/ifuryst/ripplecast/pkg/util"
)

const defaultTransferChunk = 4 << 20

// videoStatus is the status field of a video node.
type videoStatus struct {
	VideoStatus     string `json:"video_status"`
	ProcessingPhase struct {
		Status string `json:"status"`
	} `json:"processing_phase"`
	PublishingPhase struct {
		Status        string `json:"status"`
		PublishStatus string `json:"publish_status"`
	} `json:"publishing_phase"`
}

func (v videoStatus) ready() bool {
	return v.VideoStatus == "ready" || v.PublishingPhase.Status == "complete"
}

func (v videoStatus) failed() bool {
	return v.VideoStatus == "error" || v.ProcessingPhase.Status == "error" || v.PublishingPhase.Status == "error"
}

// feedVideo uploads a feed video, by hosted URL for small files and by resumable session for large ones.
func (p *Provider) feedVideo(ctx context.Context, s *publisher.Session, pg page, m models.Media) (*publisher.Result, error) {
	videoURL, err := s.MediaURL(ctx, m)
	if err != nil {
		return nil, err
	}

	var videoID string
	method := "video_url"
	if p.cfg.ChunkedVideoMin > 0 && m.SizeBytes >= p.cfg.ChunkedVideoMin {
		method = "video_chunked"
		videoID, err = p.chunkedVideo(ctx, s, pg, m, videoURL)
	} else {
		var out struct {
			ID string `json:"id"`
		}
		_, err = s.Client.Do(ctx, publisher.Call{
			Step:   "video_create",
			Method: http.MethodPost,
			URL:    fmt.Sprintf("%s/%s/videos", p.base(), pg.id),
			Form: url.Values{
				"file_url":     {videoURL},
				"description":  {s.Caption()},
				"title":        {s.Req.Content.Title},
				"access_token": {pg.token},
			},
			Out: &out,
		})
		videoID = out.ID
	}
	if err != nil {
		return nil, err
	}
	if videoID == "" {
		return nil, publisher.ValidationError(p.Platform(), "video upload returned no id")
	}

	res := &publisher.Result{
		PlatformPostID: videoID,
		Method:         method,
		Permalink:      fmt.Sprintf("https://www.facebook.com/%s/videos/%s", pg.id, videoID),
	}
	return p.awaitVideo(ctx, s, pg, m, res)
}

// chunkedVideo runs the start/transfer/finish upload session. A chunk that keeps failing aborts before finish.
func (p *Provider) chunkedVideo(ctx context.Context, s *publisher.Session, pg page, m models.Media, videoURL string) (string, error) {
	data, _, err := s.Client.Fetch(ctx, "fetch_video", videoURL)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/%s/videos", p.base(), pg.id)

	var start struct {
		VideoID         string `json:"video_id"`
		UploadSessionID string `json:"upload_session_id"`
		StartOffset     string `json:"start_offset"`
		EndOffset       string `json:"end_offset"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "upload_start",
		Method: http.MethodPost,
		URL:    endpoint,
		Form: url.Values{
			"upload_phase": {"start"},
			"file_size":    {strconv.Itoa(len(data))},
			"access_token": {pg.token},
		},
		Out: &start,
	}); err != nil {
		return "", err
	}
	if start.UploadSessionID == "" {
		return "", publisher.ValidationError(p.Platform(), "upload start returned no session")
	}

	chunkSize := int64(defaultTransferChunk)
	first, _ := strconv.ParseInt(start.StartOffset, 10, 64)
	last, _ := strconv.ParseInt(start.EndOffset, 10, 64)
	if last > first {
		chunkSize = last - first
	}

	uploader := publisher.ChunkUploader{
		Platform:   p.Platform(),
		Attempts:   3,
		RetryDelay: p.deps.PollBounds.MinInterval,
		Clock:      p.deps.Clock,
	}
	err = uploader.Upload(ctx, publisher.SplitChunks(data, chunkSize), func(ctx context.Context, c publisher.Chunk) error {
		body, contentType, err := publisher.Multipart(map[string]string{
			"upload_phase":      "transfer",
			"upload_session_id": start.UploadSessionID,
			"start_offset":      strconv.FormatInt(c.Offset, 10),
			"access_token":      pg.token,
		}, &publisher.FilePart{Field: "video_file_chunk", FileName: "chunk", Data: c.Data})
		if err != nil {
			return publisher.ValidationError(p.Platform(), "encode chunk: %v", err)
		}
		_, err = s.Client.Do(ctx, publisher.Call{
			Step:        fmt.Sprintf("upload_transfer_%d", c.Index+1),
			Method:      http.MethodPost,
			URL:         endpoint,
			Body:        body,
			ContentType: contentType,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	var finish struct {
		Success bool `json:"success"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   "upload_finish",
		Method: http.MethodPost,
		URL:    endpoint,
		Form: url.Values{
			"upload_phase":      {"finish"},
			"upload_session_id": {start.UploadSessionID},
			"description":       {s.Caption()},
			"title":             {s.Req.Content.Title},
			"access_token":      {pg.token},
		},
		Out: &finish,
	}); err != nil {
		return "", err
	}
	if !finish.Success {
		return "", publisher.TransientError(p.Platform(), nil, "upload finish was not acknowledged")
	}
	return start.VideoID, nil
}

// reel publishes a vertical video through the video_reels start/upload/finish protocol.
func (p *Provider) reel(ctx context.Context, s *publisher.Session, pg page, m models.Media) (*publisher.Result, error) {
	videoID, _, err := p.hostedVideo(ctx, s, pg, m, "video_reels", url.Values{
		"video_state": {"PUBLISHED"},
		"description": {s.Caption()},
	})
	if err != nil {
		return nil, err
	}
	res := &publisher.Result{
		PlatformPostID: videoID,
		Method:         "reel",
		Permalink:      "https://www.facebook.com/reel/" + videoID,
	}
	return p.awaitVideo(ctx, s, pg, m, res)
}

func (p *Provider) videoStory(ctx context.Context, s *publisher.Session, pg page, m models.Media) (*publisher.Result, error) {
	videoID, postID, err := p.hostedVideo(ctx, s, pg, m, "video_stories", url.Values{})
	if err != nil {
		return nil, err
	}
	res := &publisher.Result{PlatformPostID: util.FirstNonEmpty(postID, videoID), Method: "video_story"}
	res.Payload = map[string]any{"video_id": videoID}
	return publisher.Trusted(res, "story status is not queryable"), nil
}

// hostedVideo starts an upload on endpoint, lets the upload host pull the file by URL, then finishes it.
func (p *Provider) hostedVideo(ctx context.Context, s *publisher.Session, pg page, m models.Media, endpoint string, finishParams url.Values) (string, string, error) {
	videoURL, err := s.MediaURL(ctx, m)
	if err != nil {
		return "", "", err
	}
	target := fmt.Sprintf("%s/%s/%s", p.base(), pg.id, endpoint)

	var start struct {
		VideoID   string `json:"video_id"`
		UploadURL string `json:"upload_url"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   endpoint + "_start",
		Method: http.MethodPost,
		URL:    target,
		Form:   url.Values{"upload_phase": {"start"}, "access_token": {pg.token}},
		Out:    &start,
	}); err != nil {
		return "", "", err
	}
	if start.VideoID == "" {
		return "", "", publisher.ValidationError(p.Platform(), "%s start returned no video id", endpoint)
	}
	uploadURL := start.UploadURL
	if uploadURL == "" {
		uploadURL = fmt.Sprintf("%s/%s/%s", p.cfg.VideoUploadURL, p.cfg.APIVersion, start.VideoID)
	}

	var upload struct {
		Success bool `json:"success"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   endpoint + "_upload",
		Method: http.MethodPost,
		URL:    uploadURL,
		Header: http.Header{"Authorization": {"OAuth " + pg.token}, "File_url": {videoURL}},
		Out:    &upload,
	}); err != nil {
		return "", "", err
	}
	if !upload.Success {
		return "", "", publisher.TransientError(p.Platform(), nil, "hosted upload was not acknowledged").With("video_id", start.VideoID)
	}

	form := url.Values{
		"upload_phase": {"finish"},
		"video_id":     {start.VideoID},
		"access_token": {pg.token},
	}
	for k, v := range finishParams {
		form[k] = v
	}
	var finish struct {
		Success bool   `json:"success"`
		PostID  string `json:"post_id"`
	}
	if _, err := s.Client.Do(ctx, publisher.Call{
		Step:   endpoint + "_finish",
		Method: http.MethodPost,
		URL:    target,
		Form:   form,
		Out:    &finish,
	}); err != nil {
		return "", "", err
	}
	if !finish.Success {
		return "", "", publisher.ValidationError(p.Platform(), "%s finish was rejected", endpoint).With("video_id", start.VideoID)
	}
	return start.VideoID, finish.PostID, nil
}

// awaitVideo polls the video status. An explicit processing error fails the attempt; an unsupported
// status query or an exhausted wait keeps the returned video id.
func (p *Provider) awaitVideo(ctx context.Context, s *publisher.Session, pg page, m models.Media, res *publisher.Result) (*publisher.Result, error) {
	var last videoStatus
	var processingErr error
	err := p.deps.MediaPolicy(m).Run(ctx, p.deps.Clock, func(ctx context.Context, attempt int) (bool, error) {
		var out struct {
			Status videoStatus `json:"status"`
		}
		_, err := s.Client.Do(ctx, publisher.Call{
			Step:   "video_status",
			Method: http.MethodGet,
			URL:    fmt.Sprintf("%s/%s", p.base(), res.PlatformPostID),
			Query:  url.Values{"fields": {"status"}, "access_token": {pg.token}},
			Out:    &out,
		})
		if err != nil {
			if publisher.IsRetryable(err) {
				return false, nil
			}
			return false, err
		}
		last = out.Status
		if last.failed() {
			processingErr = publisher.ValidationError(p.Platform(), "video %s failed processing", res.PlatformPostID).
				With("video_id", res.PlatformPostID).
				With("video_status", last.VideoStatus)
			return false, processingErr
		}
		return last.ready(), nil
	})
	if err == nil {
		return publisher.Verified(res), nil
	}
	if processingErr != nil {
		return nil, processingErr
	}
	s.Logger.Info("Video status not authoritative, trusting upload",
		zap.String("video_id", res.PlatformPostID), zap.String("video_status", last.VideoStatus), zap.Error(err))
	return publisher.Trusted(res, "video status polling not authoritative"), nil
}
