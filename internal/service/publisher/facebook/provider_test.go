package facebook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
	"github.com/ifuryst/ripplecast/internal/service/publisher"
	"github.com/ifuryst/ripplecast/internal/service/publisher/resolver"
)

type call struct {
	path  string
	phase string
	form  map[string]string
}

type fakeGraph struct {
	mu    sync.Mutex
	calls []call
	// route returns the status and body for a request; nil falls through to defaults.
	route func(c call) (int, string, bool)
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	form := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		_ = r.ParseMultipartForm(1 << 20)
	} else {
		_ = r.ParseForm()
	}
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}
	c := call{path: r.URL.Path, phase: form["upload_phase"], form: form}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.route != nil {
		if status, body, ok := f.route(c); ok {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
	}
	switch {
	case strings.HasSuffix(c.path, "/media/v.mp4"):
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(make([]byte, 50))
	case strings.HasSuffix(c.path, "/photos") && form["published"] == "false":
		_, _ = w.Write([]byte(`{"id":"photo-1"}`))
	case strings.HasSuffix(c.path, "/photos"):
		_, _ = w.Write([]byte(`{"id":"photo-9","post_id":"page_9"}`))
	case strings.HasSuffix(c.path, "/feed"):
		_, _ = w.Write([]byte(`{"id":"page_feed"}`))
	case strings.HasSuffix(c.path, "/photo_stories"):
		_, _ = w.Write([]byte(`{"success":true,"post_id":"story-1"}`))
	case strings.HasSuffix(c.path, "/video_reels") && c.phase == "start":
		_, _ = w.Write([]byte(`{"video_id":"reel-1","upload_url":"` + uploadURL + `/upload/reel-1"}`))
	case strings.HasPrefix(c.path, "/upload/"):
		_, _ = w.Write([]byte(`{"success":true}`))
	case strings.HasSuffix(c.path, "/video_reels") && c.phase == "finish":
		_, _ = w.Write([]byte(`{"success":true}`))
	case strings.HasSuffix(c.path, "/videos") && c.phase == "start":
		_, _ = w.Write([]byte(`{"video_id":"vid-1","upload_session_id":"sess-1","start_offset":"0","end_offset":"10"}`))
	case strings.HasSuffix(c.path, "/videos") && c.phase == "transfer":
		_, _ = w.Write([]byte(`{"start_offset":"10","end_offset":"20"}`))
	case strings.HasSuffix(c.path, "/videos") && c.phase == "finish":
		_, _ = w.Write([]byte(`{"success":true}`))
	case strings.HasSuffix(c.path, "/reel-1") || strings.HasSuffix(c.path, "/vid-1"):
		_, _ = w.Write([]byte(`{"status":{"video_status":"ready"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown path","code":803}}`))
	}
}

func (f *fakeGraph) count(pred func(c call) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if pred(c) {
			n++
		}
	}
	return n
}

var uploadURL string

func setup(t *testing.T, f *fakeGraph) (*Provider, string) {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	uploadURL = srv.URL
	deps := publisher.Deps{
		HTTP:       srv.Client(),
		Resolver:   resolver.New(resolver.Config{}, nil),
		Clock:      poll.NewManualClock(time.Unix(0, 0)),
		PollBounds: poll.Bounds{MinInterval: time.Second, MaxInterval: 4 * time.Second, MaxWait: 30 * time.Second},
	}
	return New(Config{GraphURL: srv.URL, APIVersion: "v19.0", VideoUploadURL: srv.URL + "/upload", ChunkedVideoMin: 10}, deps), srv.URL
}

func req(form models.FormFactor, media ...models.Media) *publisher.Request {
	return &publisher.Request{
		PublicationID: "pub-1",
		Account:       &models.SocialAccount{ID: "acc-1", ExternalID: "user-1", PageID: "page", AccessToken: "page-token"},
		Content:       models.ContentSnapshot{FormFactor: form, Caption: "caption", Media: media},
	}
}

func img() models.Media {
	return models.Media{ID: "i1", Kind: models.MediaKindImage, Public: true, PublicURL: "https://cdn.example.com/i.jpg"}
}

const rejected = `{"error":{"message":"(#100) Invalid parameter","code":100}}`

func TestFeed_FallsBackToAttachedMedia(t *testing.T) {
	f := &fakeGraph{route: func(c call) (int, string, bool) {
		if strings.HasSuffix(c.path, "/photos") && c.form["published"] == "true" {
			return http.StatusBadRequest, rejected, true
		}
		return 0, "", false
	}}
	p, _ := setup(t, f)

	res, err := p.Publish(context.Background(), req(models.FormFactorFeedPost, img()))
	require.NoError(t, err)
	assert.Equal(t, "feed_attached_media", res.Method)
	assert.Equal(t, "page_feed", res.PlatformPostID)
	assert.Equal(t, 1, f.count(func(c call) bool { return c.form["attached_media[0]"] == `{"media_fbid":"photo-1"}` }))
	assert.Zero(t, f.count(func(c call) bool { return c.form["link"] != "" }))
}

func TestFeed_ThrottlingDoesNotFallBack(t *testing.T) {
	f := &fakeGraph{route: func(c call) (int, string, bool) {
		if strings.HasSuffix(c.path, "/photos") {
			return http.StatusBadRequest, `{"error":{"message":"Application request limit reached","code":4}}`, true
		}
		return 0, "", false
	}}
	p, _ := setup(t, f)

	_, err := p.Publish(context.Background(), req(models.FormFactorFeedPost, img()))
	require.Error(t, err)
	assert.True(t, publisher.IsRetryable(err))
	assert.Zero(t, f.count(func(c call) bool { return strings.HasSuffix(c.path, "/feed") }))
}

func TestFeed_ExhaustionIsFatal(t *testing.T) {
	f := &fakeGraph{route: func(c call) (int, string, bool) {
		if strings.HasSuffix(c.path, "/photos") || strings.HasSuffix(c.path, "/feed") {
			return http.StatusBadRequest, rejected, true
		}
		return 0, "", false
	}}
	p, _ := setup(t, f)

	_, err := p.Publish(context.Background(), req(models.FormFactorFeedPost, img()))
	pe, ok := publisher.AsError(err)
	require.True(t, ok)
	assert.Equal(t, publisher.KindExhausted, pe.Kind)
	assert.False(t, pe.Retryable)
	assert.Len(t, pe.Context["fallback_attempts"], 3)
}

func TestChunkedVideo_ChunkFailureSkipsFinish(t *testing.T) {
	f := &fakeGraph{route: func(c call) (int, string, bool) {
		if c.phase == "transfer" && c.form["start_offset"] == "10" {
			return http.StatusInternalServerError, `{"error":{"message":"transient","code":1}}`, true
		}
		return 0, "", false
	}}
	p, base := setup(t, f)
	video := models.Media{ID: "v1", Kind: models.MediaKindVideo, Public: true, PublicURL: base + "/media/v.mp4", SizeBytes: 50}

	_, err := p.Publish(context.Background(), req(models.FormFactorFeedPost, video))
	require.Error(t, err)
	pe, _ := publisher.AsError(err)
	require.NotNil(t, pe)
	assert.Contains(t, pe.Message, "chunk 2 of 5")
	assert.Equal(t, 3, f.count(func(c call) bool { return c.phase == "transfer" && c.form["start_offset"] == "10" }))
	assert.Zero(t, f.count(func(c call) bool { return c.phase == "finish" }))
}

func TestChunkedVideo_Succeeds(t *testing.T) {
	f := &fakeGraph{}
	p, base := setup(t, f)
	video := models.Media{ID: "v1", Kind: models.MediaKindVideo, Public: true, PublicURL: base + "/media/v.mp4", SizeBytes: 50}

	res, err := p.Publish(context.Background(), req(models.FormFactorFeedPost, video))
	require.NoError(t, err)
	assert.Equal(t, "vid-1", res.PlatformPostID)
	assert.Equal(t, "video_chunked", res.Method)
	assert.Equal(t, 5, f.count(func(c call) bool { return c.phase == "transfer" }))
	assert.Equal(t, true, res.Payload["verified"])
}

func TestReel_TrustsWhenStatusUnsupported(t *testing.T) {
	f := &fakeGraph{route: func(c call) (int, string, bool) {
		if strings.HasSuffix(c.path, "/reel-1") {
			return http.StatusBadRequest, `{"error":{"message":"Unsupported get request","code":100,"error_subcode":33}}`, true
		}
		return 0, "", false
	}}
	p, _ := setup(t, f)
	video := models.Media{ID: "v1", Kind: models.MediaKindVideo, Public: true, PublicURL: "https://cdn.example.com/r.mp4"}

	res, err := p.Publish(context.Background(), req(models.FormFactorVerticalVideo, video))
	require.NoError(t, err)
	assert.Equal(t, "reel-1", res.PlatformPostID)
	assert.Equal(t, false, res.Payload["verified"])
	assert.Equal(t, 1, f.count(func(c call) bool { return c.phase == "finish" && c.form["video_state"] == "PUBLISHED" }))
}

func TestReel_ProcessingErrorFails(t *testing.T) {
	f := &fakeGraph{route: func(c call) (int, string, bool) {
		if strings.HasSuffix(c.path, "/reel-1") {
			return http.StatusOK, `{"status":{"video_status":"error"}}`, true
		}
		return 0, "", false
	}}
	p, _ := setup(t, f)
	video := models.Media{ID: "v1", Kind: models.MediaKindVideo, Public: true, PublicURL: "https://cdn.example.com/r.mp4"}

	_, err := p.Publish(context.Background(), req(models.FormFactorVerticalVideo, video))
	require.Error(t, err)
	assert.False(t, publisher.IsRetryable(err))
}

func TestPhotoStory(t *testing.T) {
	f := &fakeGraph{}
	p, _ := setup(t, f)

	res, err := p.Publish(context.Background(), req(models.FormFactorStory, img()))
	require.NoError(t, err)
	assert.Equal(t, "story-1", res.PlatformPostID)
	assert.Equal(t, 1, f.count(func(c call) bool { return c.form["photo_id"] == "photo-1" }))
}

func TestMissingToken(t *testing.T) {
	f := &fakeGraph{}
	p, _ := setup(t, f)
	r := req(models.FormFactorText)
	r.Account.AccessToken = ""

	_, err := p.Publish(context.Background(), r)
	pe, ok := publisher.AsError(err)
	require.True(t, ok)
	assert.Equal(t, publisher.KindConfiguration, pe.Kind)
	assert.Zero(t, f.count(func(call) bool { return true }))
}
