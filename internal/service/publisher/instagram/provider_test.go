package instagram

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

type fakeGraph struct {
	mu       sync.Mutex
	paths    []string
	statuses []string
	forms    map[string][]string
	verifyOK bool
}

func (f *fakeGraph) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.paths = append(f.paths, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media"):
			require.NoError(t, r.ParseForm())
			if f.forms == nil {
				f.forms = map[string][]string{}
			}
			for k, v := range r.PostForm {
				f.forms[k] = append(f.forms[k], v...)
			}
			n := len(f.forms["access_token"])
			_, _ = w.Write([]byte(`{"id":"container-` + string(rune('0'+n)) + `"}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media_publish"):
			_, _ = w.Write([]byte(`{"id":"ig-media-1"}`))
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "container-"):
			status := statusFinished
			if len(f.statuses) > 0 {
				status = f.statuses[0]
				f.statuses = f.statuses[1:]
			}
			_, _ = w.Write([]byte(`{"status_code":"` + status + `","status":"` + status + `: detail"}`))
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/ig-media-1"):
			if !f.verifyOK {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"message":"unsupported get","code":100}}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"ig-media-1","permalink":"https://instagram.com/p/abc"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeGraph) called(suffix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func newProvider(t *testing.T, f *fakeGraph) (*Provider, *httptest.Server) {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	deps := publisher.Deps{
		HTTP:     srv.Client(),
		Resolver: resolver.New(resolver.Config{}, nil),
		Clock:    poll.NewManualClock(time.Unix(0, 0)),
		PollBounds: poll.Bounds{
			MinInterval: time.Second,
			MaxInterval: 5 * time.Second,
			MaxWait:     time.Minute,
		},
	}
	return New(Config{GraphURL: srv.URL, APIVersion: "v19.0"}, deps), srv
}

func request(form models.FormFactor, media ...models.Media) *publisher.Request {
	return &publisher.Request{
		PublicationID: "pub-1",
		Account:       &models.SocialAccount{ID: "acc-1", ExternalID: "17841400000", AccessToken: "tok"},
		Content: models.ContentSnapshot{
			ContentID:  "content-1",
			FormFactor: form,
			Caption:    "hello\r\nworld",
			Media:      media,
		},
	}
}

func video() models.Media {
	return models.Media{ID: "v1", Kind: models.MediaKindVideo, Public: true, PublicURL: "https://cdn.example.com/v.mp4", DurationSec: 30}
}

func image(id string) models.Media {
	return models.Media{ID: id, Kind: models.MediaKindImage, Public: true, PublicURL: "https://cdn.example.com/" + id + ".jpg"}
}

func TestPublish_Reel(t *testing.T) {
	f := &fakeGraph{statuses: []string{statusInProgress, statusInProgress, statusFinished}, verifyOK: true}
	p, _ := newProvider(t, f)

	res, err := p.Publish(context.Background(), request(models.FormFactorVerticalVideo, video()))
	require.NoError(t, err)
	assert.Equal(t, "ig-media-1", res.PlatformPostID)
	assert.Equal(t, "https://instagram.com/p/abc", res.Permalink)
	assert.Equal(t, true, res.Payload["verified"])
	assert.Equal(t, []string{"REELS"}, f.forms["media_type"])
	assert.Equal(t, []string{"hello\nworld"}, f.forms["caption"])
	assert.Equal(t, []string{"https://cdn.example.com/v.mp4"}, f.forms["video_url"])

	steps, _ := res.Payload["calls"].([]publisher.Step)
	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"create_container", "container_status", "container_status", "container_status", "media_publish", "verify"}, names)
	assert.NotContains(t, steps[0].URL, "tok")
}

func TestPublish_ContainerErrorSkipsPublish(t *testing.T) {
	f := &fakeGraph{statuses: []string{statusInProgress, statusError, statusFinished}}
	p, _ := newProvider(t, f)

	_, err := p.Publish(context.Background(), request(models.FormFactorVerticalVideo, video()))
	require.Error(t, err)
	assert.False(t, f.called("/media_publish"))

	pe, ok := publisher.AsError(err)
	require.True(t, ok)
	assert.False(t, pe.Retryable)
	assert.Equal(t, "ERROR", pe.Context["status_code"])
	assert.NotEmpty(t, pe.Context["calls"])
}

func TestPublish_ContainerTimeoutIsRetryable(t *testing.T) {
	statuses := make([]string, 200)
	for i := range statuses {
		statuses[i] = statusInProgress
	}
	f := &fakeGraph{statuses: statuses}
	p, _ := newProvider(t, f)

	_, err := p.Publish(context.Background(), request(models.FormFactorVerticalVideo, video()))
	require.Error(t, err)
	assert.True(t, publisher.IsRetryable(err))
	assert.False(t, f.called("/media_publish"))
}

func TestPublish_StoryTrustsPublishWhenReadBackFails(t *testing.T) {
	f := &fakeGraph{}
	p, _ := newProvider(t, f)

	res, err := p.Publish(context.Background(), request(models.FormFactorStory, image("i1")))
	require.NoError(t, err)
	assert.Equal(t, "ig-media-1", res.PlatformPostID)
	assert.Equal(t, false, res.Payload["verified"])
	assert.Equal(t, []string{"STORIES"}, f.forms["media_type"])
	assert.Empty(t, f.forms["caption"])
}

func TestPublish_Carousel(t *testing.T) {
	f := &fakeGraph{verifyOK: true}
	p, _ := newProvider(t, f)

	res, err := p.Publish(context.Background(), request(models.FormFactorCarousel, image("a"), image("b")))
	require.NoError(t, err)
	assert.Equal(t, "carousel", res.Method)
	assert.Equal(t, []string{"true", "true"}, f.forms["is_carousel_item"])
	assert.Equal(t, []string{"container-1,container-2"}, f.forms["children"])
}

func TestPublish_MissingCredentialsIsFatal(t *testing.T) {
	f := &fakeGraph{}
	p, _ := newProvider(t, f)
	req := request(models.FormFactorFeedPost, image("a"))
	req.Account.AccessToken = ""

	_, err := p.Publish(context.Background(), req)
	pe, ok := publisher.AsError(err)
	require.True(t, ok)
	assert.Equal(t, publisher.KindConfiguration, pe.Kind)
	assert.Empty(t, f.paths)
}

func TestPublish_TextIsRejected(t *testing.T) {
	p, _ := newProvider(t, &fakeGraph{})
	_, err := p.Publish(context.Background(), request(models.FormFactorText))
	pe, ok := publisher.AsError(err)
	require.True(t, ok)
	assert.Equal(t, publisher.KindValidation, pe.Kind)
}
