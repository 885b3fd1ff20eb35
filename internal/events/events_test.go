package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/gorilla/websocket"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/config"
	"github.com/ifuryst/ripplecast/internal/models"
)

func sampleEvent() StatusChanged {
	return StatusChanged{
		PublicationID: "pub-1",
		ContentID:     "content-1",
		Platform:      models.PlatformInstagram,
		Status:        models.StatusFailed,
		Previous:      models.StatusPublishing,
		ErrorCode:     "9007",
		ErrorMessage:  "media not ready",
		Retrying:      true,
		At:            time.Unix(1700000000, 0).UTC(),
	}
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := newRabbitMQPublisher(ch, "publications", "publication.status_changed")

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "publications", ch.exchange)
	assert.Equal(t, "publication.status_changed.instagram.FAILED", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)

	var decoded StatusChanged
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, "pub-1", decoded.PublicationID)
	assert.True(t, decoded.Retrying)

	ch.err = errors.New("channel closed")
	assert.Error(t, p.Publish(context.Background(), sampleEvent()))

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestPubSubPublisher_OrdersByPublication(t *testing.T) {
	var got *pubsub.Message
	p := &PubSubPublisher{name: "publication-status", publish: func(ctx context.Context, msg *pubsub.Message) error {
		got = msg
		return nil
	}}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.NotNil(t, got)
	assert.Equal(t, "pub-1", got.OrderingKey)
	assert.Equal(t, "instagram", got.Attributes["platform"])
	assert.Equal(t, "FAILED", got.Attributes["status"])
	assert.Contains(t, string(got.Data), `"error_code":"9007"`)
	assert.NoError(t, p.Close())
}

type failing struct{ closed bool }

func (f *failing) Publish(context.Context, StatusChanged) error { return errors.New("sink down") }

func (f *failing) Close() error {
	f.closed = true
	return nil
}

func TestMulti_PublishesToEverySink(t *testing.T) {
	rec := &Recorder{}
	bad := &failing{}
	m := Multi{bad, rec}

	err := m.Publish(context.Background(), sampleEvent())
	assert.EqualError(t, err, "sink down")
	assert.Len(t, rec.Events(), 1)

	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
}

func TestHub_BroadcastsWithContentFilter(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	all, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer all.Close()
	other, _, err := websocket.DefaultDialer.Dial(wsURL+"?content_id=other", nil)
	require.NoError(t, err)
	defer other.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), sampleEvent()))

	var got StatusChanged
	require.NoError(t, all.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "pub-1", got.PublicationID)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "filtered client must not receive other content")
}

func TestHub_ConcurrentPublishers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = hub.Close() })

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	const workers, each = 8, sendBuffer / 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				assert.NoError(t, hub.Publish(context.Background(), sampleEvent()))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < workers*each; i++ {
		var got StatusChanged
		require.NoError(t, conn.ReadJSON(&got), "event %d", i)
		assert.Equal(t, "pub-1", got.PublicationID)
	}
	assert.Equal(t, 1, hub.ClientCount())
}

func TestNew_BuildsConfiguredSinks(t *testing.T) {
	sinks, err := New(context.Background(), config.EventsConfig{Drivers: []string{"log", "websocket"}}, NewHub(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, sinks, 2)

	_, err = New(context.Background(), config.EventsConfig{Drivers: []string{"kafka"}}, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = New(context.Background(), config.EventsConfig{Drivers: []string{"websocket"}}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestStatusChanged_Terminal(t *testing.T) {
	e := sampleEvent()
	assert.True(t, e.Terminal())
	e.Status = models.StatusPublishing
	assert.False(t, e.Terminal())
}
