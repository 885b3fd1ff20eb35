package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/events"
	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
	"github.com/ifuryst/ripplecast/internal/queue"
	"github.com/ifuryst/ripplecast/internal/store"
)

type memoryAudit struct{ keys []string }

func (a *memoryAudit) Record(ctx context.Context, entry models.AuditLog) error {
	a.keys = append(a.keys, entry.EventKey)
	return nil
}

type publicationFixture struct {
	clock  *poll.ManualClock
	pubs   *store.MemoryPublications
	queue  *queue.MemoryQueue
	events *events.Recorder
	audit  *memoryAudit
	svc    *PublicationService
}

func newPublicationFixture() *publicationFixture {
	clock := poll.NewManualClock(time.Unix(1700000000, 0).UTC())
	f := &publicationFixture{
		clock:  clock,
		pubs:   store.NewMemoryPublications(),
		queue:  queue.NewMemoryQueue(clock),
		events: &events.Recorder{},
		audit:  &memoryAudit{},
	}
	accounts := store.NewMemoryAccounts(
		&models.SocialAccount{ID: "acc-ig", Platform: models.PlatformInstagram, AccessToken: "t"},
		&models.SocialAccount{ID: "acc-bad", Platform: "myspace"},
	)
	f.svc = NewPublicationService(f.pubs, accounts, f.queue, f.events, f.audit, nil, clock, zap.NewNop())
	return f
}

func (f *publicationFixture) create(t *testing.T, scheduledAt *time.Time) *models.Publication {
	t.Helper()
	pub, created, err := f.svc.Create(context.Background(), CreatePublicationRequest{
		ContentID:       "content-1",
		SocialAccountID: "acc-ig",
		ScheduledAt:     scheduledAt,
		Content:         models.ContentSnapshot{Caption: "hello"},
	})
	require.NoError(t, err)
	require.True(t, created)
	return pub
}

func TestPublicationService_CreateQueuesOnce(t *testing.T) {
	f := newPublicationFixture()
	ctx := context.Background()
	at := f.clock.Now().Add(time.Hour)

	pub := f.create(t, &at)
	assert.Equal(t, models.StatusQueued, pub.Status)
	assert.Equal(t, models.PlatformInstagram, pub.Platform)
	assert.Equal(t, "content-1", pub.Content.ContentID)

	job, ok := f.queue.Get(pub.IdempotencyKey())
	require.True(t, ok)
	assert.Equal(t, at, job.RunAt)

	again, created, err := f.svc.Create(ctx, CreatePublicationRequest{ContentID: "content-1", SocialAccountID: "acc-ig"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, pub.ID, again.ID)

	pending, _ := f.queue.Pending(ctx, models.PlatformInstagram)
	assert.EqualValues(t, 1, pending)
	assert.Equal(t, []string{"publication.created"}, f.audit.keys)
}

func TestPublicationService_CreateRejectsUnknownAccount(t *testing.T) {
	f := newPublicationFixture()
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, CreatePublicationRequest{ContentID: "c", SocialAccountID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownAccount)

	_, _, err = f.svc.Create(ctx, CreatePublicationRequest{ContentID: "c", SocialAccountID: "acc-bad"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = f.svc.Create(ctx, CreatePublicationRequest{
		ContentID: "c", SocialAccountID: "acc-ig", Content: models.ContentSnapshot{ContentID: "other"},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPublicationService_EnqueueJob(t *testing.T) {
	f := newPublicationFixture()
	ctx := context.Background()
	pub := f.create(t, nil)

	_, _, err := f.svc.EnqueueJob(ctx, JobRequest{PublicationID: pub.ID, Platform: "instagram", IdempotencyKey: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = f.svc.EnqueueJob(ctx, JobRequest{PublicationID: pub.ID, Platform: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = f.svc.EnqueueJob(ctx, JobRequest{PublicationID: "missing", Platform: "instagram"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	job, created, err := f.svc.EnqueueJob(ctx, JobRequest{
		PublicationID:  pub.ID,
		Platform:       "instagram",
		IdempotencyKey: "instagram:" + pub.ID,
	})
	require.NoError(t, err)
	assert.False(t, created, "the job queued on create wins")
	assert.Equal(t, pub.IdempotencyKey(), job.IdempotencyKey)
}

func TestPublicationService_RescheduleReplacesJob(t *testing.T) {
	f := newPublicationFixture()
	ctx := context.Background()
	first := f.clock.Now().Add(2 * time.Hour)
	pub := f.create(t, &first)

	second := f.clock.Now().Add(10 * time.Minute)
	got, err := f.svc.Reschedule(ctx, pub.ID, &second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Equal(t, second, *got.ScheduledAt)

	job, ok := f.queue.Get(pub.IdempotencyKey())
	require.True(t, ok)
	assert.Equal(t, second, job.RunAt)

	claimed, err := f.queue.Claim(ctx, models.PlatformInstagram, f.clock.Now().Add(15*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, pub.ID, claimed.PublicationID)

	next, err := f.queue.Claim(ctx, models.PlatformInstagram, f.clock.Now().Add(3*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, next, "the original schedule must not leave a second job behind")
	assert.Contains(t, f.audit.keys, "publication.rescheduled")
}

func TestPublicationService_RescheduleResetsFailedPublication(t *testing.T) {
	f := newPublicationFixture()
	ctx := context.Background()
	f.pubs.Put(&models.Publication{
		ID: "p-1", ContentID: "c", SocialAccountID: "acc-ig", Platform: models.PlatformInstagram,
		Status: models.StatusFailed, Attempts: 4, ErrorCode: "http_500", ErrorMessage: "boom",
	})

	got, err := f.svc.PublishNow(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Zero(t, got.Attempts)
	assert.Empty(t, got.ErrorCode)
	assert.Nil(t, got.ScheduledAt)

	job, ok := f.queue.Get("instagram:p-1")
	require.True(t, ok)
	assert.Equal(t, f.clock.Now(), job.RunAt)
	assert.Zero(t, job.Attempt)
}

func TestPublicationService_RescheduleInFlight(t *testing.T) {
	f := newPublicationFixture()
	f.pubs.Put(&models.Publication{
		ID: "p-1", ContentID: "c", SocialAccountID: "acc-ig", Platform: models.PlatformInstagram,
		Status: models.StatusPublishing,
	})

	_, err := f.svc.PublishNow(context.Background(), "p-1")
	assert.ErrorIs(t, err, ErrInFlight)
	_, err = f.svc.Cancel(context.Background(), "p-1")
	assert.ErrorIs(t, err, ErrInFlight)
}

func TestPublicationService_Cancel(t *testing.T) {
	f := newPublicationFixture()
	ctx := context.Background()
	pub := f.create(t, nil)

	got, err := f.svc.Cancel(ctx, pub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, got.Status)

	has, _ := f.queue.Has(ctx, pub.IdempotencyKey())
	assert.False(t, has)

	evs := f.events.Events()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, models.StatusSkipped, last.Status)
	assert.Equal(t, models.StatusQueued, last.Previous)

	_, err = f.svc.Cancel(ctx, pub.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestPublicationService_RequeueRestoresLostJob(t *testing.T) {
	f := newPublicationFixture()
	ctx := context.Background()
	pub := f.create(t, nil)

	created, err := f.svc.Requeue(ctx, pub)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = f.queue.Cancel(ctx, pub.IdempotencyKey())
	require.NoError(t, err)

	created, err = f.svc.Requeue(ctx, pub)
	require.NoError(t, err)
	assert.True(t, created)
}
