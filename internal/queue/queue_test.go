package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
)

func job(pubID string) *models.PublicationJob {
	return &models.PublicationJob{
		IdempotencyKey: models.JobKey(models.PlatformInstagram, pubID),
		PublicationID:  pubID,
		Platform:       models.PlatformInstagram,
	}
}

func TestBackoff(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 5*time.Second, b.Delay(1))
	assert.Equal(t, 10*time.Second, b.Delay(2))
	assert.Equal(t, 20*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(0))

	for failed, want := range map[int]time.Duration{1: 5 * time.Second, 2: 10 * time.Second, 3: 20 * time.Second} {
		d, ok := b.Next(failed)
		assert.True(t, ok)
		assert.Equal(t, want, d)
	}
	_, ok := b.Next(4)
	assert.False(t, ok)
	_, ok = b.Next(0)
	assert.False(t, ok)
}

func TestBackoff_StrictlyIncreasing(t *testing.T) {
	b := Backoff{BaseDelay: time.Second, MaxAttempts: 6}
	prev := time.Duration(0)
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		d := b.Delay(attempt)
		assert.Greater(t, d, prev)
		prev = d
	}
}

func TestMemoryQueue_FirstWriterWins(t *testing.T) {
	clock := poll.NewManualClock(time.Unix(1000, 0))
	q := NewMemoryQueue(clock)
	ctx := context.Background()

	first, created, err := q.Enqueue(ctx, job("p1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	dup := job("p1")
	dup.ContentID = "other"
	second, created, err := q.Enqueue(ctx, dup, 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.RunAt, second.RunAt)

	n, err := q.Pending(ctx, models.PlatformInstagram)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemoryQueue_ClaimHonoursDelay(t *testing.T) {
	clock := poll.NewManualClock(time.Unix(1000, 0))
	q := NewMemoryQueue(clock)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, job("p1"), 30*time.Second)
	require.NoError(t, err)

	got, err := q.Claim(ctx, models.PlatformInstagram, clock.Now())
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = q.Claim(ctx, models.PlatformFacebook, clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = q.Claim(ctx, models.PlatformInstagram, clock.Now().Add(30*time.Second))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.PublicationID)

	has, err := q.Has(ctx, got.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryQueue_ClaimIsAtMostOnce(t *testing.T) {
	clock := poll.NewManualClock(time.Unix(1000, 0))
	q := NewMemoryQueue(clock)
	ctx := context.Background()
	_, _, err := q.Enqueue(ctx, job("p1"), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := q.Claim(ctx, models.PlatformInstagram, clock.Now())
			if err == nil && j != nil {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)
}

func TestMemoryQueue_RescheduleAndCancel(t *testing.T) {
	clock := poll.NewManualClock(time.Unix(1000, 0))
	q := NewMemoryQueue(clock)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, job("p1"), time.Hour)
	require.NoError(t, err)
	require.NoError(t, q.Reschedule(ctx, job("p1"), 2*time.Hour))

	stored, ok := q.Get(models.JobKey(models.PlatformInstagram, "p1"))
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(2*time.Hour), stored.RunAt)

	n, _ := q.Pending(ctx, models.PlatformInstagram)
	assert.EqualValues(t, 1, n)

	removed, err := q.Cancel(ctx, stored.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = q.Cancel(ctx, stored.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryQueue_ClaimsEarliestFirst(t *testing.T) {
	clock := poll.NewManualClock(time.Unix(1000, 0))
	q := NewMemoryQueue(clock)
	ctx := context.Background()

	_, _, _ = q.Enqueue(ctx, job("late"), 20*time.Second)
	_, _, _ = q.Enqueue(ctx, job("early"), 10*time.Second)

	got, err := q.Claim(ctx, models.PlatformInstagram, clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "early", got.PublicationID)
}

func TestEnqueue_RejectsInvalidJob(t *testing.T) {
	q := NewMemoryQueue(nil)
	_, _, err := q.Enqueue(context.Background(), &models.PublicationJob{PublicationID: "p"}, 0)
	assert.ErrorIs(t, err, ErrInvalidJob)
}
