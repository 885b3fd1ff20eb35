package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want Platform
	}{
		{"Facebook", PlatformFacebook},
		{"ig", PlatformInstagram},
		{" twitter ", PlatformX},
		{"tiktok", PlatformTikTok},
	}
	for _, tt := range tests {
		got, err := ParsePlatform(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParsePlatform("myspace")
	assert.Error(t, err)
}

func TestDelayUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(90 * time.Second)

	assert.Equal(t, time.Duration(0), DelayUntil(nil, now))
	assert.Equal(t, time.Duration(0), DelayUntil(&past, now))
	assert.Equal(t, 90*time.Second, DelayUntil(&future, now))
}

func TestJobKey(t *testing.T) {
	p := &Publication{ID: "pub-1", Platform: PlatformLinkedIn}
	assert.Equal(t, "linkedin:pub-1", p.IdempotencyKey())
	job := NewJobFor(p)
	assert.Equal(t, "linkedin:pub-1", job.IdempotencyKey)
	assert.Equal(t, "pub-1", job.PublicationID)
}

func TestRollup(t *testing.T) {
	assert.Equal(t, ContentPublished, Rollup(map[PublicationStatus]int{StatusSuccess: 2}).Status)
	assert.Equal(t, ContentPartiallyPublished, Rollup(map[PublicationStatus]int{StatusSuccess: 1, StatusFailed: 1}).Status)
	assert.Equal(t, ContentFailed, Rollup(map[PublicationStatus]int{StatusFailed: 3}).Status)
	assert.Equal(t, ContentPublishing, Rollup(map[PublicationStatus]int{StatusPublishing: 1, StatusSuccess: 1}).Status)

	s := Rollup(map[PublicationStatus]int{StatusQueued: 1, StatusSkipped: 1})
	assert.Equal(t, ContentScheduled, s.Status)
	assert.Equal(t, 2, s.Total)
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan([]byte(`{"code":"190","steps":[1,2]}`)))
	assert.Equal(t, "190", m["code"])

	v, err := JSONMap(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	assert.Error(t, m.Scan(42))
}

func TestContentSnapshotHelpers(t *testing.T) {
	c := ContentSnapshot{
		Media: []Media{
			{ID: "a", Kind: MediaKindImage},
			{ID: "b", Kind: MediaKindVideo},
			{ID: "c", Kind: MediaKindImage},
		},
		Covers: map[string]CoverSelection{"acct": {MediaID: "c"}},
	}
	v, ok := c.FirstVideo()
	require.True(t, ok)
	assert.Equal(t, "b", v.ID)
	assert.Len(t, c.Images(), 2)
	cover, ok := c.CoverFor("acct")
	require.True(t, ok)
	assert.Equal(t, "c", cover.MediaID)
}
