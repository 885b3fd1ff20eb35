package resolver

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
)

func TestClamp_CutsAtLateLineBreak(t *testing.T) {
	// 2800 chars, a break, then 699 more: 3500 total.
	caption := strings.Repeat("a", 2800) + "\n" + strings.Repeat("b", 699)
	require.Len(t, []rune(caption), 3500)

	out := Clamp(caption, 3000)
	assert.LessOrEqual(t, len([]rune(out)), 3000)
	assert.Equal(t, strings.Repeat("a", 2800), out)
}

func TestClamp_HardCutsWithoutLateBreak(t *testing.T) {
	caption := strings.Repeat("a", 2000) + "\n" + strings.Repeat("b", 1499)
	out := Clamp(caption, 3000)
	assert.Len(t, []rune(out), 3000)
	assert.True(t, strings.HasSuffix(out, "b"))
}

func TestClamp_BoundaryOfFinalTenPercent(t *testing.T) {
	at := strings.Repeat("a", 2700) + "\n" + strings.Repeat("b", 400)
	assert.Equal(t, strings.Repeat("a", 2700), Clamp(at, 3000))

	before := strings.Repeat("a", 2699) + "\n" + strings.Repeat("b", 400)
	assert.Len(t, []rune(Clamp(before, 3000)), 3000)
}

func TestClamp_Idempotent(t *testing.T) {
	inputs := []string{
		strings.Repeat("line of text\r\n", 400),
		strings.Repeat("x", 5000),
		"short caption\r\nwith windows breaks",
		strings.Repeat("ü", 2300),
		strings.Repeat("word ", 100) + "\n\n" + strings.Repeat("z", 250),
	}
	for _, limit := range []int{280, 500, 2200, 3000} {
		for _, in := range inputs {
			once := Clamp(in, limit)
			assert.Equal(t, once, Clamp(once, limit))
			assert.LessOrEqual(t, len([]rune(once)), limit)
			assert.NotContains(t, once, "\r")
		}
	}
}

func TestClamp_CountsRunes(t *testing.T) {
	out := Clamp(strings.Repeat("é", 300), 280)
	assert.Len(t, []rune(out), 280)
}

func TestResolveCaption_Precedence(t *testing.T) {
	r := New(Config{}, nil)
	content := models.ContentSnapshot{
		Caption:          "base",
		PlatformCaptions: map[models.Platform]string{models.PlatformLinkedIn: "linkedin caption"},
		AccountCaptions:  map[string]string{"acc-1": "override\r\ntext"},
	}

	assert.Equal(t, "override\ntext", r.ResolveCaption(content, &models.SocialAccount{ID: "acc-1"}, models.PlatformLinkedIn))
	assert.Equal(t, "linkedin caption", r.ResolveCaption(content, &models.SocialAccount{ID: "acc-2"}, models.PlatformLinkedIn))
	assert.Equal(t, "base", r.ResolveCaption(content, nil, models.PlatformX))

	content.Caption = strings.Repeat("a", 2800) + "\n" + strings.Repeat("b", 699)
	out := r.ResolveCaption(content, nil, models.PlatformPinterest)
	assert.LessOrEqual(t, len([]rune(out)), 500)
}

func TestResolveMediaURL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New(Config{BaseURL: "https://media.example.com/", SigningKey: "k"}, poll.NewManualClock(now))
	ctx := context.Background()

	u, err := r.ResolveMediaURL(ctx, models.Media{ID: "m1", Public: true, PublicURL: "https://cdn.example.com/a.jpg"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.jpg", u)

	u, err = r.ResolveMediaURL(ctx, models.Media{ID: "m2", StorageKey: "uploads/v.mp4"}, 15*time.Minute)
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/v.mp4", parsed.Path)

	expires, err := strconv.ParseInt(parsed.Query().Get("expires"), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute).Unix(), expires)
	sig := parsed.Query().Get("signature")
	assert.True(t, Verify([]byte("k"), "uploads/v.mp4", expires, sig, now))
	assert.False(t, Verify([]byte("k"), "uploads/v.mp4", expires, sig, now.Add(16*time.Minute)))
	assert.False(t, Verify([]byte("other"), "uploads/v.mp4", expires, sig, now))

	_, err = New(Config{BaseURL: "https://media.example.com"}, nil).ResolveMediaURL(ctx, models.Media{ID: "m3", StorageKey: "x"}, time.Hour)
	assert.ErrorIs(t, err, ErrNoSigningKey)

	_, err = r.ResolveMediaURL(ctx, models.Media{ID: "m4"}, time.Hour)
	assert.ErrorIs(t, err, ErrNoLocation)
}
