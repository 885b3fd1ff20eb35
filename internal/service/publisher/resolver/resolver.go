package resolver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
)

var (
	ErrNoLocation   = errors.New("media has neither a public url nor a storage key")
	ErrNoSigningKey = errors.New("private media requires a signing key")
)

type Config struct {
	BaseURL    string
	SigningKey string
}

// Resolver produces outgoing captions and externally fetchable media URLs.
type Resolver struct {
	baseURL string
	key     []byte
	clock   poll.Clock
}

func New(cfg Config, clock poll.Clock) *Resolver {
	if clock == nil {
		clock = poll.RealClock()
	}
	return &Resolver{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     []byte(cfg.SigningKey),
		clock:   clock,
	}
}

func (r *Resolver) ResolveCaption(content models.ContentSnapshot, account *models.SocialAccount, platform models.Platform) string {
	return Clamp(SelectCaption(content, account, platform), platform.CaptionLimit())
}

// ResolveMediaURL returns the public URL of a public object, or a URL signed to expire after ttl.
// Callers must not reuse the URL past ttl.
func (r *Resolver) ResolveMediaURL(ctx context.Context, media models.Media, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if media.Public {
		if media.PublicURL != "" {
			return media.PublicURL, nil
		}
		if media.StorageKey != "" && r.baseURL != "" {
			return r.objectURL(media.StorageKey), nil
		}
		return "", fmt.Errorf("media %s: %w", media.ID, ErrNoLocation)
	}

	if media.StorageKey == "" {
		if media.PublicURL != "" {
			return media.PublicURL, nil
		}
		return "", fmt.Errorf("media %s: %w", media.ID, ErrNoLocation)
	}
	if len(r.key) == 0 {
		return "", fmt.Errorf("media %s: %w", media.ID, ErrNoSigningKey)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	expires := r.clock.Now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", Sign(r.key, media.StorageKey, expires))
	return r.objectURL(media.StorageKey) + "?" + q.Encode(), nil
}

func (r *Resolver) objectURL(key string) string {
	return r.baseURL + "/" + strings.TrimLeft(key, "/")
}

// Sign computes the hex HMAC-SHA256 signature for a storage key and expiry.
func Sign(key []byte, storageKey string, expires int64) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(storageKey))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign and rejects expired URLs.
func Verify(key []byte, storageKey string, expires int64, signature string, now time.Time) bool {
	if now.Unix() > expires {
		return false
	}
	expected := Sign(key, storageKey, expires)
	return hmac.Equal([]byte(expected), []byte(signature))
}
