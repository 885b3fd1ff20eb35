package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FormFactor is the shape a piece of content takes on the target platform.
type FormFactor string

const (
	FormFactorFeedPost      FormFactor = "FEED_POST"
	FormFactorStory         FormFactor = "STORY"
	FormFactorVerticalVideo FormFactor = "VERTICAL_VIDEO"
	FormFactorCarousel      FormFactor = "CAROUSEL"
	FormFactorText          FormFactor = "TEXT"
)

type MediaKind string

const (
	MediaKindImage MediaKind = "IMAGE"
	MediaKindVideo MediaKind = "VIDEO"
)

// Media is a reference to an uploaded asset. Private assets are only reachable through a signed URL.
type Media struct {
	ID          string    `json:"id"`
	Kind        MediaKind `json:"kind"`
	StorageKey  string    `json:"storage_key,omitempty"`
	PublicURL   string    `json:"public_url,omitempty"`
	Public      bool      `json:"public"`
	MimeType    string    `json:"mime_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	DurationSec float64   `json:"duration_sec,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
}

func (m Media) IsVideo() bool { return m.Kind == MediaKindVideo }

// CoverSelection is an account specific cover or thumbnail choice for video content.
type CoverSelection struct {
	MediaID       string `json:"media_id,omitempty"`
	ThumbOffsetMs int64  `json:"thumb_offset_ms,omitempty"`
}

// ContentSnapshot is the read-only view of authored content handed to a provider.
type ContentSnapshot struct {
	ContentID        string                    `json:"content_id"`
	FormFactor       FormFactor                `json:"form_factor"`
	Title            string                    `json:"title,omitempty"`
	Caption          string                    `json:"caption,omitempty"`
	PlatformCaptions map[Platform]string       `json:"platform_captions,omitempty"`
	AccountCaptions  map[string]string         `json:"account_captions,omitempty"`
	Media            []Media                   `json:"media,omitempty"`
	Covers           map[string]CoverSelection `json:"covers,omitempty"`
	Link             string                    `json:"link,omitempty"`
}

// FirstVideo returns the first video in the media list.
func (c *ContentSnapshot) FirstVideo() (Media, bool) {
	for _, m := range c.Media {
		if m.IsVideo() {
			return m, true
		}
	}
	return Media{}, false
}

// Images returns the image media in order.
func (c *ContentSnapshot) Images() []Media {
	var out []Media
	for _, m := range c.Media {
		if m.Kind == MediaKindImage {
			out = append(out, m)
		}
	}
	return out
}

// CoverFor returns the cover selection for the account, if one was made.
func (c *ContentSnapshot) CoverFor(accountID string) (CoverSelection, bool) {
	cover, ok := c.Covers[accountID]
	return cover, ok
}

// MediaByID looks up a media item by id.
func (c *ContentSnapshot) MediaByID(id string) (Media, bool) {
	for _, m := range c.Media {
		if m.ID == id {
			return m, true
		}
	}
	return Media{}, false
}

func (c *ContentSnapshot) Scan(value interface{}) error {
	if value == nil {
		*c = ContentSnapshot{}
		return nil
	}

	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), c)
	case []byte:
		return json.Unmarshal(v, c)
	default:
		return fmt.Errorf("cannot scan %T into ContentSnapshot", value)
	}
}

func (c ContentSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
