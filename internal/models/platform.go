package models

import (
	"fmt"
	"strings"
)

// Platform is the closed set of social networks a publication can target.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformX         Platform = "x"
	PlatformTikTok    Platform = "tiktok"
	PlatformPinterest Platform = "pinterest"
)

// AllPlatforms returns every supported platform in a stable order.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformFacebook,
		PlatformInstagram,
		PlatformLinkedIn,
		PlatformX,
		PlatformTikTok,
		PlatformPinterest,
	}
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformFacebook, PlatformInstagram, PlatformLinkedIn, PlatformX, PlatformTikTok, PlatformPinterest:
		return true
	}
	return false
}

func (p Platform) String() string { return string(p) }

// CaptionLimit is the maximum caption length, in characters, the platform accepts for a post body.
func (p Platform) CaptionLimit() int {
	switch p {
	case PlatformFacebook:
		return 63206
	case PlatformInstagram:
		return 2200
	case PlatformLinkedIn:
		return 3000
	case PlatformX:
		return 280
	case PlatformTikTok:
		return 2200
	case PlatformPinterest:
		return 500
	}
	return 0
}

// ParsePlatform maps user supplied names (including a few aliases) onto a Platform.
func ParsePlatform(name string) (Platform, error) {
	aliases := map[string]Platform{
		"facebook":  PlatformFacebook,
		"fb":        PlatformFacebook,
		"instagram": PlatformInstagram,
		"ig":        PlatformInstagram,
		"linkedin":  PlatformLinkedIn,
		"x":         PlatformX,
		"twitter":   PlatformX,
		"tiktok":    PlatformTikTok,
		"pinterest": PlatformPinterest,
	}

	if p, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown platform: %q", name)
}
