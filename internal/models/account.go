package models

import (
	"time"

	"gorm.io/gorm"
)

// SocialAccount is a connected platform account. Tokens are maintained by the OAuth service, this
// service only reads them.
type SocialAccount struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	Platform       Platform       `gorm:"size:20;not null;index" json:"platform"`
	ExternalID     string         `gorm:"size:255;not null" json:"external_id"`
	DisplayName    string         `gorm:"size:255" json:"display_name"`
	AccessToken    string         `gorm:"type:text" json:"-"`
	TokenExpiresAt *time.Time     `json:"token_expires_at"`
	PageID         string         `gorm:"size:255" json:"page_id"`
	BoardID        string         `gorm:"size:255" json:"board_id"`
	Metadata       StringMap      `gorm:"type:jsonb" json:"metadata"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// Meta returns a metadata value or an empty string.
func (a *SocialAccount) Meta(key string) string {
	if a == nil || a.Metadata == nil {
		return ""
	}
	return a.Metadata[key]
}
