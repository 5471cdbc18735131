package model

import "time"

type CalendarType string

const (
	CalendarLocal        CalendarType = "local"
	CalendarProviderPush CalendarType = "provider_push"
	CalendarProviderPull CalendarType = "provider_pull"
)

func (t CalendarType) Valid() bool {
	switch t {
	case CalendarLocal, CalendarProviderPush, CalendarProviderPull:
		return true
	}
	return false
}

// Remote reports whether events of this calendar type are sourced from
// outside the local store.
func (t CalendarType) Remote() bool {
	return t == CalendarProviderPush || t == CalendarProviderPull
}

type Calendar struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Color       string         `json:"color"`
	Type        CalendarType   `json:"type"`
	FamilyID    string         `json:"family_id,omitempty"`
	OwnerID     string         `json:"owner_id,omitempty"`
	IsDefault   bool           `json:"is_default"`
	Timezone    string         `json:"timezone"`
	External    ExternalConfig `json:"external"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Location resolves the calendar's timezone, falling back to UTC.
func (c Calendar) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ExternalConfig holds provider-specific settings. Token fields are always
// ciphertext and never serialized.
type ExternalConfig struct {
	RemoteCalendarID string      `json:"remote_calendar_id,omitempty"`
	FeedURL          string      `json:"feed_url,omitempty"`
	Token            SealedToken `json:"-"`
	SyncCursor       string      `json:"-"`
	ETag             string      `json:"-"`
	LastSyncedAt     *time.Time  `json:"last_synced_at,omitempty"`
}

// SealedToken is an OAuth token pair encrypted by the credential vault.
type SealedToken struct {
	AccessToken  string
	RefreshToken string
	Expiry       *time.Time
}

func (t SealedToken) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}
