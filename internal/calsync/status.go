package calsync

import "time"

// State is the synchronization state of one calendar.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateFailed  State = "failed"
)

type Status struct {
	CalendarID   string     `json:"calendar_id"`
	State        State      `json:"state"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	InProgress   bool       `json:"in_progress"`
}

// StatusCallback is called whenever a calendar's sync state changes.
type StatusCallback func(Status)

// Result summarizes one sync pass.
type Result struct {
	CalendarID  string `json:"calendar_id"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Deleted     int    `json:"deleted"`
	Unchanged   int    `json:"unchanged"`
	Skipped     int    `json:"skipped"`
	Full        bool   `json:"full"`
	NotModified bool   `json:"not_modified"`
	Cursor      string `json:"-"`
}
