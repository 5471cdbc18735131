package model

import (
	"strings"
	"time"
)

type CalendarPermission struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendar_id"`
	UserID     string    `json:"user_id"`
	CanView    bool      `json:"can_view"`
	CanEdit    bool      `json:"can_edit"`
	CanShare   bool      `json:"can_share"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Capability is a set of requested or granted permission flags.
type Capability struct {
	View  bool `json:"can_view"`
	Edit  bool `json:"can_edit"`
	Share bool `json:"can_share"`
}

var (
	CapView  = Capability{View: true}
	CapEdit  = Capability{Edit: true}
	CapShare = Capability{Share: true}
	CapFull  = Capability{View: true, Edit: true, Share: true}
)

func (c Capability) String() string {
	var parts []string
	if c.View {
		parts = append(parts, "view")
	}
	if c.Edit {
		parts = append(parts, "edit")
	}
	if c.Share {
		parts = append(parts, "share")
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, "+")
}

func (p CalendarPermission) Capability() Capability {
	return Capability{View: p.CanView, Edit: p.CanEdit, Share: p.CanShare}
}

// Allows reports whether every flag set in c is granted by p.
func (p CalendarPermission) Allows(c Capability) bool {
	if c.View && !p.CanView {
		return false
	}
	if c.Edit && !p.CanEdit {
		return false
	}
	if c.Share && !p.CanShare {
		return false
	}
	return true
}
