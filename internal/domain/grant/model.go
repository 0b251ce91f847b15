package grant

import (
	"errors"
	"time"
)

// Validation failure taxonomy. Guest-facing callers are allowed to see which
// check failed, unlike the rest of the API which fails closed.
var (
	ErrNotFound  = errors.New("grant not found")
	ErrExpired   = errors.New("grant expired")
	ErrForbidden = errors.New("action not permitted by grant")
)

// Actions a guest can request against a grant.
const (
	ActionView     = "view"
	ActionDownload = "download_document"
	ActionChat     = "chat"
)

// AllowedDurations are the only share durations a patient may pick, in minutes.
var AllowedDurations = []int{5, 15, 30, 60, 180}

func validDuration(minutes int) bool {
	for _, d := range AllowedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

// Permissions are the optional capabilities attached to a grant. View is
// always allowed and has no flag.
type Permissions struct {
	AllowDownload bool `json:"allow_download"`
	AllowChat     bool `json:"allow_chat"`
	AllowNotebook bool `json:"allow_notebook"`
}

// AccessGrant is one time-boxed share token. Expired and revoked rows are kept
// for audit; they are never usable again.
type AccessGrant struct {
	Token         string    `db:"token" json:"token"`
	PatientID     string    `db:"patient_id" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time `db:"expires_at" json:"expires_at"`
	AllowDownload bool      `db:"allow_download" json:"-"`
	AllowChat     bool      `db:"allow_chat" json:"-"`
	AllowNotebook bool      `db:"allow_notebook" json:"-"`
	AccessCount   int       `db:"access_count" json:"access_count"`
	Revoked       bool      `db:"revoked" json:"-"`
}

// Usable reports whether the grant can still be consumed at t.
func (g *AccessGrant) Usable(t time.Time) bool {
	return !g.Revoked && t.Before(g.ExpiresAt)
}

// Permits reports whether the grant's permission set covers action. View is
// unconditionally permitted.
func (g *AccessGrant) Permits(action string) bool {
	switch action {
	case ActionView:
		return true
	case ActionDownload:
		return g.AllowDownload
	case ActionChat:
		return g.AllowChat
	default:
		return false
	}
}

func (g *AccessGrant) Permissions() Permissions {
	return Permissions{
		AllowDownload: g.AllowDownload,
		AllowChat:     g.AllowChat,
		AllowNotebook: g.AllowNotebook,
	}
}

// Share is the payload returned to the owning patient after create/list.
type Share struct {
	Token       string      `json:"token"`
	ShareURL    string      `json:"share_url"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Permissions Permissions `json:"permissions"`
	AccessCount int         `json:"access_count"`
}
