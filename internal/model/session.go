package model

import "time"

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	SessionActive SessionState = "active"
	SessionEnded  SessionState = "ended"
)

// Session end reasons recorded on termination.
const (
	EndReasonLogout  = "logout"
	EndReasonAdmin   = "admin"
	EndReasonExpired = "expired"
	EndReasonOrigin  = "origin_revoked"
)

// Session is a renewable browsing grant derived from a validated Credential.
// Resource, recipient and scope are copied from the credential at promotion
// time and are not re-derived afterwards.
type Session struct {
	ID                 string       `json:"id"`
	Token              string       `json:"-"` // raw session token, only returned at promotion
	Prefix             string       `json:"token_prefix"`
	OriginCredentialID string       `json:"origin_credential_id"`
	ResourceID         string       `json:"resource_id"`
	Recipient          Recipient    `json:"recipient"`
	Scope              Scope        `json:"scope"`
	State              SessionState `json:"state"`
	CreatedAt          time.Time    `json:"created_at"`
	ExpiresAt          time.Time    `json:"expires_at"`
	LastAccessedAt     *time.Time   `json:"last_accessed_at,omitempty"`
	ExtensionCount     int          `json:"extension_count"`
	EndReason          string       `json:"end_reason,omitempty"`
	EndedAt            *time.Time   `json:"ended_at,omitempty"`
}

// ExpiredAt reports whether the session's lifetime has run out at t.
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Remaining returns the time left before the session expires, floored at zero.
func (s *Session) Remaining(t time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(t); d > 0 {
		return d
	}
	return 0
}
