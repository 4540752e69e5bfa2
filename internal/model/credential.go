package model

import "time"

// CredentialState is the lifecycle state of a Credential. Transitions are
// one-directional: active moves to exactly one of the terminal states.
type CredentialState string

const (
	CredentialActive   CredentialState = "active"
	CredentialConsumed CredentialState = "consumed"
	CredentialExpired  CredentialState = "expired"
	CredentialRevoked  CredentialState = "revoked"
)

// Terminal reports whether no further transition is possible from s.
func (s CredentialState) Terminal() bool {
	return s != CredentialActive
}

// Policy controls what a successful validation does to a credential.
type Policy string

const (
	// PolicySingleUse consumes the credential on its first successful use.
	PolicySingleUse Policy = "single_use"
	// PolicyMultiUse leaves the credential active until it expires.
	PolicyMultiUse Policy = "multi_use"
)

// Recipient identifies the party a credential or session is scoped to. Name
// and Organization are denormalized from the recipient directory at issuance.
type Recipient struct {
	Email        string `json:"email" db:"recipient_email"`
	Name         string `json:"name" db:"recipient_name"`
	Organization string `json:"organization,omitempty" db:"recipient_org"`
}

// Credential is a single grant of temporary access to one resource for one
// recipient. The raw reference is only known at issuance time; the store
// persists its SHA-256 hash (ID) and a short prefix for identification.
type Credential struct {
	ID         string          `json:"id"`
	Reference  string          `json:"-"` // raw reference, never persisted or listed
	Prefix     string          `json:"reference_prefix"`
	ResourceID string          `json:"resource_id"`
	Recipient  Recipient       `json:"recipient"`
	Scope      Scope           `json:"scope"`
	Policy     Policy          `json:"policy"`
	State      CredentialState `json:"state"`
	IssuedAt   time.Time       `json:"issued_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	UseCount   int             `json:"use_count"`
	LastUsedAt *time.Time      `json:"last_used_at,omitempty"`
	IssuedBy   string          `json:"issued_by,omitempty"`
	RevokedBy  string          `json:"revoked_by,omitempty"`
	RevokedAt  *time.Time      `json:"revoked_at,omitempty"`
}

// ExpiredAt reports whether the credential's validity window has closed at t.
// A credential is still usable at the instant ExpiresAt itself.
func (c *Credential) ExpiredAt(t time.Time) bool {
	return t.After(c.ExpiresAt)
}

// Redacted returns a copy safe for listings: the raw reference is dropped.
func (c Credential) Redacted() Credential {
	c.Reference = ""
	return c
}
