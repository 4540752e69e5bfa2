// Package codec creates and parses the external form of access credentials:
// opaque references that are resolved through a store, and self-contained
// signed tokens that carry their own claims.
package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// secretBytes is the size of the random component of references and
	// session tokens (256 bits).
	secretBytes = 32

	// prefixLen is how much of a reference is kept for redacted listings.
	// It covers the ULID timestamp/entropy part only, never the secret.
	prefixLen = 16

	sessionTokenPrefix = "ps_"
)

// Strategy selects how credentials are represented and validated. A
// deployment uses exactly one strategy.
type Strategy string

const (
	// StrategyOpaque issues random references resolved through the store.
	// Supports revocation, single-use and usage accounting.
	StrategyOpaque Strategy = "opaque"
	// StrategySigned issues HS256 tokens validated without a store lookup.
	StrategySigned Strategy = "signed"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyOpaque, "":
		return StrategyOpaque, nil
	case StrategySigned:
		return StrategySigned, nil
	default:
		return "", fmt.Errorf("unknown credential strategy %q (want opaque or signed)", s)
	}
}

// GenerateReference returns a new opaque reference for recipient of the form
// <ULID>_<recipient hash>_<random>. The ULID carries the issue time and keeps
// listings sortable, the 8-char recipient hash lets operators correlate
// references with recipients, and the 256-bit random tail is the secret.
func GenerateReference(recipient string, now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate reference id: %w", err)
	}
	secret, err := randomString()
	if err != nil {
		return "", fmt.Errorf("generate reference secret: %w", err)
	}
	return id.String() + "_" + recipientHash(recipient) + "_" + secret, nil
}

// GenerateSessionToken returns a new random session token. Session tokens
// live in a separate namespace from credential references.
func GenerateSessionToken() (string, error) {
	secret, err := randomString()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return sessionTokenPrefix + secret, nil
}

// HashReference returns the hex-encoded SHA-256 of a reference or session
// token. Stores key records by this value and never see the raw string.
func HashReference(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:])
}

// Prefix returns the identifying prefix of a reference used in listings.
func Prefix(ref string) string {
	if len(ref) <= prefixLen {
		return ref
	}
	return ref[:prefixLen]
}

// Redact returns a display form of ref that does not reveal its secret.
func Redact(ref string) string {
	if ref == "" {
		return ""
	}
	return Prefix(ref) + "..."
}

// LooksSigned reports whether s has the three-segment shape of a signed
// token rather than an opaque reference.
func LooksSigned(s string) bool {
	return strings.Count(s, ".") == 2
}

func recipientHash(recipient string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(recipient))))
	return hex.EncodeToString(h[:])[:8]
}

func randomString() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
