// Package store persists credentials and sessions. Every implementation
// makes its mutating operations atomic with respect to concurrent callers;
// in particular MarkConsumed lets exactly one caller win for a given id.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/proposalgate/proposalgate/internal/model"
)

// Store is the registry of Credential and Session records. Records are keyed
// by the SHA-256 hash of their reference or session token.
type Store interface {
	PutCredential(ctx context.Context, c *model.Credential) error
	GetCredential(ctx context.Context, id string) (*model.Credential, error)
	// MarkConsumed atomically moves an active, unexpired credential to
	// consumed and records the use. When the compare-and-swap fails the
	// error names the reason: ErrNotFound, ErrAlreadyConsumed, ErrRevoked
	// or ErrExpired.
	MarkConsumed(ctx context.Context, id string, at time.Time) (*model.Credential, error)
	// RecordUse increments the use count of an active, unexpired credential
	// without changing its state.
	RecordUse(ctx context.Context, id string, at time.Time) (*model.Credential, error)
	// MarkExpired moves an active credential to expired. It is a no-op for
	// credentials already in a terminal state.
	MarkExpired(ctx context.Context, id string) error
	// RevokeCredential moves an active credential to revoked. Revoking a
	// credential that is already terminal is a no-op.
	RevokeCredential(ctx context.Context, id, by string, at time.Time) error
	ListCredentials(ctx context.Context, f CredentialFilter) ([]model.Credential, error)

	PutSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// TouchSession records an access on an active, unexpired session.
	TouchSession(ctx context.Context, id string, at time.Time) (*model.Session, error)
	// ExtendSession pushes expires_at forward by increment when the session
	// is active, unexpired and below maxExtensions.
	ExtendSession(ctx context.Context, id string, increment time.Duration, maxExtensions int, at time.Time) (*model.Session, error)
	// EndSession ends an active session. Ending an ended session is a no-op.
	EndSession(ctx context.Context, id, reason string, at time.Time) error
	ListSessions(ctx context.Context, f SessionFilter) ([]model.Session, error)

	// SweepExpired removes credentials and sessions whose expires_at is
	// strictly before cutoff.
	SweepExpired(ctx context.Context, cutoff time.Time) (SweepResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// CredentialFilter narrows ListCredentials. Zero values match everything.
type CredentialFilter struct {
	ResourceID string
	Recipient  string
	State      model.CredentialState
	Limit      int
}

func (f CredentialFilter) match(c *model.Credential) bool {
	if f.ResourceID != "" && c.ResourceID != f.ResourceID {
		return false
	}
	if f.Recipient != "" && !strings.EqualFold(c.Recipient.Email, f.Recipient) {
		return false
	}
	if f.State != "" && c.State != f.State {
		return false
	}
	return true
}

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	ResourceID string
	Recipient  string
	State      model.SessionState
	Limit      int
}

func (f SessionFilter) match(s *model.Session) bool {
	if f.ResourceID != "" && s.ResourceID != f.ResourceID {
		return false
	}
	if f.Recipient != "" && !strings.EqualFold(s.Recipient.Email, f.Recipient) {
		return false
	}
	if f.State != "" && s.State != f.State {
		return false
	}
	return true
}

// SweepResult reports how many records a sweep removed.
type SweepResult struct {
	Credentials int64 `json:"credentials"`
	Sessions    int64 `json:"sessions"`
}

// Total returns the number of records removed.
func (r SweepResult) Total() int64 {
	return r.Credentials + r.Sessions
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
)

// Options configures Open.
type Options struct {
	Driver string
	// DSN is the connection string for postgres and mysql. For sqlite it
	// overrides DataDir when set.
	DSN string
	// DataDir holds the sqlite database file. Empty means in-memory.
	DataDir string
	Pool    PoolConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// RedisPrefix namespaces keys, default "proposalgate".
	RedisPrefix string
}

// Open constructs the Store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, "":
		return NewSQLiteStore(opts.DataDir, opts.DSN)
	case DriverPostgres, "pgx":
		return NewSQLStore(DriverPostgres, opts.DSN, opts.Pool)
	case DriverMySQL:
		return NewSQLStore(DriverMySQL, opts.DSN, opts.Pool)
	case DriverRedis:
		return NewRedisStore(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
}

func limitOf(n int) int {
	if n <= 0 || n > 1000 {
		return 1000
	}
	return n
}
