package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/proposalgate/proposalgate/internal/model"
)

// PoolConfig controls the connection pool of a SQL-backed store.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// DefaultPoolConfig returns sensible defaults for a database connection pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// SQLStore implements Store on SQLite, PostgreSQL or MySQL. Every state
// transition is a single conditional UPDATE guarded by state = 'active', so
// concurrent callers race inside the database and RowsAffected decides the
// winner.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
}

// NewSQLiteStore opens the embedded SQLite store. Pass an empty dataDir and
// dsn for an in-memory database.
func NewSQLiteStore(dataDir, dsn string) (*SQLStore, error) {
	if dsn == "" {
		if dataDir == "" {
			dsn = ":memory:?_journal_mode=WAL"
		} else {
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(dataDir, "proposalgate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	return newSQLStore(db, DriverSQLite)
}

// NewSQLStore opens a PostgreSQL or MySQL store.
func NewSQLStore(dialect, dsn string, pool PoolConfig) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s store requires a dsn", dialect)
	}
	driverName := dialect
	switch dialect {
	case DriverPostgres:
		driverName = "pgx"
	case DriverMySQL:
		// RowsAffected must count matched rows, not changed ones.
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ClientFoundRows = true
		dsn = cfg.FormatDSN()
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", dialect, err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	return newSQLStore(db, dialect)
}

func newSQLStore(db *sqlx.DB, dialect string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

// isDuplicate reports whether err is a primary-key or unique violation on
// any of the supported databases.
func isDuplicate(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry")
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

// Timestamps are stored as unix nanoseconds so range comparisons behave the
// same on every dialect.

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func parseStoredScope(s string) model.Scope {
	scope, err := model.ParseScope(s)
	if err != nil {
		// Unknown actions written by a newer version are dropped.
		var keep []model.Action
		for _, p := range strings.Split(s, ",") {
			if sc, err := model.ParseScope(p); err == nil {
				keep = append(keep, sc...)
			}
		}
		return model.NewScope(keep...)
	}
	return scope
}

type credentialRow struct {
	ID             string        `db:"id"`
	Prefix         string        `db:"prefix"`
	ResourceID     string        `db:"resource_id"`
	RecipientEmail string        `db:"recipient_email"`
	RecipientName  string        `db:"recipient_name"`
	RecipientOrg   string        `db:"recipient_org"`
	Scope          string        `db:"scope"`
	Policy         string        `db:"policy"`
	State          string        `db:"state"`
	IssuedAt       int64         `db:"issued_at"`
	ExpiresAt      int64         `db:"expires_at"`
	UseCount       int           `db:"use_count"`
	LastUsedAt     sql.NullInt64 `db:"last_used_at"`
	IssuedBy       string        `db:"issued_by"`
	RevokedBy      string        `db:"revoked_by"`
	RevokedAt      sql.NullInt64 `db:"revoked_at"`
}

func credentialRowFromModel(c *model.Credential) credentialRow {
	return credentialRow{
		ID:             c.ID,
		Prefix:         c.Prefix,
		ResourceID:     c.ResourceID,
		RecipientEmail: c.Recipient.Email,
		RecipientName:  c.Recipient.Name,
		RecipientOrg:   c.Recipient.Organization,
		Scope:          c.Scope.String(),
		Policy:         string(c.Policy),
		State:          string(c.State),
		IssuedAt:       toNanos(c.IssuedAt),
		ExpiresAt:      toNanos(c.ExpiresAt),
		UseCount:       c.UseCount,
		LastUsedAt:     nullNanos(c.LastUsedAt),
		IssuedBy:       c.IssuedBy,
		RevokedBy:      c.RevokedBy,
		RevokedAt:      nullNanos(c.RevokedAt),
	}
}

func (r credentialRow) toModel() model.Credential {
	return model.Credential{
		ID:         r.ID,
		Prefix:     r.Prefix,
		ResourceID: r.ResourceID,
		Recipient: model.Recipient{
			Email:        r.RecipientEmail,
			Name:         r.RecipientName,
			Organization: r.RecipientOrg,
		},
		Scope:      parseStoredScope(r.Scope),
		Policy:     model.Policy(r.Policy),
		State:      model.CredentialState(r.State),
		IssuedAt:   fromNanos(r.IssuedAt),
		ExpiresAt:  fromNanos(r.ExpiresAt),
		UseCount:   r.UseCount,
		LastUsedAt: fromNullNanos(r.LastUsedAt),
		IssuedBy:   r.IssuedBy,
		RevokedBy:  r.RevokedBy,
		RevokedAt:  fromNullNanos(r.RevokedAt),
	}
}

type sessionRow struct {
	ID                 string        `db:"id"`
	Prefix             string        `db:"prefix"`
	OriginCredentialID string        `db:"origin_credential_id"`
	ResourceID         string        `db:"resource_id"`
	RecipientEmail     string        `db:"recipient_email"`
	RecipientName      string        `db:"recipient_name"`
	RecipientOrg       string        `db:"recipient_org"`
	Scope              string        `db:"scope"`
	State              string        `db:"state"`
	CreatedAt          int64         `db:"created_at"`
	ExpiresAt          int64         `db:"expires_at"`
	LastAccessedAt     sql.NullInt64 `db:"last_accessed_at"`
	ExtensionCount     int           `db:"extension_count"`
	EndReason          string        `db:"end_reason"`
	EndedAt            sql.NullInt64 `db:"ended_at"`
}

func sessionRowFromModel(s *model.Session) sessionRow {
	return sessionRow{
		ID:                 s.ID,
		Prefix:             s.Prefix,
		OriginCredentialID: s.OriginCredentialID,
		ResourceID:         s.ResourceID,
		RecipientEmail:     s.Recipient.Email,
		RecipientName:      s.Recipient.Name,
		RecipientOrg:       s.Recipient.Organization,
		Scope:              s.Scope.String(),
		State:              string(s.State),
		CreatedAt:          toNanos(s.CreatedAt),
		ExpiresAt:          toNanos(s.ExpiresAt),
		LastAccessedAt:     nullNanos(s.LastAccessedAt),
		ExtensionCount:     s.ExtensionCount,
		EndReason:          s.EndReason,
		EndedAt:            nullNanos(s.EndedAt),
	}
}

func (r sessionRow) toModel() model.Session {
	return model.Session{
		ID:                 r.ID,
		Prefix:             r.Prefix,
		OriginCredentialID: r.OriginCredentialID,
		ResourceID:         r.ResourceID,
		Recipient: model.Recipient{
			Email:        r.RecipientEmail,
			Name:         r.RecipientName,
			Organization: r.RecipientOrg,
		},
		Scope:          parseStoredScope(r.Scope),
		State:          model.SessionState(r.State),
		CreatedAt:      fromNanos(r.CreatedAt),
		ExpiresAt:      fromNanos(r.ExpiresAt),
		LastAccessedAt: fromNullNanos(r.LastAccessedAt),
		ExtensionCount: r.ExtensionCount,
		EndReason:      r.EndReason,
		EndedAt:        fromNullNanos(r.EndedAt),
	}
}

const credentialColumns = `id, prefix, resource_id, recipient_email, recipient_name, recipient_org,
	scope, policy, state, issued_at, expires_at, use_count, last_used_at, issued_by, revoked_by, revoked_at`

const sessionColumns = `id, prefix, origin_credential_id, resource_id, recipient_email, recipient_name,
	recipient_org, scope, state, created_at, expires_at, last_accessed_at, extension_count, end_reason, ended_at`

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// PutCredential inserts a new credential. The id must be unused.
func (s *SQLStore) PutCredential(ctx context.Context, c *model.Credential) error {
	const q = `INSERT INTO credentials
		(id, prefix, resource_id, recipient_email, recipient_name, recipient_org, scope, policy, state,
		 issued_at, expires_at, use_count, last_used_at, issued_by, revoked_by, revoked_at)
		VALUES
		(:id, :prefix, :resource_id, :recipient_email, :recipient_name, :recipient_org, :scope, :policy, :state,
		 :issued_at, :expires_at, :use_count, :last_used_at, :issued_by, :revoked_by, :revoked_at)`

	if _, err := s.db.NamedExecContext(ctx, q, credentialRowFromModel(c)); err != nil {
		if isDuplicate(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential returns a credential by id.
func (s *SQLStore) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT "+credentialColumns+" FROM credentials WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	c := row.toModel()
	return &c, nil
}

// explainCredential re-reads a credential after a conditional update matched
// no rows and returns the reason.
func (s *SQLStore) explainCredential(ctx context.Context, id string, at time.Time) error {
	c, err := s.GetCredential(ctx, id)
	if err != nil {
		return err
	}
	if err := usable(c, at); err != nil {
		return err
	}
	// The row changed between the update and the read; report it as used.
	return ErrAlreadyConsumed
}

func (s *SQLStore) useCredential(ctx context.Context, query, op, id string, at time.Time) (*model.Credential, error) {
	now := toNanos(at)
	result, err := s.db.ExecContext(ctx, s.q(query), now, id, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return nil, s.explainCredential(ctx, id, at)
	}
	return s.GetCredential(ctx, id)
}

// MarkConsumed atomically consumes an active, unexpired credential.
func (s *SQLStore) MarkConsumed(ctx context.Context, id string, at time.Time) (*model.Credential, error) {
	const q = `UPDATE credentials SET state = 'consumed', use_count = use_count + 1, last_used_at = ?
		WHERE id = ? AND state = 'active' AND expires_at >= ?`
	return s.useCredential(ctx, q, "consume credential", id, at)
}

// RecordUse counts a use of an active, unexpired multi-use credential.
func (s *SQLStore) RecordUse(ctx context.Context, id string, at time.Time) (*model.Credential, error) {
	const q = `UPDATE credentials SET use_count = use_count + 1, last_used_at = ?
		WHERE id = ? AND state = 'active' AND expires_at >= ?`
	return s.useCredential(ctx, q, "record credential use", id, at)
}

// MarkExpired moves an active credential to expired.
func (s *SQLStore) MarkExpired(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE credentials SET state = 'expired' WHERE id = ? AND state = 'active'"), id)
	if err != nil {
		return fmt.Errorf("expire credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("expire credential rows affected: %w", err)
	}
	if n == 0 {
		_, err := s.GetCredential(ctx, id)
		return err
	}
	return nil
}

// RevokeCredential moves an active credential to revoked. Terminal
// credentials are left untouched.
func (s *SQLStore) RevokeCredential(ctx context.Context, id, by string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE credentials SET state = 'revoked', revoked_by = ?, revoked_at = ? WHERE id = ? AND state = 'active'"),
		by, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke credential rows affected: %w", err)
	}
	if n == 0 {
		_, err := s.GetCredential(ctx, id)
		return err
	}
	return nil
}

// ListCredentials returns credentials matching f, newest first.
func (s *SQLStore) ListCredentials(ctx context.Context, f CredentialFilter) ([]model.Credential, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Recipient != "" {
		where = append(where, "LOWER(recipient_email) = ?")
		args = append(args, strings.ToLower(f.Recipient))
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}

	q := "SELECT " + credentialColumns + " FROM credentials"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY issued_at DESC, id LIMIT %d", limitOf(f.Limit))

	var rows []credentialRow
	if err := s.db.SelectContext(ctx, &rows, s.q(q), args...); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	out := make([]model.Credential, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// PutSession inserts a new session.
func (s *SQLStore) PutSession(ctx context.Context, sess *model.Session) error {
	const q = `INSERT INTO sessions
		(id, prefix, origin_credential_id, resource_id, recipient_email, recipient_name, recipient_org,
		 scope, state, created_at, expires_at, last_accessed_at, extension_count, end_reason, ended_at)
		VALUES
		(:id, :prefix, :origin_credential_id, :resource_id, :recipient_email, :recipient_name, :recipient_org,
		 :scope, :state, :created_at, :expires_at, :last_accessed_at, :extension_count, :end_reason, :ended_at)`

	if _, err := s.db.NamedExecContext(ctx, q, sessionRowFromModel(sess)); err != nil {
		if isDuplicate(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by id.
func (s *SQLStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT "+sessionColumns+" FROM sessions WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess := row.toModel()
	return &sess, nil
}

// TouchSession records an access on an active, unexpired session.
func (s *SQLStore) TouchSession(ctx context.Context, id string, at time.Time) (*model.Session, error) {
	now := toNanos(at)
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE sessions SET last_accessed_at = ? WHERE id = ? AND state = 'active' AND expires_at > ?"),
		now, id, now)
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("touch session rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrSessionEnded
	}
	return s.GetSession(ctx, id)
}

// ExtendSession pushes the expiry of an active session forward by increment.
func (s *SQLStore) ExtendSession(ctx context.Context, id string, increment time.Duration, maxExtensions int, at time.Time) (*model.Session, error) {
	const q = `UPDATE sessions SET expires_at = expires_at + ?, extension_count = extension_count + 1,
		last_accessed_at = ?
		WHERE id = ? AND state = 'active' AND extension_count < ? AND expires_at > ?`

	now := toNanos(at)
	result, err := s.db.ExecContext(ctx, s.q(q), increment.Nanoseconds(), now, id, maxExtensions, now)
	if err != nil {
		return nil, fmt.Errorf("extend session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("extend session rows affected: %w", err)
	}
	if n == 0 {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.State != model.SessionActive || sess.ExpiredAt(at) {
			return nil, ErrSessionEnded
		}
		return nil, ErrMaxExtensionsReached
	}
	return s.GetSession(ctx, id)
}

// EndSession ends an active session. Ended sessions are left untouched.
func (s *SQLStore) EndSession(ctx context.Context, id, reason string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE sessions SET state = 'ended', end_reason = ?, ended_at = ? WHERE id = ? AND state = 'active'"),
		reason, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session rows affected: %w", err)
	}
	if n == 0 {
		_, err := s.GetSession(ctx, id)
		return err
	}
	return nil
}

// ListSessions returns sessions matching f, newest first.
func (s *SQLStore) ListSessions(ctx context.Context, f SessionFilter) ([]model.Session, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Recipient != "" {
		where = append(where, "LOWER(recipient_email) = ?")
		args = append(args, strings.ToLower(f.Recipient))
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}

	q := "SELECT " + sessionColumns + " FROM sessions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT %d", limitOf(f.Limit))

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, s.q(q), args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.Session, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// SweepExpired deletes credentials and sessions whose expiry is before cutoff.
func (s *SQLStore) SweepExpired(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	var res SweepResult
	c := toNanos(cutoff)

	result, err := s.db.ExecContext(ctx, s.q("DELETE FROM credentials WHERE expires_at < ?"), c)
	if err != nil {
		return res, fmt.Errorf("sweep credentials: %w", err)
	}
	if res.Credentials, err = result.RowsAffected(); err != nil {
		return res, fmt.Errorf("sweep credentials rows affected: %w", err)
	}

	result, err = s.db.ExecContext(ctx, s.q("DELETE FROM sessions WHERE expires_at < ?"), c)
	if err != nil {
		return res, fmt.Errorf("sweep sessions: %w", err)
	}
	if res.Sessions, err = result.RowsAffected(); err != nil {
		return res, fmt.Errorf("sweep sessions rows affected: %w", err)
	}
	return res, nil
}
