package store

import (
	"fmt"
	"strings"
)

func sqliteMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			prefix TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			recipient_email TEXT NOT NULL,
			recipient_name TEXT NOT NULL DEFAULT '',
			recipient_org TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT 'view',
			policy TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'active',
			issued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			use_count INTEGER NOT NULL DEFAULT 0,
			last_used_at INTEGER,
			issued_by TEXT NOT NULL DEFAULT '',
			revoked_by TEXT NOT NULL DEFAULT '',
			revoked_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_resource ON credentials(resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_recipient ON credentials(recipient_email)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_state_expiry ON credentials(state, expires_at)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			prefix TEXT NOT NULL,
			origin_credential_id TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			recipient_email TEXT NOT NULL,
			recipient_name TEXT NOT NULL DEFAULT '',
			recipient_org TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT 'view',
			state TEXT NOT NULL DEFAULT 'active',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			last_accessed_at INTEGER,
			extension_count INTEGER NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL DEFAULT '',
			ended_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_resource ON sessions(resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_state_expiry ON sessions(state, expires_at)`,
	}
}

func postgresMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id VARCHAR(64) PRIMARY KEY,
			prefix VARCHAR(32) NOT NULL,
			resource_id VARCHAR(255) NOT NULL,
			recipient_email VARCHAR(320) NOT NULL,
			recipient_name VARCHAR(255) NOT NULL DEFAULT '',
			recipient_org VARCHAR(255) NOT NULL DEFAULT '',
			scope VARCHAR(255) NOT NULL DEFAULT 'view',
			policy VARCHAR(16) NOT NULL,
			state VARCHAR(16) NOT NULL DEFAULT 'active',
			issued_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			use_count INTEGER NOT NULL DEFAULT 0,
			last_used_at BIGINT,
			issued_by VARCHAR(320) NOT NULL DEFAULT '',
			revoked_by VARCHAR(320) NOT NULL DEFAULT '',
			revoked_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_resource ON credentials(resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_recipient ON credentials(recipient_email)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_state_expiry ON credentials(state, expires_at)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			prefix VARCHAR(32) NOT NULL,
			origin_credential_id VARCHAR(64) NOT NULL,
			resource_id VARCHAR(255) NOT NULL,
			recipient_email VARCHAR(320) NOT NULL,
			recipient_name VARCHAR(255) NOT NULL DEFAULT '',
			recipient_org VARCHAR(255) NOT NULL DEFAULT '',
			scope VARCHAR(255) NOT NULL DEFAULT 'view',
			state VARCHAR(16) NOT NULL DEFAULT 'active',
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			last_accessed_at BIGINT,
			extension_count INTEGER NOT NULL DEFAULT 0,
			end_reason VARCHAR(32) NOT NULL DEFAULT '',
			ended_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_resource ON sessions(resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_state_expiry ON sessions(state, expires_at)`,
	}
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
func mysqlMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id VARCHAR(64) PRIMARY KEY,
			prefix VARCHAR(32) NOT NULL,
			resource_id VARCHAR(255) NOT NULL,
			recipient_email VARCHAR(320) NOT NULL,
			recipient_name VARCHAR(255) NOT NULL DEFAULT '',
			recipient_org VARCHAR(255) NOT NULL DEFAULT '',
			scope VARCHAR(255) NOT NULL DEFAULT 'view',
			policy VARCHAR(16) NOT NULL,
			state VARCHAR(16) NOT NULL DEFAULT 'active',
			issued_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			use_count INT NOT NULL DEFAULT 0,
			last_used_at BIGINT NULL,
			issued_by VARCHAR(320) NOT NULL DEFAULT '',
			revoked_by VARCHAR(320) NOT NULL DEFAULT '',
			revoked_at BIGINT NULL,
			INDEX idx_credentials_resource (resource_id),
			INDEX idx_credentials_recipient (recipient_email),
			INDEX idx_credentials_state_expiry (state, expires_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			prefix VARCHAR(32) NOT NULL,
			origin_credential_id VARCHAR(64) NOT NULL,
			resource_id VARCHAR(255) NOT NULL,
			recipient_email VARCHAR(320) NOT NULL,
			recipient_name VARCHAR(255) NOT NULL DEFAULT '',
			recipient_org VARCHAR(255) NOT NULL DEFAULT '',
			scope VARCHAR(255) NOT NULL DEFAULT 'view',
			state VARCHAR(16) NOT NULL DEFAULT 'active',
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			last_accessed_at BIGINT NULL,
			extension_count INT NOT NULL DEFAULT 0,
			end_reason VARCHAR(32) NOT NULL DEFAULT '',
			ended_at BIGINT NULL,
			INDEX idx_sessions_resource (resource_id),
			INDEX idx_sessions_state_expiry (state, expires_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
}

func (s *SQLStore) migrate() error {
	var migrations []string
	switch s.dialect {
	case DriverPostgres:
		migrations = postgresMigrations()
	case DriverMySQL:
		migrations = mysqlMigrations()
	default:
		migrations = sqliteMigrations()
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
