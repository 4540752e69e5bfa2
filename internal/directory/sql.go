package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/proposalgate/proposalgate/internal/model"
)

const (
	defaultResourceTable = "proposals"
	defaultContactTable  = "pre_approved_users"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedWords may not be used as configured table names.
var reservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"UNION": true, "FROM": true, "WHERE": true, "TABLE": true,
	"GRANT": true, "REVOKE": true, "SCHEMA": true,
}

// validateTable checks a configured table name, optionally schema-qualified
// ("portal.proposals"). Table names are interpolated into queries, so only
// plain identifiers are accepted.
func validateTable(name string) error {
	if len(name) > 128 {
		return fmt.Errorf("table name too long (max 128 chars): %q", name)
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("invalid table name %q", name)
	}
	for _, p := range parts {
		if !identRe.MatchString(p) {
			return fmt.Errorf("invalid table name %q", name)
		}
		if reservedWords[strings.ToUpper(p)] {
			return fmt.Errorf("table name %q is a SQL reserved word", name)
		}
	}
	return nil
}

// SQLDirectory reads proposals and approved contacts from the portal
// database. It never writes.
type SQLDirectory struct {
	db            *sqlx.DB
	resourceTable string
	contactTable  string
}

// NewSQLDirectory connects to the portal database described by opts.
func NewSQLDirectory(opts Options) (*SQLDirectory, error) {
	if opts.DSN == "" {
		return nil, errors.New("directory dsn is required")
	}
	driverName := strings.ToLower(opts.Driver)
	if driverName == DriverPostgres {
		driverName = "pgx"
	}
	db, err := sqlx.Connect(driverName, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open directory database: %w", err)
	}
	d, err := NewSQLDirectoryFromDB(db, opts.ResourceTable, opts.ContactTable)
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewSQLDirectoryFromDB wraps an existing connection. Empty table names take
// the defaults.
func NewSQLDirectoryFromDB(db *sqlx.DB, resourceTable, contactTable string) (*SQLDirectory, error) {
	if resourceTable == "" {
		resourceTable = defaultResourceTable
	}
	if contactTable == "" {
		contactTable = defaultContactTable
	}
	for _, t := range []string{resourceTable, contactTable} {
		if err := validateTable(t); err != nil {
			return nil, err
		}
	}
	return &SQLDirectory{db: db, resourceTable: resourceTable, contactTable: contactTable}, nil
}

// Close closes the underlying database connection.
func (d *SQLDirectory) Close() error {
	return d.db.Close()
}

type resourceRow struct {
	ID         string          `db:"id"`
	JobNumber  sql.NullString  `db:"job_number"`
	ClientName sql.NullString  `db:"client_name"`
	Venue      sql.NullString  `db:"venue"`
	TotalCost  sql.NullFloat64 `db:"total_cost"`
}

// FindResource looks a proposal up by UUID when id parses as one, otherwise
// by job number.
func (d *SQLDirectory) FindResource(ctx context.Context, id string) (*model.Resource, error) {
	id = strings.TrimSpace(id)
	column := "job_number"
	if _, err := uuid.Parse(id); err == nil {
		column = "id"
	}

	q := d.db.Rebind(fmt.Sprintf(
		"SELECT id, job_number, client_name, venue, total_cost FROM %s WHERE %s = ?",
		d.resourceTable, column))

	var row resourceRow
	if err := d.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find resource: %w", err)
	}
	return &model.Resource{
		ID:          row.ID,
		JobNumber:   row.JobNumber.String,
		DisplayName: row.ClientName.String,
		Venue:       row.Venue.String,
		TotalValue:  row.TotalCost.Float64,
	}, nil
}

type contactRow struct {
	Email    string         `db:"email"`
	FullName sql.NullString `db:"full_name"`
	Company  sql.NullString `db:"company"`
	IsActive bool           `db:"is_active"`
}

// FindContact returns the approved-contact entry for email, active or not.
func (d *SQLDirectory) FindContact(ctx context.Context, email string) (*model.Contact, error) {
	q := d.db.Rebind(fmt.Sprintf(
		"SELECT email, full_name, company, is_active FROM %s WHERE LOWER(email) = ?", d.contactTable))

	var row contactRow
	if err := d.db.GetContext(ctx, &row, q, normalizeEmail(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find contact: %w", err)
	}
	return &model.Contact{
		Email:        row.Email,
		FullName:     row.FullName.String,
		Organization: row.Company.String,
		IsActive:     row.IsActive,
	}, nil
}

// IsEligible reports whether email is an active approved contact.
func (d *SQLDirectory) IsEligible(ctx context.Context, email string) (bool, error) {
	c, err := d.FindContact(ctx, email)
	if err != nil {
		return false, err
	}
	return c != nil && c.IsActive, nil
}
