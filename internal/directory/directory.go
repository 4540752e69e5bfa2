// Package directory provides the resource lookup and recipient directory
// used by issuance and validation: a read-only view of the portal database,
// or a static YAML file for small deployments and development.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/proposalgate/proposalgate/internal/model"
)

// Drivers accepted by Options.Driver.
const (
	DriverNone     = "none"
	DriverStatic   = "static"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Options selects and configures a directory.
type Options struct {
	Driver string
	DSN    string
	// File is the YAML file for the static driver.
	File string
	// ResourceTable and ContactTable override the default table names.
	ResourceTable string
	ContactTable  string
}

// Source answers resource and recipient queries. Lookups of unknown ids or
// emails return (nil, nil).
type Source interface {
	FindResource(ctx context.Context, id string) (*model.Resource, error)
	IsEligible(ctx context.Context, email string) (bool, error)
	FindContact(ctx context.Context, email string) (*model.Contact, error)
	Close() error
}

// Open returns the directory selected by opts. DriverNone yields a nil
// Source.
func Open(opts Options) (Source, error) {
	switch strings.ToLower(opts.Driver) {
	case DriverNone, "":
		return nil, nil
	case DriverStatic:
		d, err := LoadStatic(opts.File)
		if err != nil {
			return nil, err
		}
		return d, nil
	case DriverSQLite, DriverPostgres, DriverMySQL:
		d, err := NewSQLDirectory(opts)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported directory driver %q", opts.Driver)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
