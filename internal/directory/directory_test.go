package directory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const portalSchema = `
CREATE TABLE proposals (
	id TEXT PRIMARY KEY,
	job_number TEXT,
	client_name TEXT,
	venue TEXT,
	total_cost REAL
);
CREATE TABLE pre_approved_users (
	email TEXT PRIMARY KEY,
	full_name TEXT,
	company TEXT,
	is_active BOOLEAN NOT NULL DEFAULT 1
);
INSERT INTO proposals VALUES ('6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f', 'J-2042', 'Harbour Gala', 'Pier 4', 18250.5);
INSERT INTO proposals VALUES ('9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d', NULL, NULL, NULL, NULL);
INSERT INTO pre_approved_users VALUES ('casey@example.com', 'Casey Client', 'Acme Events', 1);
INSERT INTO pre_approved_users VALUES ('former@example.com', 'Former Client', NULL, 0);
`

func newSQLiteDirectory(t *testing.T) *SQLDirectory {
	t.Helper()
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(portalSchema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	d, err := NewSQLDirectoryFromDB(db, "", "")
	if err != nil {
		t.Fatalf("NewSQLDirectoryFromDB: %v", err)
	}
	return d
}

func TestSQLDirectoryFindResource(t *testing.T) {
	d := newSQLiteDirectory(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		wantID  string
		wantNil bool
	}{
		{"by uuid", "6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f", "6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f", false},
		{"by job number", "J-2042", "6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f", false},
		{"job number padded", "  J-2042 ", "6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f", false},
		{"null columns", "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d", "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d", false},
		{"unknown job", "J-9999", "", true},
		{"unknown uuid", "00000000-0000-4000-8000-000000000000", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := d.FindResource(ctx, tt.id)
			if err != nil {
				t.Fatalf("FindResource: %v", err)
			}
			if tt.wantNil {
				if r != nil {
					t.Fatalf("expected nil, got %+v", r)
				}
				return
			}
			if r == nil || r.ID != tt.wantID {
				t.Fatalf("got %+v, want id %s", r, tt.wantID)
			}
		})
	}

	r, _ := d.FindResource(ctx, "J-2042")
	if r.DisplayName != "Harbour Gala" || r.Venue != "Pier 4" || r.TotalValue != 18250.5 {
		t.Errorf("unexpected resource fields: %+v", r)
	}
	if r.Label() != "J-2042" {
		t.Errorf("Label = %q", r.Label())
	}
}

func TestSQLDirectoryContacts(t *testing.T) {
	d := newSQLiteDirectory(t)
	ctx := context.Background()

	c, err := d.FindContact(ctx, " Casey@Example.com ")
	if err != nil {
		t.Fatalf("FindContact: %v", err)
	}
	if c == nil || c.FullName != "Casey Client" || c.Organization != "Acme Events" || !c.IsActive {
		t.Fatalf("unexpected contact: %+v", c)
	}

	for email, want := range map[string]bool{
		"casey@example.com":  true,
		"CASEY@EXAMPLE.COM":  true,
		"former@example.com": false,
		"nobody@example.com": false,
	} {
		got, err := d.IsEligible(ctx, email)
		if err != nil {
			t.Fatalf("IsEligible(%s): %v", email, err)
		}
		if got != want {
			t.Errorf("IsEligible(%s) = %v, want %v", email, got, want)
		}
	}

	missing, err := d.FindContact(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Errorf("missing contact = %+v, %v", missing, err)
	}
}

func TestSQLDirectoryRejectsBadTableName(t *testing.T) {
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if _, err := NewSQLDirectoryFromDB(db, "proposals; DROP TABLE x", ""); err == nil {
		t.Fatal("expected error for invalid table name")
	}
}

func TestValidateTable(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"proposals", false},
		{"portal.proposals", false},
		{"_staging_contacts", false},
		{"a.b.c", true},
		{"1proposals", true},
		{"proposals--", true},
		{"select", true},
		{"portal.Table", true},
		{"", true},
		{strings.Repeat("p", 129), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTable(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTable(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	content := `resources:
  - id: PROP-7
    job_number: J-7
    display_name: Spring Launch
    venue: Atrium
    total_value: 4200
contacts:
  - email: Dana@Example.com
    full_name: Dana Doe
    organization: Northwind
    is_active: true
  - email: inactive@example.com
    is_active: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	src, err := Open(Options{Driver: DriverStatic, File: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()
	ctx := context.Background()

	for _, id := range []string{"PROP-7", "J-7"} {
		r, err := src.FindResource(ctx, id)
		if err != nil || r == nil || r.DisplayName != "Spring Launch" {
			t.Errorf("FindResource(%s) = %+v, %v", id, r, err)
		}
	}
	if r, _ := src.FindResource(ctx, "PROP-8"); r != nil {
		t.Errorf("expected nil for unknown resource, got %+v", r)
	}

	if ok, _ := src.IsEligible(ctx, "dana@example.com"); !ok {
		t.Error("dana should be eligible")
	}
	if ok, _ := src.IsEligible(ctx, "inactive@example.com"); ok {
		t.Error("inactive contact should not be eligible")
	}
	c, _ := src.FindContact(ctx, "DANA@example.com")
	if c == nil || c.Organization != "Northwind" {
		t.Errorf("FindContact = %+v", c)
	}
}

func TestOpen(t *testing.T) {
	src, err := Open(Options{Driver: DriverNone})
	if err != nil || src != nil {
		t.Errorf("none driver = %v, %v", src, err)
	}
	if _, err := Open(Options{Driver: "ldap"}); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := Open(Options{Driver: DriverStatic}); err == nil {
		t.Error("expected error for static driver without file")
	}
	if _, err := Open(Options{Driver: DriverPostgres}); err == nil {
		t.Error("expected error for sql driver without dsn")
	}
}
