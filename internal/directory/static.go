package directory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/proposalgate/proposalgate/internal/model"
)

// StaticFile is the YAML layout read by LoadStatic.
type StaticFile struct {
	Resources []model.Resource `yaml:"resources"`
	Contacts  []model.Contact  `yaml:"contacts"`
}

// StaticDirectory serves resources and contacts loaded from a YAML file.
type StaticDirectory struct {
	mu        sync.RWMutex
	resources map[string]*model.Resource
	contacts  map[string]*model.Contact
}

// LoadStatic reads a StaticFile from path.
func LoadStatic(path string) (*StaticDirectory, error) {
	if path == "" {
		return nil, fmt.Errorf("static directory requires a file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	var f StaticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}
	return NewStatic(f), nil
}

// NewStatic builds a StaticDirectory from f. Resources are addressable by id
// and by job number.
func NewStatic(f StaticFile) *StaticDirectory {
	d := &StaticDirectory{
		resources: make(map[string]*model.Resource),
		contacts:  make(map[string]*model.Contact),
	}
	for i := range f.Resources {
		r := f.Resources[i]
		d.resources[r.ID] = &r
		if r.JobNumber != "" {
			d.resources[r.JobNumber] = &r
		}
	}
	for i := range f.Contacts {
		c := f.Contacts[i]
		c.Email = normalizeEmail(c.Email)
		d.contacts[c.Email] = &c
	}
	return d
}

func (d *StaticDirectory) FindResource(_ context.Context, id string) (*model.Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.resources[strings.TrimSpace(id)]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (d *StaticDirectory) FindContact(_ context.Context, email string) (*model.Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (d *StaticDirectory) IsEligible(ctx context.Context, email string) (bool, error) {
	c, _ := d.FindContact(ctx, email)
	return c != nil && c.IsActive, nil
}

func (d *StaticDirectory) Close() error { return nil }
