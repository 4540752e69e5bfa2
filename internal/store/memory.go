package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/proposalgate/proposalgate/internal/model"
)

// MemoryStore keeps credentials and sessions in process memory. State is lost
// on restart and is not shared between replicas.
type MemoryStore struct {
	mu          sync.Mutex
	credentials map[string]*model.Credential
	sessions    map[string]*model.Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]*model.Credential),
		sessions:    make(map[string]*model.Session),
	}
}

func copyCredential(c *model.Credential) *model.Credential {
	out := *c
	out.Reference = ""
	out.Scope = append(model.Scope(nil), c.Scope...)
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		out.LastUsedAt = &t
	}
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

func copySession(s *model.Session) *model.Session {
	out := *s
	out.Token = ""
	out.Scope = append(model.Scope(nil), s.Scope...)
	if s.LastAccessedAt != nil {
		t := *s.LastAccessedAt
		out.LastAccessedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}

func (m *MemoryStore) PutCredential(_ context.Context, c *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[c.ID]; ok {
		return ErrDuplicateReference
	}
	m.credentials[c.ID] = copyCredential(c)
	return nil
}

func (m *MemoryStore) GetCredential(_ context.Context, id string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCredential(c), nil
}

// usable returns the reason an active-state transition is refused, or nil.
func usable(c *model.Credential, at time.Time) error {
	if err := errForState(string(c.State)); err != nil {
		return err
	}
	if c.ExpiredAt(at) {
		return ErrExpired
	}
	return nil
}

func (m *MemoryStore) MarkConsumed(_ context.Context, id string, at time.Time) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := usable(c, at); err != nil {
		return nil, err
	}
	used := at
	c.State = model.CredentialConsumed
	c.UseCount++
	c.LastUsedAt = &used
	return copyCredential(c), nil
}

func (m *MemoryStore) RecordUse(_ context.Context, id string, at time.Time) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := usable(c, at); err != nil {
		return nil, err
	}
	used := at
	c.UseCount++
	c.LastUsedAt = &used
	return copyCredential(c), nil
}

func (m *MemoryStore) MarkExpired(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	if c.State == model.CredentialActive {
		c.State = model.CredentialExpired
	}
	return nil
}

func (m *MemoryStore) RevokeCredential(_ context.Context, id, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	if c.State != model.CredentialActive {
		return nil
	}
	revoked := at
	c.State = model.CredentialRevoked
	c.RevokedBy = by
	c.RevokedAt = &revoked
	return nil
}

func (m *MemoryStore) ListCredentials(_ context.Context, f CredentialFilter) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Credential, 0)
	for _, c := range m.credentials {
		if f.match(c) {
			out = append(out, *copyCredential(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	if n := limitOf(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) PutSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrDuplicateReference
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) TouchSession(_ context.Context, id string, at time.Time) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != model.SessionActive || s.ExpiredAt(at) {
		return nil, ErrSessionEnded
	}
	touched := at
	s.LastAccessedAt = &touched
	return copySession(s), nil
}

func (m *MemoryStore) ExtendSession(_ context.Context, id string, increment time.Duration, maxExtensions int, at time.Time) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != model.SessionActive || s.ExpiredAt(at) {
		return nil, ErrSessionEnded
	}
	if s.ExtensionCount >= maxExtensions {
		return nil, ErrMaxExtensionsReached
	}
	s.ExpiresAt = s.ExpiresAt.Add(increment)
	s.ExtensionCount++
	touched := at
	s.LastAccessedAt = &touched
	return copySession(s), nil
}

func (m *MemoryStore) EndSession(_ context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.State != model.SessionActive {
		return nil
	}
	ended := at
	s.State = model.SessionEnded
	s.EndReason = reason
	s.EndedAt = &ended
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, f SessionFilter) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Session, 0)
	for _, s := range m.sessions {
		if f.match(s) {
			out = append(out, *copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if n := limitOf(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) SweepExpired(_ context.Context, cutoff time.Time) (SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res SweepResult
	for id, c := range m.credentials {
		if c.ExpiresAt.Before(cutoff) {
			delete(m.credentials, id)
			res.Credentials++
		}
	}
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(m.sessions, id)
			res.Sessions++
		}
	}
	return res, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
