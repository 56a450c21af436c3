// Package memory is an in-process storage backend for tests and single-node trials.
// A single mutex serializes every operation, which gives each call the same
// one-record atomicity the SQL backends get from transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"token-broker/internal/storage"
)

type Store struct {
	mu sync.Mutex

	nextPendingID    int64
	nextCredentialID int64
	nextPrincipalID  int64

	pending     map[int64]*storage.PendingAuthorization
	byState     map[string]int64
	credentials map[int64]*storage.AccessCredential
	principals  map[int64]*storage.Principal

	now func() time.Time
}

func New() *Store {
	return &Store{
		pending:     make(map[int64]*storage.PendingAuthorization),
		byState:     make(map[string]int64),
		credentials: make(map[int64]*storage.AccessCredential),
		principals:  make(map[int64]*storage.Principal),
		now:         time.Now,
	}
}

func (s *Store) Close() error  { return nil }
func (s *Store) Health() error { return nil }

func (s *Store) CreatePendingAuthorization(ctx context.Context, p *storage.PendingAuthorization, seal storage.StateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextPendingID + 1
	state, err := seal(id)
	if err != nil {
		return err
	}
	if _, taken := s.byState[state]; taken {
		return fmt.Errorf("state key collision for pending authorization %d", id)
	}

	s.nextPendingID = id
	p.ID = id
	p.StateKey = state
	cp := *p
	s.pending[id] = &cp
	s.byState[state] = id
	return nil
}

func (s *Store) GetPendingAuthorization(ctx context.Context, id int64) (*storage.PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) GetPendingAuthorizationByState(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byState[state]
	if !ok {
		return nil, nil
	}
	cp := *s.pending[id]
	return &cp, nil
}

func (s *Store) ConsumePendingAuthorization(ctx context.Context, state string) (*storage.PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byState[state]
	if !ok {
		return nil, nil
	}
	p := s.pending[id]
	delete(s.pending, id)
	delete(s.byState, state)
	return p, nil
}

func (s *Store) DeletePendingAuthorization(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[id]; ok {
		delete(s.byState, p.StateKey)
		delete(s.pending, id)
	}
	return nil
}

func (s *Store) ListExpiredPendingAuthorizations(ctx context.Context, cutoff time.Time) ([]*storage.PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*storage.PendingAuthorization
	for _, p := range s.pending {
		if p.Expired(cutoff) {
			cp := *p
			expired = append(expired, &cp)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (s *Store) CreateCredential(ctx context.Context, c *storage.AccessCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCredentialID++
	now := s.now().UTC()
	c.ID = s.nextCredentialID
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	s.credentials[c.ID] = &cp
	return nil
}

func (s *Store) GetCredential(ctx context.Context, id int64) (*storage.AccessCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.credentials[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) UpdateCredential(ctx context.Context, c *storage.AccessCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.credentials[c.ID]
	if !ok {
		return fmt.Errorf("credential %d does not exist", c.ID)
	}
	existing.Scopes = c.Scopes
	existing.DisplayName = c.DisplayName
	existing.AccessToken = c.AccessToken
	existing.AccessTokenExpiry = c.AccessTokenExpiry
	existing.RefreshToken = c.RefreshToken
	existing.UpdatedAt = s.now().UTC()
	c.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *Store) UpdateCredentialTokens(ctx context.Context, id int64, accessToken string, expiry time.Time, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.credentials[id]
	if !ok {
		return fmt.Errorf("credential %d does not exist", id)
	}
	existing.AccessToken = accessToken
	existing.AccessTokenExpiry = expiry
	existing.RefreshToken = refreshToken
	existing.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) ClearRefreshToken(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.credentials[id]; ok {
		existing.RefreshToken = ""
		existing.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *Store) ListCredentials(ctx context.Context, principalID int64) ([]*storage.AccessCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*storage.AccessCredential
	for _, c := range s.credentials {
		if c.PrincipalID == principalID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteCredential(ctx context.Context, principalID, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[id]
	if !ok || c.PrincipalID != principalID {
		return false, nil
	}
	delete(s.credentials, id)
	return true, nil
}

func (s *Store) CreatePrincipal(ctx context.Context, admin bool) (*storage.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPrincipalID++
	now := s.now().UTC()
	p := &storage.Principal{ID: s.nextPrincipalID, CreatedAt: now, LastSeenAt: now, Admin: admin}
	cp := *p
	s.principals[p.ID] = &cp
	return p, nil
}

func (s *Store) GetPrincipal(ctx context.Context, id int64) (*storage.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.principals[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) TouchPrincipal(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.principals[id]; ok {
		p.LastSeenAt = at.UTC()
	}
	return nil
}

func (s *Store) SetPrincipalDisabled(ctx context.Context, id int64, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.principals[id]
	if !ok {
		return fmt.Errorf("principal %d does not exist", id)
	}
	p.Disabled = disabled
	return nil
}

// Factory registers the "memory" backend.
type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	return New(), nil
}

func (f *Factory) GetType() string {
	return "memory"
}

func init() {
	storage.Register("memory", &Factory{})
}
