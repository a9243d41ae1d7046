// Package memory provides an in-process store implementing both store interfaces.
package memory

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

var (
	_ store.CustomizerStore = (*Store)(nil)
	_ store.IdentityStore   = (*Store)(nil)
)

// Seed is the YAML document a Store can be loaded from.
type Seed struct {
	Customizers   customizer.Customizers                    `yaml:"customizers"`
	Users         []store.User                              `yaml:"users"`
	Roles         []store.Role                              `yaml:"roles"`
	UserRoles     map[string][]string                       `yaml:"userRoles"`
	RolesScopes   []store.RoleScope                         `yaml:"rolesScopes"`
	Scopes        []store.Scope                             `yaml:"scopes"`
	Resources     []store.Resource                          `yaml:"resources"`
	SsoIdentities []store.SsoIdentity                       `yaml:"ssoIdentities"`
	Organizations map[string][]store.OrganizationMembership `yaml:"organizations"`
}

// Store keeps everything in maps guarded by a single RWMutex.
type Store struct {
	mu          sync.RWMutex
	customizers customizer.Customizers
	seed        Seed
}

// New returns an empty store.
func New() *Store {
	return &Store{customizers: make(customizer.Customizers)}
}

// NewFromSeed returns a store populated from seed data.
func NewFromSeed(seed Seed) (*Store, error) {
	s := New()
	for key, entry := range seed.Customizers {
		if err := key.Validate(); err != nil {
			return nil, err
		}
		if entry.IsEmpty() {
			continue
		}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("customizer %s: %w", key, err)
		}
		s.customizers[key] = entry.Clone()
	}
	seed.Customizers = nil
	s.seed = seed
	return s, nil
}

// LoadSeed decodes a YAML seed document.
func LoadSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return Seed{}, fmt.Errorf("failed to decode seed: %w", err)
	}
	return seed, nil
}

// NewFromFile loads a YAML seed file into a new store.
func NewFromFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()

	seed, err := LoadSeed(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewFromSeed(seed)
}

func (s *Store) GetCustomizers(_ context.Context) (customizer.Customizers, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(customizer.Customizers, len(s.customizers))
	for key, entry := range s.customizers {
		out[key] = entry.Clone()
	}
	return out, nil
}

func (s *Store) GetCustomizer(_ context.Context, key customizer.TokenKey) (*customizer.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.customizers[key]
	if !ok {
		return nil, fmt.Errorf("%w: customizer %s", store.ErrNotFound, key)
	}
	return entry.Clone(), nil
}

func (s *Store) PutCustomizer(_ context.Context, key customizer.TokenKey, entry *customizer.Entry) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.IsEmpty() {
		delete(s.customizers, key)
		return nil
	}
	s.customizers[key] = entry.Clone()
	return nil
}

func (s *Store) DeleteCustomizer(_ context.Context, key customizer.TokenKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customizers[key]; !ok {
		return fmt.Errorf("%w: customizer %s", store.ErrNotFound, key)
	}
	delete(s.customizers, key)
	return nil
}

func (s *Store) FindUserByID(_ context.Context, userID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.seed.Users {
		if s.seed.Users[i].ID == userID {
			u := s.seed.Users[i]
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, userID)
}

func (s *Store) FindUserRoles(_ context.Context, userID string) ([]store.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.seed.UserRoles[userID]
	roles := make([]store.Role, 0, len(ids))
	for _, r := range s.seed.Roles {
		if slices.Contains(ids, r.ID) {
			roles = append(roles, r)
		}
	}
	return roles, nil
}

func (s *Store) FindRolesScopesByRoleIDs(_ context.Context, roleIDs []string) ([]store.RoleScope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.RoleScope
	for _, rs := range s.seed.RolesScopes {
		if slices.Contains(roleIDs, rs.RoleID) {
			out = append(out, rs)
		}
	}
	return out, nil
}

func (s *Store) FindScopesByIDs(_ context.Context, scopeIDs []string) ([]store.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Scope
	for _, sc := range s.seed.Scopes {
		if slices.Contains(scopeIDs, sc.ID) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *Store) AttachResourceToScopes(_ context.Context, scopes []store.Scope) ([]store.ScopeWithResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.ScopeWithResource, 0, len(scopes))
	for _, sc := range scopes {
		item := store.ScopeWithResource{Scope: sc}
		for _, res := range s.seed.Resources {
			if res.ID == sc.ResourceID {
				r := res
				item.Resource = &r
				break
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) FindUserSsoIdentitiesByUserID(_ context.Context, userID string) ([]store.SsoIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.SsoIdentity
	for _, id := range s.seed.SsoIdentities {
		if id.UserID == userID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) GetOrganizationsByUserID(_ context.Context, userID string) ([]store.OrganizationMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.seed.Organizations[userID]), nil
}
