// Package store defines the configuration-store collaborator consumed by the customizer runtime.
//
// Two read surfaces exist: CustomizerStore holds the tenant's customizer scripts and
// IdentityStore answers the read-only lookups used to assemble a user's identity context.
// Implementations live in the memory, redis and postgres subpackages.
package store

import (
	"context"
	"errors"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// CustomizerStore persists customizer entries for a single tenant.
type CustomizerStore interface {
	// GetCustomizers returns every stored entry, keyed by token type.
	GetCustomizers(ctx context.Context) (customizer.Customizers, error)
	// GetCustomizer returns one entry or ErrNotFound.
	GetCustomizer(ctx context.Context, key customizer.TokenKey) (*customizer.Entry, error)
	// PutCustomizer creates or replaces an entry.
	PutCustomizer(ctx context.Context, key customizer.TokenKey, entry *customizer.Entry) error
	// DeleteCustomizer removes an entry; ErrNotFound when absent.
	DeleteCustomizer(ctx context.Context, key customizer.TokenKey) error
}

// IdentityStore is the read-only lookup surface used by the identity context assembler.
type IdentityStore interface {
	FindUserByID(ctx context.Context, userID string) (*User, error)
	FindUserRoles(ctx context.Context, userID string) ([]Role, error)
	FindRolesScopesByRoleIDs(ctx context.Context, roleIDs []string) ([]RoleScope, error)
	FindScopesByIDs(ctx context.Context, scopeIDs []string) ([]Scope, error)
	AttachResourceToScopes(ctx context.Context, scopes []Scope) ([]ScopeWithResource, error)
	FindUserSsoIdentitiesByUserID(ctx context.Context, userID string) ([]SsoIdentity, error)
	GetOrganizationsByUserID(ctx context.Context, userID string) ([]OrganizationMembership, error)
}
