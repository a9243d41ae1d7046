package identity

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/atlanticdynamic/customjwt/internal/schema"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

//go:embed schema.json
var contextSchemaDocument []byte

var contextSchema = schema.MustCompile("identity-context", contextSchemaDocument)

// Validate checks a context document (struct or decoded JSON) against the context schema.
func Validate(v any) error {
	return contextSchema.Validate(v)
}

// Assembler builds identity contexts from read-only store lookups.
type Assembler struct {
	store  store.IdentityStore
	logger *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogHandler sets the log handler.
func WithLogHandler(h slog.Handler) Option {
	return func(a *Assembler) {
		a.logger = slog.New(h)
	}
}

// NewAssembler returns an Assembler reading from s.
func NewAssembler(s store.IdentityStore, opts ...Option) *Assembler {
	a := &Assembler{
		store:  s,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithGroup("identity")
	return a
}

// Assemble returns the validated identity context for userID.
func (a *Assembler) Assemble(ctx context.Context, userID string) (*Context, error) {
	user, err := a.store.FindUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	uc := UserContext{
		ID:                     user.ID,
		Username:               user.Username,
		PrimaryEmail:           user.PrimaryEmail,
		PrimaryPhone:           user.PrimaryPhone,
		Name:                   user.Name,
		Avatar:                 user.Avatar,
		CustomData:             orEmpty(user.CustomData),
		Identities:             orEmpty(user.Identities),
		Profile:                orEmpty(user.Profile),
		ApplicationID:          user.ApplicationID,
		IsSuspended:            user.IsSuspended,
		HasPassword:            user.HasPassword,
		LastSignInAt:           user.LastSignInAt,
		CreatedAt:              user.CreatedAt,
		UpdatedAt:              user.UpdatedAt,
		MfaVerificationFactors: mfaFactorTypes(user.MfaVerifications),
	}

	if uc.SsoIdentities, err = a.ssoIdentities(ctx, userID); err != nil {
		return nil, err
	}
	if uc.Roles, err = a.roles(ctx, userID); err != nil {
		return nil, err
	}
	if uc.Organizations, err = a.organizations(ctx, userID); err != nil {
		return nil, err
	}

	out := &Context{User: uc}
	if err := Validate(out); err != nil {
		a.logger.Error("Assembled identity context failed validation", "userID", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidContext, err)
	}
	return out, nil
}

func (a *Assembler) ssoIdentities(ctx context.Context, userID string) ([]SsoIdentity, error) {
	found, err := a.store.FindUserSsoIdentitiesByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find sso identities: %w", err)
	}
	out := make([]SsoIdentity, 0, len(found))
	for _, id := range found {
		out = append(out, SsoIdentity{
			Issuer:     id.Issuer,
			IdentityID: id.IdentityID,
			Detail:     orEmpty(id.Detail),
		})
	}
	return out, nil
}

func (a *Assembler) roles(ctx context.Context, userID string) ([]Role, error) {
	userRoles, err := a.store.FindUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user roles: %w", err)
	}
	if len(userRoles) == 0 {
		return []Role{}, nil
	}

	roleIDs := make([]string, 0, len(userRoles))
	for _, r := range userRoles {
		roleIDs = append(roleIDs, r.ID)
	}
	rolesScopes, err := a.store.FindRolesScopesByRoleIDs(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to find role scopes: %w", err)
	}

	var scopeIDs []string
	for _, rs := range rolesScopes {
		if !slices.Contains(scopeIDs, rs.ScopeID) {
			scopeIDs = append(scopeIDs, rs.ScopeID)
		}
	}

	scopesByID := make(map[string]Scope, len(scopeIDs))
	if len(scopeIDs) > 0 {
		scopes, err := a.store.FindScopesByIDs(ctx, scopeIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to find scopes: %w", err)
		}
		withResources, err := a.store.AttachResourceToScopes(ctx, scopes)
		if err != nil {
			return nil, fmt.Errorf("failed to attach resources: %w", err)
		}
		for _, sc := range withResources {
			scope := Scope{
				ID:          sc.ID,
				Name:        sc.Name,
				Description: sc.Description,
				ResourceID:  sc.ResourceID,
			}
			if sc.Resource != nil {
				scope.Resource = &Resource{
					ID:        sc.Resource.ID,
					Name:      sc.Resource.Name,
					Indicator: sc.Resource.Indicator,
				}
			}
			scopesByID[sc.ID] = scope
		}
	}

	out := make([]Role, 0, len(userRoles))
	for _, r := range userRoles {
		role := Role{ID: r.ID, Name: r.Name, Description: r.Description, Scopes: []Scope{}}
		for _, rs := range rolesScopes {
			if rs.RoleID != r.ID {
				continue
			}
			// a dangling role-scope link is skipped rather than failing the issuance
			if sc, ok := scopesByID[rs.ScopeID]; ok {
				role.Scopes = append(role.Scopes, sc)
			}
		}
		out = append(out, role)
	}
	return out, nil
}

func (a *Assembler) organizations(ctx context.Context, userID string) ([]Organization, error) {
	memberships, err := a.store.GetOrganizationsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find organizations: %w", err)
	}
	out := make([]Organization, 0, len(memberships))
	for _, m := range memberships {
		org := Organization{
			ID:                m.ID,
			Name:              m.Name,
			Description:       m.Description,
			OrganizationRoles: make([]OrganizationRole, 0, len(m.Roles)),
		}
		for _, r := range m.Roles {
			org.OrganizationRoles = append(org.OrganizationRoles, OrganizationRole{ID: r.ID, Name: r.Name})
		}
		out = append(out, org)
	}
	return out, nil
}

func mfaFactorTypes(verifications []store.MfaVerification) []string {
	out := make([]string, 0, len(verifications))
	for _, v := range verifications {
		if v.Type != "" && !slices.Contains(out, v.Type) {
			out = append(out, v.Type)
		}
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
