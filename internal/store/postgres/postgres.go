// Package postgres implements the read-only identity lookups over a Postgres tenant database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlanticdynamic/customjwt/internal/store"
)

var _ store.IdentityStore = (*Store)(nil)

// Querier is the subset of pgxpool.Pool used by Store.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store answers identity lookups scoped to one tenant.
type Store struct {
	db       Querier
	tenantID string
}

// New wraps an existing querier.
func New(db Querier, tenantID string) *Store {
	return &Store{db: db, tenantID: tenantID}
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

const (
	selectUser = `select id, coalesce(username, ''), coalesce(primary_email, ''), coalesce(primary_phone, ''),
	coalesce(name, ''), coalesce(avatar, ''), custom_data, identities, profile, coalesce(application_id, ''),
	is_suspended, password_encrypted is not null, mfa_verifications,
	coalesce((extract(epoch from last_sign_in_at) * 1000)::bigint, 0),
	(extract(epoch from created_at) * 1000)::bigint, (extract(epoch from updated_at) * 1000)::bigint
	from users where tenant_id = $1 and id = $2`

	selectUserRoles = `select r.id, r.name, r.description from roles r
	join users_roles ur on ur.role_id = r.id and ur.tenant_id = r.tenant_id
	where r.tenant_id = $1 and ur.user_id = $2 order by r.name`

	selectRolesScopes = `select role_id, scope_id from roles_scopes where tenant_id = $1 and role_id = any($2)`

	selectScopes = `select id, resource_id, name, coalesce(description, '') from scopes
	where tenant_id = $1 and id = any($2) order by name`

	selectResources = `select id, name, indicator from resources where tenant_id = $1 and id = any($2)`

	selectSsoIdentities = `select id, user_id, sso_connector_id, issuer, identity_id, detail from user_sso_identities
	where tenant_id = $1 and user_id = $2`

	selectOrganizations = `select o.id, o.name, coalesce(o.description, ''),
	coalesce(json_agg(json_build_object('id', r.id, 'name', r.name)) filter (where r.id is not null), '[]')
	from organizations o
	join organization_user_relations ou on ou.organization_id = o.id and ou.tenant_id = o.tenant_id
	left join organization_role_user_relations oru
		on oru.organization_id = o.id and oru.user_id = ou.user_id and oru.tenant_id = o.tenant_id
	left join organization_roles r on r.id = oru.organization_role_id
	where o.tenant_id = $1 and ou.user_id = $2
	group by o.id, o.name, o.description order by o.name`
)

func (s *Store) FindUserByID(ctx context.Context, userID string) (*store.User, error) {
	var (
		u                               store.User
		customData, identities, profile []byte
		mfa                             []byte
		lastSignIn                      int64
	)
	err := s.db.QueryRow(ctx, selectUser, s.tenantID, userID).Scan(
		&u.ID, &u.Username, &u.PrimaryEmail, &u.PrimaryPhone,
		&u.Name, &u.Avatar, &customData, &identities, &profile, &u.ApplicationID,
		&u.IsSuspended, &u.HasPassword, &mfa,
		&lastSignIn, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if err := unmarshalJSON(customData, &u.CustomData); err != nil {
		return nil, fmt.Errorf("user custom_data: %w", err)
	}
	if err := unmarshalJSON(identities, &u.Identities); err != nil {
		return nil, fmt.Errorf("user identities: %w", err)
	}
	if err := unmarshalJSON(profile, &u.Profile); err != nil {
		return nil, fmt.Errorf("user profile: %w", err)
	}
	if err := unmarshalJSON(mfa, &u.MfaVerifications); err != nil {
		return nil, fmt.Errorf("user mfa_verifications: %w", err)
	}
	if lastSignIn > 0 {
		u.LastSignInAt = &lastSignIn
	}
	return &u, nil
}

func (s *Store) FindUserRoles(ctx context.Context, userID string) ([]store.Role, error) {
	return collect(ctx, s.db, "roles", func(row pgx.CollectableRow) (store.Role, error) {
		var r store.Role
		err := row.Scan(&r.ID, &r.Name, &r.Description)
		return r, err
	}, selectUserRoles, s.tenantID, userID)
}

func (s *Store) FindRolesScopesByRoleIDs(ctx context.Context, roleIDs []string) ([]store.RoleScope, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	return collect(ctx, s.db, "roles scopes", func(row pgx.CollectableRow) (store.RoleScope, error) {
		var rs store.RoleScope
		err := row.Scan(&rs.RoleID, &rs.ScopeID)
		return rs, err
	}, selectRolesScopes, s.tenantID, roleIDs)
}

func (s *Store) FindScopesByIDs(ctx context.Context, scopeIDs []string) ([]store.Scope, error) {
	if len(scopeIDs) == 0 {
		return nil, nil
	}
	return collect(ctx, s.db, "scopes", func(row pgx.CollectableRow) (store.Scope, error) {
		var sc store.Scope
		err := row.Scan(&sc.ID, &sc.ResourceID, &sc.Name, &sc.Description)
		return sc, err
	}, selectScopes, s.tenantID, scopeIDs)
}

func (s *Store) AttachResourceToScopes(ctx context.Context, scopes []store.Scope) ([]store.ScopeWithResource, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		ids = append(ids, sc.ResourceID)
	}

	resources, err := collect(ctx, s.db, "resources", func(row pgx.CollectableRow) (store.Resource, error) {
		var r store.Resource
		err := row.Scan(&r.ID, &r.Name, &r.Indicator)
		return r, err
	}, selectResources, s.tenantID, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]store.Resource, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}

	out := make([]store.ScopeWithResource, 0, len(scopes))
	for _, sc := range scopes {
		item := store.ScopeWithResource{Scope: sc}
		if r, ok := byID[sc.ResourceID]; ok {
			item.Resource = &r
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) FindUserSsoIdentitiesByUserID(ctx context.Context, userID string) ([]store.SsoIdentity, error) {
	return collect(ctx, s.db, "sso identities", func(row pgx.CollectableRow) (store.SsoIdentity, error) {
		var (
			id     store.SsoIdentity
			detail []byte
		)
		if err := row.Scan(&id.ID, &id.UserID, &id.SsoConnectorID, &id.Issuer, &id.IdentityID, &detail); err != nil {
			return id, err
		}
		return id, unmarshalJSON(detail, &id.Detail)
	}, selectSsoIdentities, s.tenantID, userID)
}

func (s *Store) GetOrganizationsByUserID(ctx context.Context, userID string) ([]store.OrganizationMembership, error) {
	return collect(ctx, s.db, "organizations", func(row pgx.CollectableRow) (store.OrganizationMembership, error) {
		var (
			m     store.OrganizationMembership
			roles []byte
		)
		if err := row.Scan(&m.ID, &m.Name, &m.Description, &roles); err != nil {
			return m, err
		}
		return m, unmarshalJSON(roles, &m.Roles)
	}, selectOrganizations, s.tenantID, userID)
}

func collect[T any](
	ctx context.Context,
	db Querier,
	what string,
	fn pgx.RowToFunc[T],
	sql string,
	args ...any,
) ([]T, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	out, err := pgx.CollectRows(rows, fn)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", what, err)
	}
	return out, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
