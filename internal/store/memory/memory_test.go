package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

const seedYAML = `
customizers:
  jwt.accessToken:
    scripts:
      production:
        script: "function getCustomJwtClaims() { return {tier: 'gold'} }"
        environmentVariables:
          REGION: eu
users:
  - id: u1
    username: alice
    primaryEmail: alice@example.com
    isSuspended: false
    hasPassword: true
    mfaVerifications:
      - id: m1
        type: Totp
      - id: m2
        type: Totp
    createdAt: 1700000000000
    updatedAt: 1700000000000
roles:
  - id: r1
    name: admin
    description: Administrators
  - id: r2
    name: viewer
    description: Read only
userRoles:
  u1: [r1]
rolesScopes:
  - roleId: r1
    scopeId: s1
  - roleId: r2
    scopeId: s2
scopes:
  - id: s1
    resourceId: api1
    name: write:all
    description: Write everything
  - id: s2
    resourceId: missing
    name: read:all
    description: Read everything
resources:
  - id: api1
    name: Main API
    indicator: https://api.example.com
ssoIdentities:
  - id: sso1
    userId: u1
    ssoConnectorId: c1
    issuer: https://idp.example.com
    identityId: alice-idp
    detail:
      department: eng
organizations:
  u1:
    - id: o1
      name: Acme
      description: Acme Inc
      organizationRoles:
        - id: or1
          name: member
`

func newSeeded(t *testing.T) *Store {
	t.Helper()
	seed, err := LoadSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	s, err := NewFromSeed(seed)
	require.NoError(t, err)
	return s
}

func TestCustomizers(t *testing.T) {
	ctx := t.Context()
	s := newSeeded(t)

	all, err := s.GetCustomizers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	script, ok := all[customizer.AccessToken].Script(customizer.UseCaseProduction)
	require.True(t, ok)
	assert.Equal(t, "eu", script.EnvironmentVariables["REGION"])

	t.Run("returned entries are copies", func(t *testing.T) {
		all[customizer.AccessToken].SetScript(customizer.UseCaseTest, customizer.Script{Source: "x"})
		entry, err := s.GetCustomizer(ctx, customizer.AccessToken)
		require.NoError(t, err)
		_, ok := entry.Script(customizer.UseCaseTest)
		assert.False(t, ok)
	})

	t.Run("put and delete", func(t *testing.T) {
		entry := &customizer.Entry{}
		entry.SetScript(customizer.UseCaseTest, customizer.Script{Source: "y"})
		require.NoError(t, s.PutCustomizer(ctx, customizer.IDToken, entry))

		got, err := s.GetCustomizer(ctx, customizer.IDToken)
		require.NoError(t, err)
		assert.Equal(t, entry, got)

		require.NoError(t, s.DeleteCustomizer(ctx, customizer.IDToken))
		_, err = s.GetCustomizer(ctx, customizer.IDToken)
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.DeleteCustomizer(ctx, customizer.IDToken), store.ErrNotFound)
	})

	t.Run("empty put removes", func(t *testing.T) {
		require.NoError(t, s.PutCustomizer(ctx, customizer.ClientCredentials, &customizer.Entry{}))
		_, err := s.GetCustomizer(ctx, customizer.ClientCredentials)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		err := s.PutCustomizer(ctx, customizer.TokenKey("jwt.refresh"), &customizer.Entry{})
		require.ErrorIs(t, err, customizer.ErrUnknownTokenKey)
	})
}

func TestIdentityLookups(t *testing.T) {
	ctx := t.Context()
	s := newSeeded(t)

	user, err := s.FindUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Len(t, user.MfaVerifications, 2)

	_, err = s.FindUserByID(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)

	roles, err := s.FindUserRoles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "admin", roles[0].Name)

	rs, err := s.FindRolesScopesByRoleIDs(ctx, []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, []store.RoleScope{{RoleID: "r1", ScopeID: "s1"}}, rs)

	scopes, err := s.FindScopesByIDs(ctx, []string{"s1", "s2"})
	require.NoError(t, err)
	require.Len(t, scopes, 2)

	withRes, err := s.AttachResourceToScopes(ctx, scopes)
	require.NoError(t, err)
	require.Len(t, withRes, 2)
	require.NotNil(t, withRes[0].Resource)
	assert.Equal(t, "https://api.example.com", withRes[0].Resource.Indicator)
	assert.Nil(t, withRes[1].Resource)

	sso, err := s.FindUserSsoIdentitiesByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sso, 1)
	assert.Equal(t, "eng", sso[0].Detail["department"])

	orgs, err := s.GetOrganizationsByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "Acme", orgs[0].Name)
	assert.Equal(t, "member", orgs[0].Roles[0].Name)

	orgs, err = s.GetOrganizationsByUserID(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, orgs)
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	s, err := NewFromFile(path)
	require.NoError(t, err)
	all, err := s.GetCustomizers(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = NewFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadSeed_Errors(t *testing.T) {
	_, err := LoadSeed(strings.NewReader("unknownField: 1\n"))
	require.Error(t, err)

	seed, err := LoadSeed(strings.NewReader(""))
	require.NoError(t, err)
	s, err := NewFromSeed(seed)
	require.NoError(t, err)
	all, err := s.GetCustomizers(t.Context())
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = NewFromSeed(Seed{Customizers: customizer.Customizers{"bogus": {}}})
	require.ErrorIs(t, err, customizer.ErrUnknownTokenKey)
}
