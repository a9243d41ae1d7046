package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "acme"), srv
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := t.Context()
	s, srv := newTestStore(t)

	all, err := s.GetCustomizers(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	entry := &customizer.Entry{}
	entry.SetScript(customizer.UseCaseProduction, customizer.Script{
		Source:               "function getCustomJwtClaims() { return {} }",
		EnvironmentVariables: map[string]string{"K": "v"},
	})
	require.NoError(t, s.PutCustomizer(ctx, customizer.AccessToken, entry))
	assert.True(t, srv.Exists("customjwt:acme:customizers"))

	got, err := s.GetCustomizer(ctx, customizer.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	all, err = s.GetCustomizers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []customizer.TokenKey{customizer.AccessToken}, all.Keys())

	require.NoError(t, s.DeleteCustomizer(ctx, customizer.AccessToken))
	_, err = s.GetCustomizer(ctx, customizer.AccessToken)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.DeleteCustomizer(ctx, customizer.AccessToken), store.ErrNotFound)
}

func TestStore_EmptyEntryDeletesField(t *testing.T) {
	ctx := t.Context()
	s, srv := newTestStore(t)

	srv.HSet("customjwt:acme:customizers", string(customizer.IDToken), `{"scripts":{"test":{"script":"x"}}}`)
	require.NoError(t, s.PutCustomizer(ctx, customizer.IDToken, &customizer.Entry{}))

	_, err := s.GetCustomizer(ctx, customizer.IDToken)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_SkipsUnknownFields(t *testing.T) {
	ctx := t.Context()
	s, srv := newTestStore(t)

	srv.HSet("customjwt:acme:customizers", "jwt.legacy", `{}`)
	srv.HSet("customjwt:acme:customizers", string(customizer.IDToken), `{"scripts":{"test":{"script":"x"}}}`)

	all, err := s.GetCustomizers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.True(t, all.Has(customizer.IDToken))
}

func TestStore_CorruptEntry(t *testing.T) {
	ctx := t.Context()
	s, srv := newTestStore(t)

	srv.HSet("customjwt:acme:customizers", string(customizer.AccessToken), `not json`)
	_, err := s.GetCustomizers(ctx)
	require.Error(t, err)
	_, err = s.GetCustomizer(ctx, customizer.AccessToken)
	require.Error(t, err)
}

func TestStore_ServerDown(t *testing.T) {
	ctx := t.Context()
	s, srv := newTestStore(t)
	srv.Close()

	_, err := s.GetCustomizers(ctx)
	require.Error(t, err)
	_, err = s.GetCustomizer(ctx, customizer.AccessToken)
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestNewFromURL(t *testing.T) {
	srv := miniredis.RunT(t)

	s, err := NewFromURL(t.Context(), "redis://"+srv.Addr(), "acme")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.NotNil(t, s.Client())

	_, err = NewFromURL(t.Context(), "://bad", "acme")
	require.Error(t, err)
}
