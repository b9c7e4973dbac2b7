package auth

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strata-ai/strata/pkg/store"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.NewWithDB(db, "sqlite")
	require.NoError(t, err)
	return NewService(st)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	reg, err := s.Register(ctx, "User@Example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", reg.Email)
	assert.True(t, strings.HasPrefix(reg.APIKey, "sk-strata-"))

	user, err := s.Authenticate(ctx, reg.APIKey)
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, user.ID)

	_, err = s.Authenticate(ctx, "sk-strata-deadbeef")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Authenticate(ctx, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegisterValidation(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "not-an-email", "hunter2hunter2")
	assert.ErrorContains(t, err, "invalid email")

	_, err = s.Register(ctx, "a@example.com", "short")
	assert.ErrorContains(t, err, "at least 8")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "a@example.com", "hunter2hunter2")
	require.NoError(t, err)
	_, err = s.Register(ctx, "a@example.com", "different-pass")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestVerifyPassword(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	reg, err := s.Register(ctx, "a@example.com", "hunter2hunter2")
	require.NoError(t, err)

	user, err := s.VerifyPassword(ctx, "a@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, user.ID)

	_, err = s.VerifyPassword(ctx, "a@example.com", "wrong-password")
	assert.ErrorIs(t, err, store.ErrForbidden)
}

func TestExtractKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/collections", nil)
	r.Header.Set("Authorization", "Bearer sk-strata-abc")
	assert.Equal(t, "sk-strata-abc", ExtractKey(r))

	r = httptest.NewRequest("GET", "/collections", nil)
	r.Header.Set("Authorization", "sk-strata-raw")
	assert.Equal(t, "sk-strata-raw", ExtractKey(r))

	r = httptest.NewRequest("GET", "/collections", nil)
	r.Header.Set("X-API-Key", "sk-strata-header")
	assert.Equal(t, "sk-strata-header", ExtractKey(r))

	r = httptest.NewRequest("GET", "/collections?api_key=sk-strata-query", nil)
	assert.Equal(t, "sk-strata-query", ExtractKey(r))

	r = httptest.NewRequest("GET", "/collections", nil)
	assert.Equal(t, "", ExtractKey(r))
}

func TestMaskAndSanitize(t *testing.T) {
	assert.Equal(t, "sk-strat...***", MaskKey("sk-strata-0123456789abcdef"))
	assert.Equal(t, "***", MaskKey("short"))

	out := SanitizeText("auth failed for sk-strata-0123456789abcdef on retry")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "...***")
	assert.Contains(t, out, "on retry")
}
