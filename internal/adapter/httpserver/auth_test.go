package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scan-orchestrator/internal/config"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret", defaultArgon2Params)
	require.NoError(t, err)
	require.True(t, VerifyPassword("s3cret", hash))
	require.False(t, VerifyPassword("wrong", hash))
}

func TestVerifyPasswordPlainFallback(t *testing.T) {
	require.True(t, VerifyPassword("plain", "plain"))
	require.False(t, VerifyPassword("plain", "other"))
}

func TestTokenIssueAndValidate(t *testing.T) {
	ti := NewTokenIssuer("secret", time.Hour)
	token := ti.Issue("admin")

	user, err := ti.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "admin", user)

	_, err = ti.Validate(token + "x")
	require.Error(t, err)

	other := NewTokenIssuer("different", time.Hour)
	_, err = other.Validate(token)
	require.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	ti := NewTokenIssuer("secret", -time.Minute)
	token := ti.Issue("admin")
	_, err := ti.Validate(token)
	require.Error(t, err)
}

func TestAdminGuard(t *testing.T) {
	hash, err := HashPassword("pw", defaultArgon2Params)
	require.NoError(t, err)
	srv := &Server{
		cfg: config.Config{
			AdminUsername:    "admin",
			AdminPassword:    hash,
			AdminTokenSecret: "secret",
		},
		tokens: NewTokenIssuer("secret", time.Hour),
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := srv.AdminGuard()(next)

	req := httptest.NewRequest(http.MethodGet, "/admin/scheduler/status", nil)
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/scheduler/status", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/scheduler/status", nil)
	req.Header.Set("Authorization", "Bearer "+srv.tokens.Issue("admin"))
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/scheduler/status", nil)
	req.SetBasicAuth("admin", "bad")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
