package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/integrity-line/platform/internal/shared/config"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = config.AuthConfig{JWTSecret: "test-secret", Issuer: "test", TokenTTL: time.Hour}

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := GetPrincipal(r.Context())
		w.Write([]byte(id.String()))
	})
}

func TestMiddlewareAcceptsIssuedToken(t *testing.T) {
	id := types.NewID()
	token, err := IssueToken(testCfg, id, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Middleware(testCfg)(echoPrincipal()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id.String(), rec.Body.String())
}

func TestMiddlewareRejects(t *testing.T) {
	id := types.NewID()
	expired, err := IssueToken(testCfg, id, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	otherIssuer, err := IssueToken(config.AuthConfig{JWTSecret: "test-secret", Issuer: "other", TokenTTL: time.Hour}, id, time.Now())
	require.NoError(t, err)
	wrongKey, err := IssueToken(config.AuthConfig{JWTSecret: "other", Issuer: "test", TokenTTL: time.Hour}, id, time.Now())
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "not-a-uuid", Issuer: "test", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"garbage":        "Bearer abc.def.ghi",
		"expired":        "Bearer " + expired,
		"other issuer":   "Bearer " + otherIssuer,
		"wrong key":      "Bearer " + wrongKey,
		"bad subject":    "Bearer " + badSubject,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			Middleware(testCfg)(echoPrincipal()).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
		})
	}
}

type stubChecker struct{ allowed string }

func (s stubChecker) Authorize(ctx context.Context, principalID types.ID, permission string) error {
	if permission != s.allowed {
		return errors.Forbidden(permission)
	}
	return nil
}

func TestRequirePermission(t *testing.T) {
	next := echoPrincipal()

	rec := httptest.NewRecorder()
	RequirePermission(stubChecker{allowed: "audit.read"}, "audit.read")(next).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), types.NewID()))

	rec = httptest.NewRecorder()
	RequirePermission(stubChecker{allowed: "audit.read"}, "case.close")(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "case.close")

	rec = httptest.NewRecorder()
	RequirePermission(stubChecker{allowed: "audit.read"}, "audit.read")(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
