package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/integrity-line/platform/internal/access"
	"github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/access/infrastructure"
	"github.com/integrity-line/platform/internal/shared/auth"
	"github.com/integrity-line/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router http.Handler
	model  *access.Model
	seed   *access.SeedResult
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := infrastructure.NewMemoryStore()
	seed, err := access.Seed(context.Background(), store, access.SeedConfig{AdminEmail: "admin@example.org"}, nil)
	require.NoError(t, err)
	model := access.NewModel(store, nil)

	r := chi.NewRouter()
	// X-Principal stands in for the JWT middleware.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get("X-Principal"); id != "" {
				r = r.WithContext(auth.WithPrincipal(r.Context(), types.ID(id)))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Mount("/access", NewHandler(model).Routes())
	return &testServer{router: r, model: model, seed: seed}
}

func (s *testServer) do(t *testing.T, method, path string, principal types.ID, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if !principal.IsZero() {
		req.Header.Set("X-Principal", principal.String())
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestListPermissions(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodGet, "/access/permissions", s.seed.AdminID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, len(domain.Catalog()), body["total"])

	rec, _ = s.do(t, http.MethodGet, "/access/permissions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRolePermissionEditRejectsSuperset(t *testing.T) {
	s := newTestServer(t)
	admin := s.seed.AdminID

	rec, body := s.do(t, http.MethodPost, "/access/archetypes", admin,
		`{"code":"a","name":"A","permissions":["case.read","case.triage"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	archetypeID := body["id"].(string)

	rec, body = s.do(t, http.MethodPost, "/access/roles", admin,
		`{"archetype_id":"`+archetypeID+`","code":"r","name":"R"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	roleID := body["id"].(string)
	assert.Equal(t, []any{"case.read", "case.triage"}, body["permissions"])

	rec, body = s.do(t, http.MethodPut, "/access/roles/"+roleID+"/permissions", admin,
		`{"permissions":["case.read","case.triage","case.close"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_PERMISSION_SUBSET", body["code"])
	assert.Equal(t, []any{"case.close"}, body["offending"])

	rec, body = s.do(t, http.MethodGet, "/access/roles/"+roleID, admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"case.read", "case.triage"}, body["permissions"])
}

func TestUnauthorizedAndForbiddenAreDistinct(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	p, err := s.model.CreatePrincipal(ctx, s.seed.AdminID, access.CreatePrincipalInput{Email: "aud@example.org", Name: "Aud"})
	require.NoError(t, err)
	require.NoError(t, s.model.GrantRole(ctx, s.seed.AdminID, p.ID, s.seed.RoleIDs["auditor"]))

	rec, _ := s.do(t, http.MethodGet, "/access/roles", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := s.do(t, http.MethodGet, "/access/roles", p.ID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", body["code"])
}

func TestPrincipalGrantFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.seed.AdminID

	rec, body := s.do(t, http.MethodPost, "/access/principals", admin, `{"email":"new@example.org","name":"New"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	principalID := body["id"].(string)

	roleID := s.seed.RoleIDs["case_supervisor"].String()
	rec, _ = s.do(t, http.MethodPost, "/access/principals/"+principalID+"/roles/"+roleID, admin, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = s.do(t, http.MethodGet, "/access/principals/"+principalID, admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{roleID}, body["role_ids"])

	rec, _ = s.do(t, http.MethodDelete, "/access/principals/"+principalID+"/roles/"+roleID, admin, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, "/access/principals/"+principalID+"/roles/"+roleID, admin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodPut, "/access/principals/"+principalID+"/active", admin, `{"active":false}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/access/principals/not-an-id/roles/"+roleID, admin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
