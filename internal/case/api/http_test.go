package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/integrity-line/platform/internal/access"
	accessinfra "github.com/integrity-line/platform/internal/access/infrastructure"
	"github.com/integrity-line/platform/internal/case/infrastructure"
	"github.com/integrity-line/platform/internal/case/service"
	"github.com/integrity-line/platform/internal/notification"
	"github.com/integrity-line/platform/internal/shared/auth"
	"github.com/integrity-line/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router     http.Handler
	admin      types.ID
	supervisor types.ID
	auditor    types.ID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	accessStore := accessinfra.NewMemoryStore()
	seed, err := access.Seed(ctx, accessStore, access.SeedConfig{AdminEmail: "admin@example.org"}, nil)
	require.NoError(t, err)
	model := access.NewModel(accessStore, nil)

	principal := func(email string, role types.ID) types.ID {
		p, err := model.CreatePrincipal(ctx, seed.AdminID, access.CreatePrincipalInput{Email: email, Name: email})
		require.NoError(t, err)
		require.NoError(t, model.GrantRole(ctx, seed.AdminID, p.ID, role))
		return p.ID
	}

	svc := service.New(infrastructure.NewMemoryStore(), model, notification.NewRecorder(), nil)

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
	h := NewHandler(svc)
	r.Mount("/public/cases", h.PublicRoutes())
	r.Mount("/cases", h.Routes())

	return &testServer{
		router:     r,
		admin:      seed.AdminID,
		supervisor: principal("sup@example.org", seed.RoleIDs["case_supervisor"]),
		auditor:    principal("audit@example.org", seed.RoleIDs["auditor"]),
	}
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

const submissionBody = `{
	"organization_id": "org-1",
	"type_id": "billing",
	"subject": "Charged twice",
	"description": "The March invoice was charged twice",
	"country": "rs",
	"channel": "web",
	"is_anonymous": true,
	"reporter_email": "ana@example.org"
}`

// submit files a public report and returns its number, access code and ID.
func (s *testServer) submit(t *testing.T) (string, string, string) {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/public/cases", "", submissionBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	number, code := body["case_number"].(string), body["access_code"].(string)
	require.NotEmpty(t, number)
	require.NotEmpty(t, code)

	rec, list := s.do(t, http.MethodGet, "/cases?search="+number, s.supervisor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := list["data"].([]any)
	require.Len(t, data, 1)
	return number, code, data[0].(map[string]any)["id"].(string)
}

func credentials(number, code string) string {
	return fmt.Sprintf(`"case_number":%q,"access_code":%q`, number, code)
}

func TestSubmitAndLookup(t *testing.T) {
	s := newTestServer(t)
	number, code, _ := s.submit(t)

	rec, body := s.do(t, http.MethodPost, "/public/cases/lookup", "", "{"+credentials(number, code)+"}")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, number, body["case_number"])
	assert.Equal(t, "NEW", body["state"])
	assert.NotContains(t, rec.Body.String(), "ana@example.org")

	for _, bad := range []string{
		credentials(number, "ZZZZZZZZ"),
		credentials("2025-999999", code),
		credentials("garbage", code),
	} {
		rec, body = s.do(t, http.MethodPost, "/public/cases/lookup", "", "{"+bad+"}")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "CASE_NOT_FOUND_OR_INVALID_CREDENTIAL", body["code"])
		assert.Nil(t, body["details"])
	}
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodPost, "/public/cases", "", `{"channel":"fax"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
	details := body["details"].(map[string]any)
	assert.Contains(t, details, "channel")
	assert.Contains(t, details, "subject")

	rec, _ = s.do(t, http.MethodPost, "/public/cases", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaffRoutesNeedPrincipal(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodGet, "/cases", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/cases/not-a-uuid", s.supervisor, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/cases?state=REOPENED", s.supervisor, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnonymousIdentityRedactedForAuditor(t *testing.T) {
	s := newTestServer(t)
	_, _, id := s.submit(t)

	rec, body := s.do(t, http.MethodGet, "/cases/"+id, s.auditor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["identity_redacted"])
	assert.Nil(t, body["reporter_email"])

	rec, body = s.do(t, http.MethodGet, "/cases/"+id, s.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ana@example.org", body["reporter_email"])
}

func TestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	number, code, id := s.submit(t)
	base := "/cases/" + id

	rec, _ := s.do(t, http.MethodPost, base+"/transitions", s.auditor, `{"to":"IN_PROGRESS"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := s.do(t, http.MethodPost, base+"/transitions", s.supervisor, `{"to":"CLOSED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ILLEGAL_STATE_TRANSITION", body["code"])

	rec, _ = s.do(t, http.MethodPost, base+"/assignments", s.supervisor,
		fmt.Sprintf(`{"principal_id":%q}`, s.supervisor))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, to := range []string{"IN_PROGRESS", "NEEDS_INFO"} {
		rec, _ = s.do(t, http.MethodPost, base+"/transitions", s.supervisor, fmt.Sprintf(`{"to":%q}`, to))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec, _ = s.do(t, http.MethodPost, "/public/cases/comments", "",
		"{"+credentials(number, code)+`,"name":"Ana","content":"Invoice attached"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec, body = s.do(t, http.MethodGet, base, s.supervisor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "IN_PROGRESS", body["state"])
	assert.Equal(t, []any{"NEEDS_INFO", "RESOLVED", "CLOSED"}, body["allowed_transitions"])

	rec, body = s.do(t, http.MethodPost, base+"/transitions", s.supervisor,
		`{"to":"RESOLVED","resolution":{"content":"Refund issued"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "RESOLVED", body["state"])

	rec, body = s.do(t, http.MethodGet, base+"/resolution", s.supervisor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Refund issued", body["content"])

	rec, _ = s.do(t, http.MethodPost, base+"/transitions", s.supervisor, `{"to":"CLOSED"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodGet, base, s.supervisor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["allowed_transitions"])

	rec, body = s.do(t, http.MethodGet, base+"/history", s.supervisor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 6, body["total"])

	rec, _ = s.do(t, http.MethodPost, "/public/cases/rating", "", "{"+credentials(number, code)+`,"score":5}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/public/cases/rating", "", "{"+credentials(number, code)+`,"score":4}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCommentTiersOverHTTP(t *testing.T) {
	s := newTestServer(t)
	number, code, id := s.submit(t)
	base := "/cases/" + id

	rec, _ := s.do(t, http.MethodPost, base+"/comments", s.admin, `{"content":"We are looking into it","visibility":"public"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, body := s.do(t, http.MethodPost, base+"/comments", s.admin, `{"content":"check ledger","is_internal":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "internal", body["visibility"])
	rec, body = s.do(t, http.MethodPost, base+"/comments", s.admin, `{"content":"pattern","is_internal":true,"analyst_only":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "analyst", body["visibility"])

	rec, _ = s.do(t, http.MethodPost, base+"/comments", s.admin, `{"content":"x","visibility":"secret"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = s.do(t, http.MethodGet, base+"/comments", s.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["total"])

	rec, body = s.do(t, http.MethodPost, "/public/cases/lookup", "", "{"+credentials(number, code)+"}")
	require.Equal(t, http.StatusOK, rec.Code)
	comments := body["comments"].([]any)
	require.Len(t, comments, 1)
	assert.Equal(t, "We are looking into it", comments[0].(map[string]any)["content"])
}

func TestAssignmentsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	_, _, id := s.submit(t)
	base := "/cases/" + id

	rec, _ := s.do(t, http.MethodPost, base+"/assignments", s.supervisor, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, base+"/assignments", s.supervisor, fmt.Sprintf(`{"principal_id":%q}`, s.supervisor))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = s.do(t, http.MethodPost, base+"/assignments", s.supervisor,
		fmt.Sprintf(`{"principal_id":%q,"replace":true}`, s.admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body := s.do(t, http.MethodGet, base+"/custody", s.auditor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])

	rec, _ = s.do(t, http.MethodDelete, base+"/assignments/"+s.admin.String(), s.supervisor, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = s.do(t, http.MethodDelete, base+"/assignments/"+s.admin.String(), s.supervisor, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = s.do(t, http.MethodGet, base+"/custody", s.auditor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["total"])
	release := body["data"].([]any)[2].(map[string]any)
	assert.Equal(t, s.admin.String(), release["from_principal_id"])
	assert.NotContains(t, release, "to_principal_id")
}

func TestReporterAttachmentOverHTTP(t *testing.T) {
	s := newTestServer(t)
	number, code, id := s.submit(t)

	rec, _ := s.do(t, http.MethodPost, "/public/cases/attachments", "",
		"{"+credentials(number, code)+`,"file_name":"invoice.pdf","content_type":"application/pdf","size_bytes":2048,"storage_ref":"blob://1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, body := s.do(t, http.MethodGet, "/cases/"+id+"/attachments", s.supervisor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])
}
