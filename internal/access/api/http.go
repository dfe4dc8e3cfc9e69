package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/integrity-line/platform/internal/access"
	"github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/shared/auth"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the role and permission admin interface
type Handler struct {
	model *access.Model
}

// NewHandler creates a new access handler
func NewHandler(model *access.Model) *Handler {
	return &Handler{model: model}
}

// Routes registers the access routes. Every route expects an authenticated
// principal; permission checks happen in the model.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(auth.RequirePermission(h.model, string(domain.PermRoleManage))).
		Get("/permissions", h.ListPermissions)

	r.Route("/archetypes", func(r chi.Router) {
		r.Get("/", h.ListArchetypes)
		r.Post("/", h.CreateArchetype)
		r.Put("/{archetypeID}/permissions", h.SetArchetypePermissions)
	})

	r.Route("/roles", func(r chi.Router) {
		r.Get("/", h.ListRoles)
		r.Post("/", h.CreateRole)
		r.Get("/{roleID}", h.GetRole)
		r.Put("/{roleID}/permissions", h.SetRolePermissions)
	})

	r.Route("/principals", func(r chi.Router) {
		r.Post("/", h.CreatePrincipal)
		r.Get("/{principalID}", h.GetPrincipal)
		r.Put("/{principalID}/active", h.SetPrincipalActive)
		r.Post("/{principalID}/roles/{roleID}", h.GrantRole)
		r.Delete("/{principalID}/roles/{roleID}", h.RevokeRole)
	})

	return r
}

// --- Request types ---

type PermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

// --- Handlers ---

func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	catalog := domain.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  catalog,
		"total": len(catalog),
	})
}

func (h *Handler) ListArchetypes(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	archetypes, err := h.model.ListArchetypes(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  archetypes,
		"total": len(archetypes),
	})
}

func (h *Handler) CreateArchetype(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req access.CreateArchetypeInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	a, err := h.model.CreateArchetype(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) SetArchetypePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "archetypeID")
	if !ok {
		return
	}

	var req PermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	a, err := h.model.SetArchetypePermissions(r.Context(), actor, id, req.Permissions)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	roles, err := h.model.ListRoles(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  roles,
		"total": len(roles),
	})
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req access.CreateRoleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	role, err := h.model.CreateRole(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, role)
}

func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}

	role, err := h.model.GetRole(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, role)
}

func (h *Handler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}

	var req PermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	role, err := h.model.SetRolePermissions(r.Context(), actor, id, req.Permissions)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, role)
}

func (h *Handler) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req access.CreatePrincipalInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	p, err := h.model.CreatePrincipal(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetPrincipal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "principalID")
	if !ok {
		return
	}

	p, err := h.model.GetPrincipal(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) SetPrincipalActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "principalID")
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	p, err := h.model.SetPrincipalActive(r.Context(), actor, id, req.Active)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.changeGrant(w, r, h.model.GrantRole)
}

func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.changeGrant(w, r, h.model.RevokeRole)
}

// --- Helpers ---

type grantFunc func(ctx context.Context, actor, principalID, roleID types.ID) error

func (h *Handler) changeGrant(w http.ResponseWriter, r *http.Request, apply grantFunc) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	principalID, ok := pathID(w, r, "principalID")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}

	if err := apply(r.Context(), actor, principalID, roleID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, ok := auth.GetPrincipal(r.Context())
	if !ok {
		writeError(w, errors.Unauthorized("authentication required"))
	}
	return id, ok
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, param))
	if err != nil {
		writeError(w, errors.BadRequest("invalid "+param))
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := errors.As(err); ok && !errors.Is(err, errors.ErrInternal) {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":     appErr.Message,
			"code":      appErr.Code,
			"details":   appErr.Details,
			"offending": appErr.Offending,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error", "code": "INTERNAL_ERROR"})
}
