package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/integrity-line/platform/internal/case/domain"
	"github.com/integrity-line/platform/internal/case/service"
	"github.com/integrity-line/platform/internal/shared/auth"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
)

// Handler provides HTTP handlers for cases
type Handler struct {
	cases *service.Service
}

// NewHandler creates a new case handler
func NewHandler(cases *service.Service) *Handler {
	return &Handler{cases: cases}
}

// PublicRoutes registers the reporter-facing routes. They carry no
// authentication; every call past submission presents the case number and
// access code.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Submit)
	r.Post("/lookup", h.Lookup)
	r.Post("/comments", h.ReporterComment)
	r.Post("/attachments", h.ReporterAttachment)
	r.Post("/rating", h.Rate)

	return r
}

// Routes registers the staff routes. Every route expects an authenticated
// principal; permission checks happen in the service.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListCases)
	r.Post("/", h.CreateCase)

	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.GetCase)
		r.Post("/transitions", h.Transition)
		r.Put("/priority", h.SetPriority)

		r.Get("/resolution", h.GetResolution)
		r.Post("/resolution", h.RecordResolution)
		r.Get("/history", h.History)

		r.Get("/comments", h.ListComments)
		r.Post("/comments", h.AddComment)

		r.Get("/assignments", h.ListAssignments)
		r.Post("/assignments", h.Assign)
		r.Delete("/assignments/{principalID}", h.Unassign)
		r.Get("/custody", h.ChainOfCustody)

		r.Get("/attachments", h.ListAttachments)
	})

	return r
}

// --- Request types ---

// CredentialRequest identifies a case from the reporter's side
type CredentialRequest struct {
	CaseNumber string `json:"case_number"`
	AccessCode string `json:"access_code"`
}

type ReporterCommentRequest struct {
	CredentialRequest
	Name    string `json:"name"`
	Email   string `json:"email"`
	Content string `json:"content"`
}

type ReporterAttachmentRequest struct {
	CredentialRequest
	domain.AttachmentInput
}

type RatingRequest struct {
	CredentialRequest
	Score int `json:"score"`
}

type TransitionRequest struct {
	To         string                  `json:"to"`
	Reason     string                  `json:"reason,omitempty"`
	Resolution *domain.ResolutionInput `json:"resolution,omitempty"`
}

type PriorityRequest struct {
	Priority string `json:"priority"`
}

// CommentRequest accepts either a visibility tier or the older
// is_internal/analyst_only flags.
type CommentRequest struct {
	Content     string `json:"content"`
	Visibility  string `json:"visibility,omitempty"`
	IsInternal  bool   `json:"is_internal,omitempty"`
	AnalystOnly bool   `json:"analyst_only,omitempty"`
}

func (req CommentRequest) visibility() domain.Visibility {
	if req.Visibility != "" {
		return domain.Visibility(req.Visibility)
	}
	return domain.VisibilityFromLegacy(req.IsInternal, req.AnalystOnly)
}

type AssignRequest struct {
	PrincipalID types.ID `json:"principal_id"`
	Replace     bool     `json:"replace,omitempty"`
}

// CaseResponse is a case with the states it can move to next.
type CaseResponse struct {
	*domain.Case
	AllowedTransitions []domain.State `json:"allowed_transitions"`
}

// --- Public handlers ---

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.NewCaseInput
	if !decode(w, r, &req) {
		return
	}

	created, err := h.cases.Create(r.Context(), req, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"case_number": created.Case.Number,
		"access_code": created.Secret.Reveal(),
	})
}

func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if !decode(w, r, &req) {
		return
	}

	status, err := h.cases.PublicStatus(r.Context(), req.CaseNumber, req.AccessCode)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) ReporterComment(w http.ResponseWriter, r *http.Request) {
	var req ReporterCommentRequest
	if !decode(w, r, &req) {
		return
	}

	_, err := h.cases.AddReporterComment(r.Context(), req.CaseNumber, req.AccessCode, req.Name, req.Email, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReporterAttachment(w http.ResponseWriter, r *http.Request) {
	var req ReporterAttachmentRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.cases.AddReporterAttachment(r.Context(), req.CaseNumber, req.AccessCode, req.AttachmentInput)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"file_name":  a.FileName,
		"created_at": a.CreatedAt,
	})
}

func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	var req RatingRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.cases.Rate(r.Context(), req.CaseNumber, req.AccessCode, req.Score); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Staff handlers ---

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	cases, total, err := h.cases.List(r.Context(), filter, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":   cases,
		"total":  total,
		"limit":  filter.PageSize(),
		"offset": filter.Offset,
	})
}

func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req domain.NewCaseInput
	if !decode(w, r, &req) {
		return
	}

	created, err := h.cases.Create(r.Context(), req, &actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"case":        created.Case,
		"case_number": created.Case.Number,
		"access_code": created.Secret.Reveal(),
	})
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	c, err := h.cases.Get(r.Context(), caseID, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	next := c.State.Targets()
	if next == nil {
		next = []domain.State{}
	}
	writeJSON(w, http.StatusOK, CaseResponse{Case: c, AllowedTransitions: next})
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := h.cases.Transition(r.Context(), service.TransitionRequest{
		CaseID:     caseID,
		To:         domain.State(req.To),
		Actor:      domain.StaffActor(actor),
		Reason:     req.Reason,
		Resolution: req.Resolution,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) SetPriority(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	var req PriorityRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := h.cases.SetPriority(r.Context(), caseID, domain.Priority(req.Priority), actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) GetResolution(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	res, err := h.cases.Resolution(r.Context(), caseID, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RecordResolution(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	var req domain.ResolutionInput
	if !decode(w, r, &req) {
		return
	}

	res, err := h.cases.RecordResolution(r.Context(), caseID, req, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	entries, err := h.cases.History(r.Context(), caseID, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": len(entries),
	})
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	comments, err := h.cases.Comments(r.Context(), caseID, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  comments,
		"total": len(comments),
	})
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	var req CommentRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := h.cases.AddStaffComment(r.Context(), caseID, req.Content, req.visibility(), actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	assignments, err := h.cases.Assignments(r.Context(), caseID, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  assignments,
		"total": len(assignments),
	})
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PrincipalID.IsZero() {
		writeError(w, errors.Validation("principal_id is required", map[string]string{"principal_id": "required"}))
		return
	}

	a, err := h.cases.Assign(r.Context(), caseID, req.PrincipalID, actor, req.Replace)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}
	assigneeID, ok := pathID(w, r, "principalID")
	if !ok {
		return
	}

	if err := h.cases.Deactivate(r.Context(), caseID, assigneeID, actor); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChainOfCustody(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	chain, err := h.cases.ChainOfCustody(r.Context(), caseID, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  chain,
		"total": len(chain),
	})
}

func (h *Handler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	actor, caseID, ok := principalAndCase(w, r)
	if !ok {
		return
	}

	attachments, err := h.cases.Attachments(r.Context(), caseID, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  attachments,
		"total": len(attachments),
	})
}

// --- Helpers ---

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{
		OrganizationID: q.Get("organization_id"),
		Search:         q.Get("search"),
		OrderDesc:      q.Get("order") == "desc",
	}

	if s := q.Get("state"); s != "" {
		state, ok := domain.ParseState(s)
		if !ok {
			return filter, errors.BadRequest("invalid state")
		}
		filter.State = &state
	}

	if p := q.Get("priority"); p != "" {
		priority := domain.Priority(p)
		if !priority.Valid() {
			return filter, errors.BadRequest("invalid priority")
		}
		filter.Priority = &priority
	}

	if a := q.Get("assigned_to"); a != "" {
		id, err := types.ParseID(a)
		if err != nil {
			return filter, errors.BadRequest("invalid assigned_to")
		}
		filter.AssignedTo = &id
	}

	for param, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.BadRequest("invalid " + param)
		}
		*dst = n
	}

	return filter, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return false
	}
	return true
}

func principalAndCase(w http.ResponseWriter, r *http.Request) (types.ID, types.ID, bool) {
	actor, ok := requirePrincipal(w, r)
	if !ok {
		return "", "", false
	}
	caseID, ok := pathID(w, r, "caseID")
	if !ok {
		return "", "", false
	}
	return actor, caseID, true
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
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error", "code": "INTERNAL_ERROR"})
}
