package domain

import (
	"strings"
	"time"

	accessdomain "github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
)

// Actor performs a case operation: a staff principal or the system.
type Actor struct {
	PrincipalID types.ID
	System      bool
}

// SystemActor drives automated transitions.
var SystemActor = Actor{System: true}

// StaffActor wraps a principal ID.
func StaffActor(id types.ID) Actor {
	return Actor{PrincipalID: id}
}

// Ref is the principal recorded on history rows; nil for the system.
func (a Actor) Ref() *types.ID {
	if a.System {
		return nil
	}
	return a.PrincipalID.Ptr()
}

// Viewer is whoever reads case data. The zero Viewer is a public viewer,
// such as a reporter holding a valid credential.
type Viewer struct {
	PrincipalID types.ID
	Permissions accessdomain.PermissionSet
}

// PublicViewer returns the viewer for unauthenticated access.
func PublicViewer() Viewer {
	return Viewer{}
}

// IsStaff reports whether the viewer is an authenticated principal.
func (v Viewer) IsStaff() bool {
	return !v.PrincipalID.IsZero()
}

// Can reports whether a staff viewer holds p. Public viewers hold nothing.
func (v Viewer) Can(p accessdomain.Permission) bool {
	return v.IsStaff() && v.Permissions.Contains(p)
}

// HistoryEntry records one state transition. Entries are append-only.
type HistoryEntry struct {
	ID        types.ID  `json:"id"`
	CaseID    types.ID  `json:"case_id"`
	FromState *State    `json:"from_state,omitempty"`
	ToState   State     `json:"to_state"`
	ChangedBy *types.ID `json:"changed_by,omitempty"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Visibility is the readability tier of a comment
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
	VisibilityAnalyst  Visibility = "analyst"
)

// ParseVisibility maps a tier name to a Visibility.
func ParseVisibility(s string) (Visibility, bool) {
	v := Visibility(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case VisibilityPublic, VisibilityInternal, VisibilityAnalyst:
		return v, true
	}
	return "", false
}

// Permission is what it takes to read, and to write, a tier. Public
// comments are readable by anyone; writing them needs comment.public.
func (v Visibility) Permission() accessdomain.Permission {
	switch v {
	case VisibilityInternal:
		return accessdomain.PermCommentInternal
	case VisibilityAnalyst:
		return accessdomain.PermCommentAnalyst
	default:
		return accessdomain.PermCommentPublic
	}
}

// VisibilityFromLegacy maps the old boolean flags onto the tiers. A set
// internal flag never yields public.
func VisibilityFromLegacy(isInternal, analystOnly bool) Visibility {
	switch {
	case analystOnly:
		return VisibilityAnalyst
	case isInternal:
		return VisibilityInternal
	default:
		return VisibilityPublic
	}
}

// Comment is an immutable note on a case
type Comment struct {
	ID                 types.ID   `json:"id"`
	CaseID             types.ID   `json:"case_id"`
	AuthorPrincipalID  *types.ID  `json:"author_principal_id,omitempty"`
	AuthorName         *string    `json:"author_name,omitempty"`
	AuthorEmail        *string    `json:"author_email,omitempty"`
	Content            string     `json:"content"`
	Visibility         Visibility `json:"visibility"`
	AuthorRoleSnapshot *string    `json:"author_role_snapshot,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// VisibleTo decides whether viewer may read c. Public viewers only ever see
// public comments; unknown tiers are visible to nobody.
func VisibleTo(c Comment, viewer Viewer) bool {
	switch c.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityInternal, VisibilityAnalyst:
		return viewer.Can(c.Visibility.Permission())
	default:
		return false
	}
}

// FilterVisible keeps the comments viewer may read, in order.
func FilterVisible(comments []Comment, viewer Viewer) []Comment {
	out := make([]Comment, 0, len(comments))
	for _, c := range comments {
		if VisibleTo(c, viewer) {
			out = append(out, c)
		}
	}
	return out
}

// RedactReporter drops the contact details of a reporter comment. Staff
// comments keep their author.
func (c Comment) RedactReporter() Comment {
	if c.AuthorPrincipalID == nil {
		c.AuthorName = nil
		c.AuthorEmail = nil
	}
	return c
}

const maxCommentLength = 10000

// ValidateContent checks comment text.
func ValidateContent(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.Validation("content is required", map[string]string{"content": "required"})
	}
	if len(content) > maxCommentLength {
		return errors.Validation("content is too long", map[string]string{"content": "too long"})
	}
	return nil
}

// Assignment links a principal to a case. (CaseID, PrincipalID) is unique;
// deactivated rows stay as history.
type Assignment struct {
	CaseID      types.ID  `json:"case_id"`
	PrincipalID types.ID  `json:"principal_id"`
	AssignedBy  types.ID  `json:"assigned_by"`
	Active      bool      `json:"active"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// Reassignment is one link in a case's chain of custody. From is nil when
// the assignee did not replace anyone, To is nil when the assignee was
// released.
type Reassignment struct {
	ID              types.ID  `json:"id"`
	CaseID          types.ID  `json:"case_id"`
	FromPrincipalID *types.ID `json:"from_principal_id,omitempty"`
	ToPrincipalID   *types.ID `json:"to_principal_id,omitempty"`
	ReassignedBy    types.ID  `json:"reassigned_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// Resolution documents the outcome of a case. At most one per case.
type Resolution struct {
	CaseID      types.ID  `json:"case_id"`
	Content     string    `json:"content"`
	DocumentRef *string   `json:"document_ref,omitempty"`
	ResolvedBy  types.ID  `json:"resolved_by"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// ResolutionInput is the caller-supplied part of a Resolution.
type ResolutionInput struct {
	Content     string `json:"content"`
	DocumentRef string `json:"document_ref,omitempty"`
}

// Validate checks the resolution text.
func (in ResolutionInput) Validate() error {
	if strings.TrimSpace(in.Content) == "" {
		return errors.Validation("resolution content is required", map[string]string{"content": "required"})
	}
	return nil
}

// Attachment records that a file exists for a case. Bytes live elsewhere.
type Attachment struct {
	ID          types.ID  `json:"id"`
	CaseID      types.ID  `json:"case_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	StorageRef  string    `json:"storage_ref"`
	UploadedBy  *types.ID `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AttachmentInput is the metadata a caller supplies.
type AttachmentInput struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	StorageRef  string `json:"storage_ref"`
}

// Validate checks attachment metadata.
func (in AttachmentInput) Validate() error {
	details := make(map[string]string)
	if strings.TrimSpace(in.FileName) == "" {
		details["file_name"] = "required"
	}
	if strings.TrimSpace(in.ContentType) == "" {
		details["content_type"] = "required"
	}
	if strings.TrimSpace(in.StorageRef) == "" {
		details["storage_ref"] = "required"
	}
	if in.SizeBytes < 0 {
		details["size_bytes"] = "must not be negative"
	}
	if len(details) > 0 {
		return errors.Validation("invalid attachment", details)
	}
	return nil
}
