package domain

import (
	"context"

	"github.com/integrity-line/platform/internal/shared/types"
)

// Store defines case persistence. Reads see committed state; every mutation
// goes through WithinTx, which commits only when fn returns nil.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	FindByID(ctx context.Context, id types.ID) (*Case, error)
	FindByNumber(ctx context.Context, number types.CaseNumber) (*Case, error)
	List(ctx context.Context, filter ListFilter) ([]Case, int, error)

	History(ctx context.Context, caseID types.ID) ([]HistoryEntry, error)
	Comments(ctx context.Context, caseID types.ID) ([]Comment, error)
	Assignments(ctx context.Context, caseID types.ID) ([]Assignment, error)
	Reassignments(ctx context.Context, caseID types.ID) ([]Reassignment, error)
	Resolution(ctx context.Context, caseID types.ID) (*Resolution, error)
	Attachments(ctx context.Context, caseID types.ID) ([]Attachment, error)
}

// Tx is the transactional view of the store. LockCase holds the case row
// until the transaction ends. The credential columns are written once by
// InsertCase and by nothing else.
type Tx interface {
	NextCaseNumber(ctx context.Context, year int) (types.CaseNumber, error)
	InsertCase(ctx context.Context, c *Case) error
	LockCase(ctx context.Context, id types.ID) (*Case, error)
	LockCaseByNumber(ctx context.Context, number types.CaseNumber) (*Case, error)
	// UpdateCase writes state, priority, satisfaction score and updated_at.
	UpdateCase(ctx context.Context, c *Case) error
	AppendHistory(ctx context.Context, h HistoryEntry) error

	HasResolution(ctx context.Context, caseID types.ID) (bool, error)
	RecordResolution(ctx context.Context, r Resolution) error
	RecordAttachment(ctx context.Context, a Attachment) error

	ActiveAssignments(ctx context.Context, caseID types.ID) ([]Assignment, error)
	SaveAssignment(ctx context.Context, a Assignment) error
	AppendReassignment(ctx context.Context, r Reassignment) error

	InsertComment(ctx context.Context, c Comment) error
}

// ListFilter defines filters for listing cases
type ListFilter struct {
	State          *State    `json:"state,omitempty"`
	Priority       *Priority `json:"priority,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	AssignedTo     *types.ID `json:"assigned_to,omitempty"`
	Search         string    `json:"search,omitempty"`
	Limit          int       `json:"limit,omitempty"`
	Offset         int       `json:"offset,omitempty"`
	OrderDesc      bool      `json:"order_desc,omitempty"`
}

// Page limits
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// PageSize clamps the requested limit.
func (f ListFilter) PageSize() int {
	if f.Limit <= 0 || f.Limit > MaxPageSize {
		return DefaultPageSize
	}
	return f.Limit
}
