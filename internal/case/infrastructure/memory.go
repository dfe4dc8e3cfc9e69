package infrastructure

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/integrity-line/platform/internal/case/domain"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
)

// MemoryStore implements domain.Store in process memory. A transaction
// works on a copy of the state and publishes it only when fn succeeds, so
// readers never observe a partial write.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	cases         map[types.ID]domain.Case
	byNumber      map[types.CaseNumber]types.ID
	counters      map[int]int
	history       map[types.ID][]domain.HistoryEntry
	comments      map[types.ID][]domain.Comment
	assignments   map[types.ID][]domain.Assignment
	reassignments map[types.ID][]domain.Reassignment
	resolutions   map[types.ID]domain.Resolution
	attachments   map[types.ID][]domain.Attachment
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		cases:         make(map[types.ID]domain.Case),
		byNumber:      make(map[types.CaseNumber]types.ID),
		counters:      make(map[int]int),
		history:       make(map[types.ID][]domain.HistoryEntry),
		comments:      make(map[types.ID][]domain.Comment),
		assignments:   make(map[types.ID][]domain.Assignment),
		reassignments: make(map[types.ID][]domain.Reassignment),
		resolutions:   make(map[types.ID]domain.Resolution),
		attachments:   make(map[types.ID][]domain.Attachment),
	}}
}

func (s *memState) clone() *memState {
	out := &memState{
		cases:         make(map[types.ID]domain.Case, len(s.cases)),
		byNumber:      make(map[types.CaseNumber]types.ID, len(s.byNumber)),
		counters:      make(map[int]int, len(s.counters)),
		history:       cloneSlices(s.history),
		comments:      cloneSlices(s.comments),
		assignments:   cloneSlices(s.assignments),
		reassignments: cloneSlices(s.reassignments),
		resolutions:   make(map[types.ID]domain.Resolution, len(s.resolutions)),
		attachments:   cloneSlices(s.attachments),
	}
	for k, v := range s.cases {
		out.cases[k] = v
	}
	for k, v := range s.byNumber {
		out.byNumber[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	for k, v := range s.resolutions {
		out.resolutions[k] = v
	}
	return out
}

func cloneSlices[T any](in map[types.ID][]T) map[types.ID][]T {
	out := make(map[types.ID][]T, len(in))
	for k, v := range in {
		out[k] = append([]T(nil), v...)
	}
	return out
}

// WithinTx runs fn against a private copy of the state.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.find(id)
}

func (s *MemoryStore) FindByNumber(ctx context.Context, number types.CaseNumber) (*domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findByNumber(number)
}

func (s *MemoryStore) List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.Case
	for _, c := range s.state.cases {
		if s.state.matches(c, filter) {
			matched = append(matched, c)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if filter.OrderDesc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if filter.OrderDesc {
			return a.Number.String() > b.Number.String()
		}
		return a.Number.String() < b.Number.String()
	})

	total := len(matched)
	start := filter.Offset
	if start < 0 || start > total {
		start = total
	}
	end := start + filter.PageSize()
	if end > total {
		end = total
	}
	return append([]domain.Case(nil), matched[start:end]...), total, nil
}

func (s *memState) matches(c domain.Case, f domain.ListFilter) bool {
	if f.State != nil && c.State != *f.State {
		return false
	}
	if f.Priority != nil && (c.Priority == nil || *c.Priority != *f.Priority) {
		return false
	}
	if f.OrganizationID != "" && c.OrganizationID != f.OrganizationID {
		return false
	}
	if f.AssignedTo != nil {
		found := false
		for _, a := range s.assignments[c.ID] {
			if a.Active && a.PrincipalID == *f.AssignedTo {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(c.Subject), needle) &&
			!strings.Contains(strings.ToLower(c.Description), needle) &&
			!strings.Contains(strings.ToLower(c.Number.String()), needle) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) History(ctx context.Context, caseID types.ID) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.HistoryEntry{}, s.state.history[caseID]...), nil
}

func (s *MemoryStore) Comments(ctx context.Context, caseID types.ID) ([]domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Comment{}, s.state.comments[caseID]...), nil
}

func (s *MemoryStore) Assignments(ctx context.Context, caseID types.ID) ([]domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Assignment{}, s.state.assignments[caseID]...), nil
}

func (s *MemoryStore) Reassignments(ctx context.Context, caseID types.ID) ([]domain.Reassignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Reassignment{}, s.state.reassignments[caseID]...), nil
}

func (s *MemoryStore) Resolution(ctx context.Context, caseID types.ID) (*domain.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.state.resolutions[caseID]
	if !ok {
		return nil, errors.NotFound("resolution", caseID.String())
	}
	return &r, nil
}

func (s *MemoryStore) Attachments(ctx context.Context, caseID types.ID) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Attachment{}, s.state.attachments[caseID]...), nil
}

func (s *memState) find(id types.ID) (*domain.Case, error) {
	c, ok := s.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id.String())
	}
	return &c, nil
}

func (s *memState) findByNumber(number types.CaseNumber) (*domain.Case, error) {
	id, ok := s.byNumber[number]
	if !ok {
		return nil, errors.NotFound("case", number.String())
	}
	return s.find(id)
}

func (s *memState) requireCase(id types.ID) error {
	if _, ok := s.cases[id]; !ok {
		return errors.Validation("case references an unknown record", map[string]string{"case_id": id.String()})
	}
	return nil
}

// --- transaction ---

type memTx struct {
	st *memState
}

func (t *memTx) NextCaseNumber(ctx context.Context, year int) (types.CaseNumber, error) {
	next := t.st.counters[year] + 1
	if next > types.MaxCaseSequence {
		return types.CaseNumber{}, errors.Conflict("case numbers for this year are exhausted")
	}
	number, err := types.NewCaseNumber(year, next)
	if err != nil {
		return types.CaseNumber{}, errors.Validation(err.Error(), map[string]string{"year": "out of range"})
	}
	t.st.counters[year] = next
	return number, nil
}

func (t *memTx) InsertCase(ctx context.Context, c *domain.Case) error {
	if _, ok := t.st.cases[c.ID]; ok {
		return errors.Conflict("case already exists")
	}
	if _, ok := t.st.byNumber[c.Number]; ok {
		return errors.Conflict("case with this number already exists")
	}
	t.st.cases[c.ID] = *c
	t.st.byNumber[c.Number] = c.ID
	return nil
}

func (t *memTx) LockCase(ctx context.Context, id types.ID) (*domain.Case, error) {
	return t.st.find(id)
}

func (t *memTx) LockCaseByNumber(ctx context.Context, number types.CaseNumber) (*domain.Case, error) {
	return t.st.findByNumber(number)
}

func (t *memTx) UpdateCase(ctx context.Context, c *domain.Case) error {
	current, ok := t.st.cases[c.ID]
	if !ok {
		return errors.NotFound("case", c.ID.String())
	}
	current.State = c.State
	current.Priority = c.Priority
	current.SatisfactionScore = c.SatisfactionScore
	current.UpdatedAt = c.UpdatedAt
	t.st.cases[c.ID] = current
	return nil
}

func (t *memTx) AppendHistory(ctx context.Context, h domain.HistoryEntry) error {
	if err := t.st.requireCase(h.CaseID); err != nil {
		return err
	}
	t.st.history[h.CaseID] = append(t.st.history[h.CaseID], h)
	return nil
}

func (t *memTx) HasResolution(ctx context.Context, caseID types.ID) (bool, error) {
	_, ok := t.st.resolutions[caseID]
	return ok, nil
}

func (t *memTx) RecordResolution(ctx context.Context, r domain.Resolution) error {
	if err := t.st.requireCase(r.CaseID); err != nil {
		return err
	}
	if _, ok := t.st.resolutions[r.CaseID]; ok {
		return errors.Conflict("resolution already exists")
	}
	t.st.resolutions[r.CaseID] = r
	return nil
}

func (t *memTx) RecordAttachment(ctx context.Context, a domain.Attachment) error {
	if err := t.st.requireCase(a.CaseID); err != nil {
		return err
	}
	t.st.attachments[a.CaseID] = append(t.st.attachments[a.CaseID], a)
	return nil
}

func (t *memTx) ActiveAssignments(ctx context.Context, caseID types.ID) ([]domain.Assignment, error) {
	var out []domain.Assignment
	for _, a := range t.st.assignments[caseID] {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memTx) SaveAssignment(ctx context.Context, a domain.Assignment) error {
	if err := t.st.requireCase(a.CaseID); err != nil {
		return err
	}
	rows := t.st.assignments[a.CaseID]
	for i := range rows {
		if rows[i].PrincipalID == a.PrincipalID {
			rows[i] = a
			return nil
		}
	}
	t.st.assignments[a.CaseID] = append(rows, a)
	return nil
}

func (t *memTx) AppendReassignment(ctx context.Context, r domain.Reassignment) error {
	if err := t.st.requireCase(r.CaseID); err != nil {
		return err
	}
	t.st.reassignments[r.CaseID] = append(t.st.reassignments[r.CaseID], r)
	return nil
}

func (t *memTx) InsertComment(ctx context.Context, c domain.Comment) error {
	if err := t.st.requireCase(c.CaseID); err != nil {
		return err
	}
	t.st.comments[c.CaseID] = append(t.st.comments[c.CaseID], c)
	return nil
}
