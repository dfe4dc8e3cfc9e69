package infrastructure

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
)

// MemoryStore implements domain.Store in process memory. Transactions work
// on a copy of the state that replaces the live one only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type grantKey struct {
	principalID types.ID
	roleID      types.ID
}

type memState struct {
	catalog    map[domain.Permission]string
	archetypes map[types.ID]domain.Archetype
	roles      map[types.ID]domain.Role
	principals map[types.ID]domain.Principal
	grants     map[grantKey]domain.RoleGrant
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		catalog:    make(map[domain.Permission]string),
		archetypes: make(map[types.ID]domain.Archetype),
		roles:      make(map[types.ID]domain.Role),
		principals: make(map[types.ID]domain.Principal),
		grants:     make(map[grantKey]domain.RoleGrant),
	}}
}

func (s *memState) clone() *memState {
	out := &memState{
		catalog:    make(map[domain.Permission]string, len(s.catalog)),
		archetypes: make(map[types.ID]domain.Archetype, len(s.archetypes)),
		roles:      make(map[types.ID]domain.Role, len(s.roles)),
		principals: make(map[types.ID]domain.Principal, len(s.principals)),
		grants:     make(map[grantKey]domain.RoleGrant, len(s.grants)),
	}
	for k, v := range s.catalog {
		out.catalog[k] = v
	}
	for k, v := range s.archetypes {
		out.archetypes[k] = copyArchetype(v)
	}
	for k, v := range s.roles {
		out.roles[k] = copyRole(v)
	}
	for k, v := range s.principals {
		out.principals[k] = v
	}
	for k, v := range s.grants {
		out.grants[k] = v
	}
	return out
}

func copyArchetype(a domain.Archetype) domain.Archetype {
	a.Permissions = a.Permissions.Clone()
	return a
}

func copyRole(r domain.Role) domain.Role {
	r.Permissions = r.Permissions.Clone()
	return r
}

// WithinTx runs fn against a private copy of the state and publishes the
// copy only when fn succeeds.
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

func (s *MemoryStore) GetArchetype(ctx context.Context, id types.ID) (*domain.Archetype, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.archetype(id)
}

func (s *MemoryStore) ListArchetypes(ctx context.Context) ([]domain.Archetype, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Archetype, 0, len(s.state.archetypes))
	for _, a := range s.state.archetypes {
		out = append(out, copyArchetype(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) GetRole(ctx context.Context, id types.ID) (*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.role(id)
}

func (s *MemoryStore) ListRoles(ctx context.Context) ([]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Role, 0, len(s.state.roles))
	for _, r := range s.state.roles {
		out = append(out, copyRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) GetPrincipal(ctx context.Context, id types.ID) (*domain.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.principal(id)
}

func (s *MemoryStore) GrantedRoles(ctx context.Context, principalID types.ID) ([]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Role
	for key := range s.state.grants {
		if key.principalID != principalID {
			continue
		}
		if r, ok := s.state.roles[key.roleID]; ok {
			out = append(out, copyRole(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memState) archetype(id types.ID) (*domain.Archetype, error) {
	a, ok := s.archetypes[id]
	if !ok {
		return nil, errors.NotFound("archetype", id.String())
	}
	a = copyArchetype(a)
	return &a, nil
}

func (s *memState) role(id types.ID) (*domain.Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return nil, errors.NotFound("role", id.String())
	}
	r = copyRole(r)
	return &r, nil
}

func (s *memState) principal(id types.ID) (*domain.Principal, error) {
	p, ok := s.principals[id]
	if !ok {
		return nil, errors.NotFound("principal", id.String())
	}
	p.RoleIDs = nil
	for key := range s.grants {
		if key.principalID == id {
			p.RoleIDs = append(p.RoleIDs, key.roleID)
		}
	}
	sort.Slice(p.RoleIDs, func(i, j int) bool { return p.RoleIDs[i] < p.RoleIDs[j] })
	return &p, nil
}

type memTx struct {
	st *memState
}

func (t *memTx) SyncCatalog(ctx context.Context, entries []domain.CatalogEntry) error {
	for _, e := range entries {
		t.st.catalog[e.Code] = e.Description
	}
	return nil
}

func (t *memTx) LockArchetype(ctx context.Context, id types.ID) (*domain.Archetype, error) {
	return t.st.archetype(id)
}

func (t *memTx) FindArchetypeByCode(ctx context.Context, code string) (*domain.Archetype, error) {
	for _, a := range t.st.archetypes {
		if a.Code == code {
			a = copyArchetype(a)
			return &a, nil
		}
	}
	return nil, errors.NotFound("archetype", code)
}

func (t *memTx) SaveArchetype(ctx context.Context, a *domain.Archetype) error {
	for id, existing := range t.st.archetypes {
		if existing.Code == a.Code && id != a.ID {
			return errors.Conflict("archetype with this code already exists")
		}
	}
	if err := t.checkCatalog(a.Permissions); err != nil {
		return err
	}
	t.st.archetypes[a.ID] = copyArchetype(*a)
	return nil
}

func (t *memTx) GetRole(ctx context.Context, id types.ID) (*domain.Role, error) {
	return t.st.role(id)
}

func (t *memTx) LockRole(ctx context.Context, id types.ID) (*domain.Role, error) {
	return t.st.role(id)
}

func (t *memTx) LockRolesByArchetype(ctx context.Context, archetypeID types.ID) ([]domain.Role, error) {
	var out []domain.Role
	for _, r := range t.st.roles {
		if r.ArchetypeID == archetypeID {
			out = append(out, copyRole(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *memTx) FindRoleByCode(ctx context.Context, code string) (*domain.Role, error) {
	for _, r := range t.st.roles {
		if r.Code == code {
			r = copyRole(r)
			return &r, nil
		}
	}
	return nil, errors.NotFound("role", code)
}

func (t *memTx) SaveRole(ctx context.Context, r *domain.Role) error {
	if _, ok := t.st.archetypes[r.ArchetypeID]; !ok {
		return errors.NotFound("archetype", r.ArchetypeID.String())
	}
	for id, existing := range t.st.roles {
		if existing.Code == r.Code && id != r.ID {
			return errors.Conflict("role with this code already exists")
		}
	}
	if err := t.checkCatalog(r.Permissions); err != nil {
		return err
	}
	t.st.roles[r.ID] = copyRole(*r)
	return nil
}

func (t *memTx) GetPrincipal(ctx context.Context, id types.ID) (*domain.Principal, error) {
	return t.st.principal(id)
}

func (t *memTx) FindPrincipalByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	for id, p := range t.st.principals {
		if strings.EqualFold(p.Email, email) {
			return t.st.principal(id)
		}
	}
	return nil, errors.NotFound("principal", email)
}

func (t *memTx) SavePrincipal(ctx context.Context, p *domain.Principal) error {
	for id, existing := range t.st.principals {
		if strings.EqualFold(existing.Email, p.Email) && id != p.ID {
			return errors.Conflict("principal with this email already exists")
		}
	}
	stored := *p
	stored.RoleIDs = nil
	t.st.principals[p.ID] = stored
	return nil
}

func (t *memTx) GrantRole(ctx context.Context, g domain.RoleGrant) error {
	if _, ok := t.st.principals[g.PrincipalID]; !ok {
		return errors.NotFound("principal", g.PrincipalID.String())
	}
	if _, ok := t.st.roles[g.RoleID]; !ok {
		return errors.NotFound("role", g.RoleID.String())
	}
	key := grantKey{principalID: g.PrincipalID, roleID: g.RoleID}
	if _, exists := t.st.grants[key]; !exists {
		t.st.grants[key] = g
	}
	return nil
}

func (t *memTx) RevokeRole(ctx context.Context, principalID, roleID types.ID) error {
	key := grantKey{principalID: principalID, roleID: roleID}
	if _, ok := t.st.grants[key]; !ok {
		return errors.NotFound("role grant", roleID.String())
	}
	delete(t.st.grants, key)
	return nil
}

// checkCatalog mirrors the foreign key from the permission join tables.
func (t *memTx) checkCatalog(set domain.PermissionSet) error {
	for p := range set {
		if _, ok := t.st.catalog[p]; !ok {
			return errors.Validation("permission is not in the catalog", map[string]string{"permission": string(p)})
		}
	}
	return nil
}
