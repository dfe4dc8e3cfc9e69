package domain

import (
	"context"

	"github.com/integrity-line/platform/internal/shared/types"
)

// Store persists the authorization model. Reads see committed state;
// mutations run inside WithinTx, which commits only when fn returns nil.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetArchetype(ctx context.Context, id types.ID) (*Archetype, error)
	ListArchetypes(ctx context.Context) ([]Archetype, error)
	GetRole(ctx context.Context, id types.ID) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetPrincipal(ctx context.Context, id types.ID) (*Principal, error)

	// GrantedRoles returns the roles held by a principal.
	GrantedRoles(ctx context.Context, principalID types.ID) ([]Role, error)
}

// Tx is the transactional view of the store. Lock methods hold the row
// until the transaction ends; callers lock archetypes before roles.
type Tx interface {
	SyncCatalog(ctx context.Context, entries []CatalogEntry) error

	LockArchetype(ctx context.Context, id types.ID) (*Archetype, error)
	FindArchetypeByCode(ctx context.Context, code string) (*Archetype, error)
	SaveArchetype(ctx context.Context, a *Archetype) error

	GetRole(ctx context.Context, id types.ID) (*Role, error)
	LockRole(ctx context.Context, id types.ID) (*Role, error)
	LockRolesByArchetype(ctx context.Context, archetypeID types.ID) ([]Role, error)
	FindRoleByCode(ctx context.Context, code string) (*Role, error)
	SaveRole(ctx context.Context, r *Role) error

	GetPrincipal(ctx context.Context, id types.ID) (*Principal, error)
	FindPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	SavePrincipal(ctx context.Context, p *Principal) error
	GrantRole(ctx context.Context, g RoleGrant) error
	RevokeRole(ctx context.Context, principalID, roleID types.ID) error
}
