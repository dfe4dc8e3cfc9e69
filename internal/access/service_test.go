package access

import (
	"context"
	"sync"
	"testing"

	"github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/access/infrastructure"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *infrastructure.MemoryStore
	model *Model
	seed  *SeedResult
	admin types.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := infrastructure.NewMemoryStore()
	res, err := Seed(context.Background(), store, SeedConfig{AdminEmail: "Admin@Example.org"}, nil)
	require.NoError(t, err)
	return &fixture{store: store, model: NewModel(store, nil), seed: res, admin: res.AdminID}
}

func (f *fixture) principal(t *testing.T, email string, roleCodes ...string) types.ID {
	t.Helper()
	ctx := context.Background()
	p, err := f.model.CreatePrincipal(ctx, f.admin, CreatePrincipalInput{Email: email, Name: email})
	require.NoError(t, err)
	for _, code := range roleCodes {
		require.NoError(t, f.model.GrantRole(ctx, f.admin, p.ID, f.seed.RoleIDs[code]))
	}
	return p.ID
}

func TestSeedIsRepeatable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	again, err := Seed(ctx, f.store, SeedConfig{AdminEmail: "admin@example.org"}, nil)
	require.NoError(t, err)
	assert.Equal(t, f.seed.ArchetypeIDs, again.ArchetypeIDs)
	assert.Equal(t, f.seed.RoleIDs, again.RoleIDs)
	assert.Equal(t, f.admin, again.AdminID)

	archetypes, err := f.model.ListArchetypes(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, archetypes, 3)
	assert.Equal(t, []string{"administrator", "auditor", "supervisor"},
		[]string{archetypes[0].Code, archetypes[1].Code, archetypes[2].Code})

	roles, err := f.model.ListRoles(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, roles, 3)
}

func TestSeedKeepsEditedArchetypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	auditorRole := f.seed.RoleIDs["auditor"]
	_, err := f.model.SetRolePermissions(ctx, f.admin, auditorRole, []string{"case.read"})
	require.NoError(t, err)

	_, err = Seed(ctx, f.store, SeedConfig{}, nil)
	require.NoError(t, err)

	r, err := f.model.GetRole(ctx, f.admin, auditorRole)
	require.NoError(t, err)
	assert.Equal(t, []string{"case.read"}, r.Permissions.Codes())
}

func TestSeedRejectsInvalidAdminEmail(t *testing.T) {
	_, err := Seed(context.Background(), infrastructure.NewMemoryStore(), SeedConfig{AdminEmail: "nope"}, nil)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestHasPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, entry := range domain.Catalog() {
		ok, err := f.model.HasPermission(ctx, f.admin, entry.Code)
		require.NoError(t, err)
		assert.True(t, ok, entry.Code)
	}

	auditor := f.principal(t, "auditor@example.org", "auditor")
	ok, err := f.model.HasPermission(ctx, auditor, domain.PermAuditRead)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.model.HasPermission(ctx, auditor, domain.PermCaseClose)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.model.HasPermission(ctx, types.NewID(), domain.PermCaseRead)
	require.NoError(t, err)
	assert.False(t, ok, "unknown principals hold nothing")
}

func TestResolveUnionsRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.principal(t, "both@example.org", "auditor", "case_supervisor")
	principal, perms, err := f.model.Resolve(ctx, p)
	require.NoError(t, err)
	assert.Len(t, principal.RoleIDs, 2)
	assert.True(t, perms.Contains(domain.PermAuditRead))
	assert.True(t, perms.Contains(domain.PermCaseClose))
	assert.False(t, perms.Contains(domain.PermRoleManage))

	expected := domain.NewPermissionSet(domain.Templates()[1].Permissions...).
		Union(domain.NewPermissionSet(domain.Templates()[2].Permissions...))
	assert.Equal(t, expected.Sorted(), perms.Sorted())
}

func TestInactivePrincipalHoldsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.principal(t, "leaver@example.org", "case_supervisor")
	_, err := f.model.SetPrincipalActive(ctx, f.admin, p, false)
	require.NoError(t, err)

	ok, err := f.model.HasPermission(ctx, p, domain.PermCaseRead)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.model.SetPrincipalActive(ctx, f.admin, f.admin, false)
	assert.ErrorIs(t, err, errors.ErrConflict)
}

func TestAdminOperationsArePermissionGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auditor := f.principal(t, "auditor@example.org", "auditor")

	_, err := f.model.CreateArchetype(ctx, auditor, CreateArchetypeInput{Code: "x", Name: "X"})
	assert.ErrorIs(t, err, errors.ErrForbidden)

	_, err = f.model.SetRolePermissions(ctx, auditor, f.seed.RoleIDs["auditor"], []string{"audit.read"})
	assert.ErrorIs(t, err, errors.ErrForbidden)

	err = f.model.GrantRole(ctx, auditor, auditor, f.seed.RoleIDs["admin"])
	assert.ErrorIs(t, err, errors.ErrForbidden)

	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "access.principal.manage", appErr.Details["permission"])
}

// Role R under archetype A {X,Y} asks for {X,Y,Z}: rejected with {Z} and the
// stored set stays {X,Y}.
func TestSetRolePermissionsRejectsSuperset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.model.CreateArchetype(ctx, f.admin, CreateArchetypeInput{
		Code:        "a",
		Name:        "A",
		Permissions: []string{"case.read", "case.triage"},
	})
	require.NoError(t, err)

	r, err := f.model.CreateRole(ctx, f.admin, CreateRoleInput{ArchetypeID: a.ID, Code: "r", Name: "R"})
	require.NoError(t, err)
	assert.Equal(t, []string{"case.read", "case.triage"}, r.Permissions.Codes())

	_, err = f.model.SetRolePermissions(ctx, f.admin, r.ID, []string{"case.read", "case.triage", "case.close"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidPermissionSubset)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"case.close"}, appErr.Offending)

	stored, err := f.model.GetRole(ctx, f.admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"case.read", "case.triage"}, stored.Permissions.Codes())

	updated, err := f.model.SetRolePermissions(ctx, f.admin, r.ID, []string{"case.triage"})
	require.NoError(t, err)
	assert.Equal(t, []string{"case.triage"}, updated.Permissions.Codes())
}

func TestCreateRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supervisor := f.seed.ArchetypeIDs["supervisor"]

	t.Run("explicit subset", func(t *testing.T) {
		perms := []string{"case.read", "comment.internal"}
		r, err := f.model.CreateRole(ctx, f.admin, CreateRoleInput{
			ArchetypeID: supervisor, Code: "triager", Name: "Triager", Permissions: &perms,
		})
		require.NoError(t, err)
		assert.Equal(t, perms, r.Permissions.Codes())
	})

	t.Run("empty subset is kept empty", func(t *testing.T) {
		perms := []string{}
		r, err := f.model.CreateRole(ctx, f.admin, CreateRoleInput{
			ArchetypeID: supervisor, Code: "observer", Name: "Observer", Permissions: &perms,
		})
		require.NoError(t, err)
		assert.Empty(t, r.Permissions)
	})

	t.Run("subset outside archetype", func(t *testing.T) {
		perms := []string{"case.read", "access.role.manage"}
		_, err := f.model.CreateRole(ctx, f.admin, CreateRoleInput{
			ArchetypeID: supervisor, Code: "sneaky", Name: "Sneaky", Permissions: &perms,
		})
		appErr, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, []string{"access.role.manage"}, appErr.Offending)

		roles, err := f.model.ListRoles(ctx, f.admin)
		require.NoError(t, err)
		for _, r := range roles {
			assert.NotEqual(t, "sneaky", r.Code)
		}
	})

	t.Run("duplicate code", func(t *testing.T) {
		_, err := f.model.CreateRole(ctx, f.admin, CreateRoleInput{ArchetypeID: supervisor, Code: "triager", Name: "Again"})
		assert.ErrorIs(t, err, errors.ErrConflict)
	})

	t.Run("unknown archetype", func(t *testing.T) {
		_, err := f.model.CreateRole(ctx, f.admin, CreateRoleInput{ArchetypeID: types.NewID(), Code: "ghost", Name: "Ghost"})
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})
}

func TestSetArchetypePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.model.CreateArchetype(ctx, f.admin, CreateArchetypeInput{
		Code: "analyst", Name: "Analyst", Permissions: []string{"case.read", "comment.analyst"},
	})
	require.NoError(t, err)
	r, err := f.model.CreateRole(ctx, f.admin, CreateRoleInput{ArchetypeID: a.ID, Code: "analyst", Name: "Analyst"})
	require.NoError(t, err)

	t.Run("widening is accepted", func(t *testing.T) {
		updated, err := f.model.SetArchetypePermissions(ctx, f.admin, a.ID, []string{"case.read", "comment.analyst", "audit.read"})
		require.NoError(t, err)
		assert.True(t, updated.Permissions.Contains(domain.PermAuditRead))
	})

	t.Run("narrowing that orphans a role is rejected", func(t *testing.T) {
		_, err := f.model.SetArchetypePermissions(ctx, f.admin, a.ID, []string{"case.read"})
		appErr, ok := errors.As(err)
		require.True(t, ok)
		assert.ErrorIs(t, err, errors.ErrInvalidPermissionSubset)
		assert.Equal(t, []string{"comment.analyst"}, appErr.Offending)

		stored, err := f.store.GetArchetype(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Permissions, 3)
	})

	t.Run("narrowing after the role shrinks", func(t *testing.T) {
		_, err := f.model.SetRolePermissions(ctx, f.admin, r.ID, []string{"case.read"})
		require.NoError(t, err)
		_, err = f.model.SetArchetypePermissions(ctx, f.admin, a.ID, []string{"case.read"})
		require.NoError(t, err)
	})

	t.Run("unknown codes", func(t *testing.T) {
		_, err := f.model.SetArchetypePermissions(ctx, f.admin, a.ID, []string{"case.read", "case.nuke"})
		assert.ErrorIs(t, err, errors.ErrValidation)
	})
}

func TestRolesNeverExceedArchetypeUnderConcurrentEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.model.CreateArchetype(ctx, f.admin, CreateArchetypeInput{
		Code: "racer", Name: "Racer", Permissions: []string{"case.read", "case.triage"},
	})
	require.NoError(t, err)
	perms := []string{"case.read"}
	r, err := f.model.CreateRole(ctx, f.admin, CreateRoleInput{ArchetypeID: a.ID, Code: "racer", Name: "Racer", Permissions: &perms})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.model.SetRolePermissions(ctx, f.admin, r.ID, []string{"case.read", "case.triage"})
		}()
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.model.SetArchetypePermissions(ctx, f.admin, a.ID, []string{"case.read"})
			} else {
				_, _ = f.model.SetArchetypePermissions(ctx, f.admin, a.ID, []string{"case.read", "case.triage"})
			}
		}(i)
	}
	wg.Wait()

	role, err := f.store.GetRole(ctx, r.ID)
	require.NoError(t, err)
	archetype, err := f.store.GetArchetype(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, role.Permissions.SubsetOf(archetype.Permissions),
		"role %v exceeds archetype %v", role.Permissions.Codes(), archetype.Permissions.Codes())
}

func TestPrincipalLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.model.CreatePrincipal(ctx, f.admin, CreatePrincipalInput{Email: "bad", Name: "Bad"})
	assert.ErrorIs(t, err, errors.ErrValidation)

	p := f.principal(t, "Ana@Example.org")
	_, err = f.model.CreatePrincipal(ctx, f.admin, CreatePrincipalInput{Email: "ana@example.org", Name: "Dup"})
	assert.ErrorIs(t, err, errors.ErrConflict)

	role := f.seed.RoleIDs["case_supervisor"]
	require.NoError(t, f.model.GrantRole(ctx, f.admin, p, role))
	require.NoError(t, f.model.GrantRole(ctx, f.admin, p, role))

	got, err := f.model.GetPrincipal(ctx, f.admin, p)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.org", got.Email)
	assert.Equal(t, []types.ID{role}, got.RoleIDs)

	require.NoError(t, f.model.RevokeRole(ctx, f.admin, p, role))
	assert.ErrorIs(t, f.model.RevokeRole(ctx, f.admin, p, role), errors.ErrNotFound)

	ok, err := f.model.HasPermission(ctx, p, domain.PermCaseRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoleCodes(t *testing.T) {
	f := newFixture(t)
	id := f.principal(t, "both@example.org", "case_supervisor", "auditor")

	codes, err := f.model.RoleCodes(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"auditor", "case_supervisor"}, codes)

	none, err := f.model.RoleCodes(context.Background(), types.NewID())
	require.NoError(t, err)
	assert.Empty(t, none)
}
