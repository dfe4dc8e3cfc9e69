// Package access answers permission questions for staff principals and
// administers the archetypes and roles those answers come from.
package access

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/logging"
	"github.com/integrity-line/platform/internal/shared/metrics"
	"github.com/integrity-line/platform/internal/shared/types"
	"go.uber.org/zap"
)

// Model is the authorization model.
type Model struct {
	store  domain.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewModel creates the authorization model over a store.
func NewModel(store domain.Store, logger *zap.Logger) *Model {
	return &Model{
		store:  store,
		logger: logging.OrNop(logger).Named("access"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns a principal and the union of the permissions of every
// role it holds. Inactive principals resolve to an empty set.
func (m *Model) Resolve(ctx context.Context, principalID types.ID) (*domain.Principal, domain.PermissionSet, error) {
	p, err := m.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, nil, err
	}
	perms := domain.NewPermissionSet()
	if !p.Active {
		return p, perms, nil
	}

	roles, err := m.store.GrantedRoles(ctx, principalID)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range roles {
		perms = perms.Union(r.Permissions)
	}
	return p, perms, nil
}

// HasPermission reports whether the principal holds perm through any of
// its roles. Unknown principals hold nothing.
func (m *Model) HasPermission(ctx context.Context, principalID types.ID, perm domain.Permission) (bool, error) {
	_, perms, err := m.Resolve(ctx, principalID)
	if errors.Is(err, errors.ErrNotFound) {
		metrics.RecordAuthorizationDecision(string(perm), false)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	allowed := perms.Contains(perm)
	metrics.RecordAuthorizationDecision(string(perm), allowed)
	return allowed, nil
}

// Require returns a Forbidden error naming perm unless the principal holds it.
func (m *Model) Require(ctx context.Context, principalID types.ID, perm domain.Permission) error {
	ok, err := m.HasPermission(ctx, principalID, perm)
	if err != nil {
		return err
	}
	if !ok {
		m.logger.Debug("permission denied",
			zap.String("principal_id", principalID.String()),
			zap.String("permission", string(perm)))
		return errors.Forbidden(string(perm))
	}
	return nil
}

// Authorize is Require for callers holding a raw permission code, such as
// route middleware. Codes outside the catalog are always forbidden.
func (m *Model) Authorize(ctx context.Context, principalID types.ID, code string) error {
	perm, ok := domain.ParsePermission(code)
	if !ok {
		return errors.Forbidden(code)
	}
	return m.Require(ctx, principalID, perm)
}

// RoleCodes returns the codes of the roles a principal holds, sorted.
func (m *Model) RoleCodes(ctx context.Context, principalID types.ID) ([]string, error) {
	roles, err := m.store.GrantedRoles(ctx, principalID)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(roles))
	for _, r := range roles {
		codes = append(codes, r.Code)
	}
	sort.Strings(codes)
	return codes, nil
}

// --- Archetypes ---

type CreateArchetypeInput struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// CreateArchetype registers a new permission template.
func (m *Model) CreateArchetype(ctx context.Context, actor types.ID, in CreateArchetypeInput) (*domain.Archetype, error) {
	if err := m.Require(ctx, actor, domain.PermArchetypeManage); err != nil {
		return nil, err
	}
	if err := domain.ValidateCode(in.Code); err != nil {
		return nil, err
	}
	if err := requireName(in.Name); err != nil {
		return nil, err
	}
	perms, err := parseCatalogCodes(in.Permissions)
	if err != nil {
		return nil, err
	}

	now := m.now()
	a := &domain.Archetype{
		ID:          types.NewID(),
		Code:        in.Code,
		Name:        strings.TrimSpace(in.Name),
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = m.store.WithinTx(ctx, func(tx domain.Tx) error {
		return tx.SaveArchetype(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("archetype created",
		zap.String("archetype", a.Code),
		zap.Strings("permissions", a.Permissions.Codes()),
		zap.String("actor", actor.String()))
	return a, nil
}

// SetArchetypePermissions replaces an archetype's permission set. Narrowing
// that would leave any dependent role holding a permission outside the new
// set is rejected with the orphaned codes and nothing is written.
func (m *Model) SetArchetypePermissions(ctx context.Context, actor, archetypeID types.ID, codes []string) (*domain.Archetype, error) {
	if err := m.Require(ctx, actor, domain.PermArchetypeManage); err != nil {
		return nil, err
	}
	perms, err := parseCatalogCodes(codes)
	if err != nil {
		return nil, err
	}

	var updated *domain.Archetype
	err = m.store.WithinTx(ctx, func(tx domain.Tx) error {
		a, err := tx.LockArchetype(ctx, archetypeID)
		if err != nil {
			return err
		}
		roles, err := tx.LockRolesByArchetype(ctx, archetypeID)
		if err != nil {
			return err
		}
		if orphaned := domain.OrphanedBy(perms, roles); len(orphaned) > 0 {
			return errors.InvalidPermissionSubset(a.Code, orphaned)
		}

		a.Permissions = perms
		a.UpdatedAt = m.now()
		if err := tx.SaveArchetype(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		m.logRejection(err, "archetype", archetypeID)
		return nil, err
	}

	m.logger.Info("archetype permissions updated",
		zap.String("archetype", updated.Code),
		zap.Strings("permissions", updated.Permissions.Codes()),
		zap.String("actor", actor.String()))
	return updated, nil
}

// ListArchetypes returns every archetype.
func (m *Model) ListArchetypes(ctx context.Context, actor types.ID) ([]domain.Archetype, error) {
	if err := m.Require(ctx, actor, domain.PermRoleManage); err != nil {
		return nil, err
	}
	return m.store.ListArchetypes(ctx)
}

// --- Roles ---

// CreateRoleInput describes a new role. A nil Permissions copies the whole
// archetype set; a non-nil one, even empty, is validated as a subset.
type CreateRoleInput struct {
	ArchetypeID types.ID  `json:"archetype_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Permissions *[]string `json:"permissions,omitempty"`
}

// CreateRole creates a role under an archetype.
func (m *Model) CreateRole(ctx context.Context, actor types.ID, in CreateRoleInput) (*domain.Role, error) {
	if err := m.Require(ctx, actor, domain.PermRoleManage); err != nil {
		return nil, err
	}
	if err := domain.ValidateCode(in.Code); err != nil {
		return nil, err
	}
	if err := requireName(in.Name); err != nil {
		return nil, err
	}

	var created *domain.Role
	err := m.store.WithinTx(ctx, func(tx domain.Tx) error {
		a, err := tx.LockArchetype(ctx, in.ArchetypeID)
		if err != nil {
			return err
		}

		perms := a.Permissions.Clone()
		if in.Permissions != nil {
			if perms, err = domain.ValidateSubset(a, *in.Permissions); err != nil {
				return err
			}
		}

		now := m.now()
		r := &domain.Role{
			ID:          types.NewID(),
			Code:        in.Code,
			Name:        strings.TrimSpace(in.Name),
			ArchetypeID: a.ID,
			Permissions: perms,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.SaveRole(ctx, r); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		m.logRejection(err, "role", in.ArchetypeID)
		return nil, err
	}

	m.logger.Info("role created",
		zap.String("role", created.Code),
		zap.String("archetype_id", created.ArchetypeID.String()),
		zap.Strings("permissions", created.Permissions.Codes()),
		zap.String("actor", actor.String()))
	return created, nil
}

// SetRolePermissions replaces a role's permissions. The archetype and role
// rows are locked and the subset check runs in the same transaction as the
// write, so a rejected request leaves the stored set untouched.
func (m *Model) SetRolePermissions(ctx context.Context, actor, roleID types.ID, codes []string) (*domain.Role, error) {
	if err := m.Require(ctx, actor, domain.PermRoleManage); err != nil {
		return nil, err
	}

	var updated *domain.Role
	err := m.store.WithinTx(ctx, func(tx domain.Tx) error {
		current, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		a, err := tx.LockArchetype(ctx, current.ArchetypeID)
		if err != nil {
			return err
		}
		r, err := tx.LockRole(ctx, roleID)
		if err != nil {
			return err
		}

		perms, err := domain.ValidateSubset(a, codes)
		if err != nil {
			return err
		}

		r.Permissions = perms
		r.UpdatedAt = m.now()
		if err := tx.SaveRole(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		m.logRejection(err, "role", roleID)
		return nil, err
	}

	m.logger.Info("role permissions updated",
		zap.String("role", updated.Code),
		zap.Strings("permissions", updated.Permissions.Codes()),
		zap.String("actor", actor.String()))
	return updated, nil
}

// GetRole returns one role.
func (m *Model) GetRole(ctx context.Context, actor, roleID types.ID) (*domain.Role, error) {
	if err := m.Require(ctx, actor, domain.PermRoleManage); err != nil {
		return nil, err
	}
	return m.store.GetRole(ctx, roleID)
}

// ListRoles returns every role.
func (m *Model) ListRoles(ctx context.Context, actor types.ID) ([]domain.Role, error) {
	if err := m.Require(ctx, actor, domain.PermRoleManage); err != nil {
		return nil, err
	}
	return m.store.ListRoles(ctx)
}

// --- Principals ---

type CreatePrincipalInput struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CreatePrincipal registers an active staff principal with no roles.
func (m *Model) CreatePrincipal(ctx context.Context, actor types.ID, in CreatePrincipalInput) (*domain.Principal, error) {
	if err := m.Require(ctx, actor, domain.PermPrincipalManage); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !domain.ValidateEmail(email) {
		return nil, errors.Validation("invalid email", map[string]string{"email": "invalid format"})
	}
	if err := requireName(in.Name); err != nil {
		return nil, err
	}

	p := &domain.Principal{
		ID:        types.NewID(),
		Email:     email,
		Name:      strings.TrimSpace(in.Name),
		Active:    true,
		CreatedAt: m.now(),
	}
	err := m.store.WithinTx(ctx, func(tx domain.Tx) error {
		return tx.SavePrincipal(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("principal created", zap.String("principal_id", p.ID.String()), zap.String("actor", actor.String()))
	return p, nil
}

// GetPrincipal returns one principal with its role IDs.
func (m *Model) GetPrincipal(ctx context.Context, actor, principalID types.ID) (*domain.Principal, error) {
	if err := m.Require(ctx, actor, domain.PermPrincipalManage); err != nil {
		return nil, err
	}
	return m.store.GetPrincipal(ctx, principalID)
}

// SetPrincipalActive enables or disables a principal. Disabled principals
// keep their grants but resolve to no permissions.
func (m *Model) SetPrincipalActive(ctx context.Context, actor, principalID types.ID, active bool) (*domain.Principal, error) {
	if err := m.Require(ctx, actor, domain.PermPrincipalManage); err != nil {
		return nil, err
	}
	if actor == principalID && !active {
		return nil, errors.Conflict("principals cannot deactivate themselves")
	}

	var updated *domain.Principal
	err := m.store.WithinTx(ctx, func(tx domain.Tx) error {
		p, err := tx.GetPrincipal(ctx, principalID)
		if err != nil {
			return err
		}
		p.Active = active
		if err := tx.SavePrincipal(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("principal status changed",
		zap.String("principal_id", principalID.String()),
		zap.Bool("active", active),
		zap.String("actor", actor.String()))
	return updated, nil
}

// GrantRole gives a principal a role. Granting a held role is a no-op.
func (m *Model) GrantRole(ctx context.Context, actor, principalID, roleID types.ID) error {
	if err := m.Require(ctx, actor, domain.PermPrincipalManage); err != nil {
		return err
	}
	err := m.store.WithinTx(ctx, func(tx domain.Tx) error {
		return tx.GrantRole(ctx, domain.RoleGrant{
			PrincipalID: principalID,
			RoleID:      roleID,
			GrantedBy:   actor.Ptr(),
			GrantedAt:   m.now(),
		})
	})
	if err != nil {
		return err
	}

	m.logger.Info("role granted",
		zap.String("principal_id", principalID.String()),
		zap.String("role_id", roleID.String()),
		zap.String("actor", actor.String()))
	return nil
}

// RevokeRole removes a role from a principal.
func (m *Model) RevokeRole(ctx context.Context, actor, principalID, roleID types.ID) error {
	if err := m.Require(ctx, actor, domain.PermPrincipalManage); err != nil {
		return err
	}
	err := m.store.WithinTx(ctx, func(tx domain.Tx) error {
		return tx.RevokeRole(ctx, principalID, roleID)
	})
	if err != nil {
		return err
	}

	m.logger.Info("role revoked",
		zap.String("principal_id", principalID.String()),
		zap.String("role_id", roleID.String()),
		zap.String("actor", actor.String()))
	return nil
}

func (m *Model) logRejection(err error, target string, id types.ID) {
	appErr, ok := errors.As(err)
	if !ok || !errors.Is(err, errors.ErrInvalidPermissionSubset) {
		return
	}
	metrics.RecordPermissionSubsetRejection(target)
	m.logger.Warn("permission subset violation",
		zap.String("target", target),
		zap.String("id", id.String()),
		zap.Strings("offending", appErr.Offending))
}

func parseCatalogCodes(codes []string) (domain.PermissionSet, error) {
	set, unknown := domain.ParsePermissionSet(codes)
	if len(unknown) > 0 {
		return nil, errors.Validation("unknown permission codes",
			map[string]string{"permissions": strings.Join(unknown, ",")})
	}
	return set, nil
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.Validation("name is required", map[string]string{"name": "required"})
	}
	return nil
}
