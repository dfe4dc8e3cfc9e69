package access

import (
	"context"
	"strings"
	"time"

	"github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/logging"
	"github.com/integrity-line/platform/internal/shared/types"
	"go.uber.org/zap"
)

// SeedConfig controls the startup seed.
type SeedConfig struct {
	// AdminEmail, when set, gets a principal holding the administrator role.
	AdminEmail string
	AdminName  string
}

// SeedResult reports what the seed left in place.
type SeedResult struct {
	ArchetypeIDs map[string]types.ID
	RoleIDs      map[string]types.ID
	AdminID      types.ID
}

// Seed installs the permission catalog, the built-in archetypes with one
// default role each, and the optional bootstrap administrator. It runs in a
// single transaction and is safe to repeat: existing archetypes and roles
// keep any edits made since, except that the administrator archetype and
// role are widened to the full catalog.
func Seed(ctx context.Context, store domain.Store, cfg SeedConfig, logger *zap.Logger) (*SeedResult, error) {
	logger = logging.OrNop(logger).Named("seed")
	now := time.Now().UTC()
	result := &SeedResult{
		ArchetypeIDs: make(map[string]types.ID),
		RoleIDs:      make(map[string]types.ID),
	}

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.SyncCatalog(ctx, domain.Catalog()); err != nil {
			return err
		}

		for _, tmpl := range domain.Templates() {
			a, err := seedArchetype(ctx, tx, tmpl, now)
			if err != nil {
				return err
			}
			r, err := seedRole(ctx, tx, tmpl, a, now)
			if err != nil {
				return err
			}
			result.ArchetypeIDs[a.Code] = a.ID
			result.RoleIDs[r.Code] = r.ID
		}

		if cfg.AdminEmail == "" {
			return nil
		}
		adminRole := result.RoleIDs[templateFor(domain.ArchetypeAdministrator).RoleCode]
		id, err := seedAdmin(ctx, tx, cfg, adminRole, now)
		if err != nil {
			return err
		}
		result.AdminID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("authorization model seeded",
		zap.Int("permissions", len(domain.Catalog())),
		zap.Int("archetypes", len(result.ArchetypeIDs)),
		zap.Bool("bootstrap_admin", !result.AdminID.IsZero()))
	return result, nil
}

func seedArchetype(ctx context.Context, tx domain.Tx, tmpl domain.Template, now time.Time) (*domain.Archetype, error) {
	a, err := tx.FindArchetypeByCode(ctx, tmpl.Code)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		a = &domain.Archetype{
			ID:          types.NewSeedID("archetype", tmpl.Code),
			Code:        tmpl.Code,
			Name:        tmpl.Name,
			Permissions: domain.NewPermissionSet(tmpl.Permissions...),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	case err != nil:
		return nil, err
	case tmpl.Code == domain.ArchetypeAdministrator:
		a.Permissions = a.Permissions.Union(domain.AllPermissions())
		a.UpdatedAt = now
	default:
		return a, nil
	}
	return a, tx.SaveArchetype(ctx, a)
}

func seedRole(ctx context.Context, tx domain.Tx, tmpl domain.Template, a *domain.Archetype, now time.Time) (*domain.Role, error) {
	r, err := tx.FindRoleByCode(ctx, tmpl.RoleCode)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		r = &domain.Role{
			ID:          types.NewSeedID("role", tmpl.RoleCode),
			Code:        tmpl.RoleCode,
			Name:        tmpl.RoleName,
			ArchetypeID: a.ID,
			Permissions: a.Permissions.Clone(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	case err != nil:
		return nil, err
	case tmpl.Code == domain.ArchetypeAdministrator && r.ArchetypeID == a.ID:
		r.Permissions = a.Permissions.Clone()
		r.UpdatedAt = now
	default:
		return r, nil
	}
	return r, tx.SaveRole(ctx, r)
}

func seedAdmin(ctx context.Context, tx domain.Tx, cfg SeedConfig, roleID types.ID, now time.Time) (types.ID, error) {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if !domain.ValidateEmail(email) {
		return "", errors.Validation("invalid bootstrap admin email", map[string]string{"email": "invalid format"})
	}

	p, err := tx.FindPrincipalByEmail(ctx, email)
	if errors.Is(err, errors.ErrNotFound) {
		name := cfg.AdminName
		if name == "" {
			name = "Administrator"
		}
		p = &domain.Principal{
			ID:        types.NewSeedID("principal", email),
			Email:     email,
			Name:      name,
			Active:    true,
			CreatedAt: now,
		}
		if err := tx.SavePrincipal(ctx, p); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	if err := tx.GrantRole(ctx, domain.RoleGrant{PrincipalID: p.ID, RoleID: roleID, GrantedAt: now}); err != nil {
		return "", err
	}
	return p.ID, nil
}

func templateFor(code string) domain.Template {
	for _, tmpl := range domain.Templates() {
		if tmpl.Code == code {
			return tmpl
		}
	}
	return domain.Template{}
}
