package infrastructure

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/shared/database"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements domain.Store using PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const archetypeColumns = `
	SELECT a.id, a.code, a.name, a.created_at, a.updated_at,
		COALESCE((SELECT array_agg(ap.permission ORDER BY ap.permission)
			FROM access.archetype_permissions ap WHERE ap.archetype_id = a.id), '{}')
	FROM access.archetypes a`

const roleColumns = `
	SELECT r.id, r.code, r.name, r.archetype_id, r.created_at, r.updated_at,
		COALESCE((SELECT array_agg(rp.permission ORDER BY rp.permission)
			FROM access.role_permissions rp WHERE rp.role_id = r.id), '{}')
	FROM access.roles r`

// WithinTx runs fn inside a database transaction
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (s *PostgresStore) GetArchetype(ctx context.Context, id types.ID) (*domain.Archetype, error) {
	return getArchetype(ctx, s.pool, archetypeColumns+` WHERE a.id = $1`, id)
}

func (s *PostgresStore) ListArchetypes(ctx context.Context) ([]domain.Archetype, error) {
	rows, err := s.pool.Query(ctx, archetypeColumns+` ORDER BY a.code`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list archetypes")
	}
	defer rows.Close()

	var out []domain.Archetype
	for rows.Next() {
		a, err := scanArchetype(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan archetype")
		}
		out = append(out, *a)
	}
	return out, errors.Wrap(rows.Err(), "failed to list archetypes")
}

func (s *PostgresStore) GetRole(ctx context.Context, id types.ID) (*domain.Role, error) {
	return getRole(ctx, s.pool, roleColumns+` WHERE r.id = $1`, id)
}

func (s *PostgresStore) ListRoles(ctx context.Context) ([]domain.Role, error) {
	return listRoles(ctx, s.pool, roleColumns+` ORDER BY r.code`)
}

func (s *PostgresStore) GetPrincipal(ctx context.Context, id types.ID) (*domain.Principal, error) {
	return getPrincipal(ctx, s.pool, `WHERE p.id = $1`, id)
}

func (s *PostgresStore) GrantedRoles(ctx context.Context, principalID types.ID) ([]domain.Role, error) {
	return listRoles(ctx, s.pool, roleColumns+`
		JOIN access.principal_roles pr ON pr.role_id = r.id
		WHERE pr.principal_id = $1
		ORDER BY r.code`, principalID)
}

// --- scanning helpers ---

func scanArchetype(row pgx.Row) (*domain.Archetype, error) {
	var a domain.Archetype
	var codes []string
	if err := row.Scan(&a.ID, &a.Code, &a.Name, &a.CreatedAt, &a.UpdatedAt, &codes); err != nil {
		return nil, err
	}
	a.Permissions, _ = domain.ParsePermissionSet(codes)
	return &a, nil
}

func scanRole(row pgx.Row) (*domain.Role, error) {
	var r domain.Role
	var codes []string
	if err := row.Scan(&r.ID, &r.Code, &r.Name, &r.ArchetypeID, &r.CreatedAt, &r.UpdatedAt, &codes); err != nil {
		return nil, err
	}
	r.Permissions, _ = domain.ParsePermissionSet(codes)
	return &r, nil
}

func getArchetype(ctx context.Context, q querier, query string, key any) (*domain.Archetype, error) {
	a, err := scanArchetype(q.QueryRow(ctx, query, key))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("archetype", keyString(key))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find archetype")
	}
	return a, nil
}

func getRole(ctx context.Context, q querier, query string, key any) (*domain.Role, error) {
	r, err := scanRole(q.QueryRow(ctx, query, key))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("role", keyString(key))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find role")
	}
	return r, nil
}

func listRoles(ctx context.Context, q querier, query string, args ...any) ([]domain.Role, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list roles")
	}
	defer rows.Close()

	var out []domain.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan role")
		}
		out = append(out, *r)
	}
	return out, errors.Wrap(rows.Err(), "failed to list roles")
}

func getPrincipal(ctx context.Context, q querier, where string, key any) (*domain.Principal, error) {
	query := `
		SELECT p.id, p.email, p.name, p.active, p.created_at,
			COALESCE((SELECT array_agg(pr.role_id::text ORDER BY pr.role_id)
				FROM access.principal_roles pr WHERE pr.principal_id = p.id), '{}')
		FROM access.principals p ` + where

	var p domain.Principal
	var roleIDs []string
	err := q.QueryRow(ctx, query, key).Scan(&p.ID, &p.Email, &p.Name, &p.Active, &p.CreatedAt, &roleIDs)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("principal", keyString(key))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find principal")
	}
	for _, id := range roleIDs {
		p.RoleIDs = append(p.RoleIDs, types.ID(id))
	}
	return &p, nil
}

func keyString(key any) string {
	switch k := key.(type) {
	case types.ID:
		return k.String()
	case string:
		return k
	default:
		return ""
	}
}

// mapWriteError turns constraint violations into application errors.
func mapWriteError(err error, what string) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errors.Conflict(what + " already exists")
		case "23503":
			return errors.Validation(what+" references an unknown record", map[string]string{"constraint": pgErr.ConstraintName})
		}
	}
	return errors.Wrap(err, "failed to save "+what)
}

// --- transaction ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SyncCatalog(ctx context.Context, entries []domain.CatalogEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO access.permissions (code, description) VALUES ($1, $2)
			ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description`,
			string(e.Code), e.Description)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "failed to sync permission catalog")
	}
	return nil
}

func (t *pgTx) LockArchetype(ctx context.Context, id types.ID) (*domain.Archetype, error) {
	return getArchetype(ctx, t.tx, archetypeColumns+` WHERE a.id = $1 FOR UPDATE OF a`, id)
}

func (t *pgTx) FindArchetypeByCode(ctx context.Context, code string) (*domain.Archetype, error) {
	return getArchetype(ctx, t.tx, archetypeColumns+` WHERE a.code = $1`, code)
}

func (t *pgTx) SaveArchetype(ctx context.Context, a *domain.Archetype) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO access.archetypes (id, code, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`,
		a.ID, a.Code, a.Name, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "archetype")
	}
	return t.replacePermissions(ctx, "access.archetype_permissions", "archetype_id", a.ID, a.Permissions)
}

func (t *pgTx) GetRole(ctx context.Context, id types.ID) (*domain.Role, error) {
	return getRole(ctx, t.tx, roleColumns+` WHERE r.id = $1`, id)
}

func (t *pgTx) LockRole(ctx context.Context, id types.ID) (*domain.Role, error) {
	return getRole(ctx, t.tx, roleColumns+` WHERE r.id = $1 FOR UPDATE OF r`, id)
}

func (t *pgTx) LockRolesByArchetype(ctx context.Context, archetypeID types.ID) ([]domain.Role, error) {
	return listRoles(ctx, t.tx, roleColumns+` WHERE r.archetype_id = $1 ORDER BY r.id FOR UPDATE OF r`, archetypeID)
}

func (t *pgTx) FindRoleByCode(ctx context.Context, code string) (*domain.Role, error) {
	return getRole(ctx, t.tx, roleColumns+` WHERE r.code = $1`, code)
}

func (t *pgTx) SaveRole(ctx context.Context, r *domain.Role) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO access.roles (id, code, name, archetype_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`,
		r.ID, r.Code, r.Name, r.ArchetypeID, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "role")
	}
	return t.replacePermissions(ctx, "access.role_permissions", "role_id", r.ID, r.Permissions)
}

// replacePermissions rewrites the join rows of one archetype or role.
func (t *pgTx) replacePermissions(ctx context.Context, table, ownerColumn string, owner types.ID, set domain.PermissionSet) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM `+table+` WHERE `+ownerColumn+` = $1`, owner); err != nil {
		return errors.Wrap(err, "failed to clear permissions")
	}
	codes := set.Codes()
	if len(codes) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO `+table+` (`+ownerColumn+`, permission) SELECT $1, unnest($2::text[])`,
		owner, codes)
	if err != nil {
		return mapWriteError(err, "permission grant")
	}
	return nil
}

func (t *pgTx) GetPrincipal(ctx context.Context, id types.ID) (*domain.Principal, error) {
	return getPrincipal(ctx, t.tx, `WHERE p.id = $1`, id)
}

func (t *pgTx) FindPrincipalByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	return getPrincipal(ctx, t.tx, `WHERE lower(p.email) = lower($1)`, email)
}

func (t *pgTx) SavePrincipal(ctx context.Context, p *domain.Principal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO access.principals (id, email, name, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, active = EXCLUDED.active`,
		p.ID, p.Email, p.Name, p.Active, p.CreatedAt)
	if err != nil {
		return mapWriteError(err, "principal")
	}
	return nil
}

func (t *pgTx) GrantRole(ctx context.Context, g domain.RoleGrant) error {
	grantedAt := g.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO access.principal_roles (principal_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id, role_id) DO NOTHING`,
		g.PrincipalID, g.RoleID, g.GrantedBy, grantedAt)
	if err != nil {
		return mapWriteError(err, "role grant")
	}
	return nil
}

func (t *pgTx) RevokeRole(ctx context.Context, principalID, roleID types.ID) error {
	result, err := t.tx.Exec(ctx,
		`DELETE FROM access.principal_roles WHERE principal_id = $1 AND role_id = $2`,
		principalID, roleID)
	if err != nil {
		return errors.Wrap(err, "failed to revoke role")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("role grant", roleID.String())
	}
	return nil
}
