package infrastructure

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/integrity-line/platform/internal/case/domain"
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

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const caseColumns = `
	SELECT id, case_number, credential_hash, credential_salt,
		organization_id, type_id, state, subject, description, country, channel,
		reporter_name, reporter_email, reporter_phone, is_anonymous,
		created_by, priority, satisfaction_score, created_at, updated_at
	FROM cases.cases`

// WithinTx runs fn inside a database transaction
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// FindByID finds a case by ID
func (s *PostgresStore) FindByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	return getCase(ctx, s.pool, caseColumns+` WHERE id = $1`, id, id.String())
}

// FindByNumber finds a case by its public number
func (s *PostgresStore) FindByNumber(ctx context.Context, number types.CaseNumber) (*domain.Case, error) {
	return getCase(ctx, s.pool, caseColumns+` WHERE case_number = $1`, number.String(), number.String())
}

// List lists cases with filters
func (s *PostgresStore) List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.State != nil {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argNum))
		args = append(args, string(*filter.State))
		argNum++
	}

	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", argNum))
		args = append(args, string(*filter.Priority))
		argNum++
	}

	if filter.OrganizationID != "" {
		conditions = append(conditions, fmt.Sprintf("organization_id = $%d", argNum))
		args = append(args, filter.OrganizationID)
		argNum++
	}

	if filter.AssignedTo != nil {
		conditions = append(conditions, fmt.Sprintf(
			"id IN (SELECT case_id FROM cases.assignments WHERE principal_id = $%d AND active)", argNum))
		args = append(args, *filter.AssignedTo)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(subject ILIKE $%d OR case_number ILIKE $%d OR description ILIKE $%d)", argNum, argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM cases.cases "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count cases")
	}

	orderDir := "ASC"
	if filter.OrderDesc {
		orderDir = "DESC"
	}

	query := fmt.Sprintf(`%s
		%s
		ORDER BY created_at %s, case_number %s
		LIMIT $%d OFFSET $%d`, caseColumns, whereClause, orderDir, orderDir, argNum, argNum+1)
	args = append(args, filter.PageSize(), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list cases")
	}
	defer rows.Close()

	var cases []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan case")
		}
		cases = append(cases, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to list cases")
	}

	return cases, total, nil
}

// History returns the transitions of a case, oldest first
func (s *PostgresStore) History(ctx context.Context, caseID types.ID) ([]domain.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, from_state, to_state, changed_by, reason, created_at
		FROM cases.history
		WHERE case_id = $1
		ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get history")
	}
	defer rows.Close()

	out := []domain.HistoryEntry{}
	for rows.Next() {
		var h domain.HistoryEntry
		var from *string
		var to string
		if err := rows.Scan(&h.ID, &h.CaseID, &from, &to, &h.ChangedBy, &h.Reason, &h.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan history entry")
		}
		if from != nil {
			st := domain.State(*from)
			h.FromState = &st
		}
		h.ToState = domain.State(to)
		out = append(out, h)
	}
	return out, errors.Wrap(rows.Err(), "failed to get history")
}

// Comments returns every comment on a case, oldest first. Visibility is
// applied by the caller.
func (s *PostgresStore) Comments(ctx context.Context, caseID types.ID) ([]domain.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, author_principal_id, author_name, author_email,
			content, visibility, author_role_snapshot, created_at
		FROM cases.comments
		WHERE case_id = $1
		ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get comments")
	}
	defer rows.Close()

	out := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		var visibility string
		err := rows.Scan(
			&c.ID, &c.CaseID, &c.AuthorPrincipalID, &c.AuthorName, &c.AuthorEmail,
			&c.Content, &visibility, &c.AuthorRoleSnapshot, &c.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan comment")
		}
		c.Visibility = domain.Visibility(visibility)
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "failed to get comments")
}

// Assignments returns active and inactive assignments of a case
func (s *PostgresStore) Assignments(ctx context.Context, caseID types.ID) ([]domain.Assignment, error) {
	return listAssignments(ctx, s.pool, `WHERE case_id = $1 ORDER BY assigned_at, principal_id`, caseID)
}

// Reassignments returns the chain of custody, oldest first
func (s *PostgresStore) Reassignments(ctx context.Context, caseID types.ID) ([]domain.Reassignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, from_principal_id, to_principal_id, reassigned_by, created_at
		FROM cases.reassignments
		WHERE case_id = $1
		ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get reassignments")
	}
	defer rows.Close()

	out := []domain.Reassignment{}
	for rows.Next() {
		var r domain.Reassignment
		if err := rows.Scan(&r.ID, &r.CaseID, &r.FromPrincipalID, &r.ToPrincipalID, &r.ReassignedBy, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan reassignment")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "failed to get reassignments")
}

// Resolution returns the recorded resolution of a case
func (s *PostgresStore) Resolution(ctx context.Context, caseID types.ID) (*domain.Resolution, error) {
	var r domain.Resolution
	err := s.pool.QueryRow(ctx, `
		SELECT case_id, content, document_ref, resolved_by, resolved_at
		FROM cases.resolutions
		WHERE case_id = $1`, caseID).Scan(&r.CaseID, &r.Content, &r.DocumentRef, &r.ResolvedBy, &r.ResolvedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("resolution", caseID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get resolution")
	}
	return &r, nil
}

// Attachments returns attachment metadata of a case
func (s *PostgresStore) Attachments(ctx context.Context, caseID types.ID) ([]domain.Attachment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, file_name, content_type, size_bytes, storage_ref, uploaded_by, created_at
		FROM cases.attachments
		WHERE case_id = $1
		ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get attachments")
	}
	defer rows.Close()

	out := []domain.Attachment{}
	for rows.Next() {
		var a domain.Attachment
		err := rows.Scan(&a.ID, &a.CaseID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.StorageRef, &a.UploadedBy, &a.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan attachment")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "failed to get attachments")
}

// --- scanning helpers ---

func scanCase(row pgx.Row) (*domain.Case, error) {
	var c domain.Case
	var number, state, channel string
	var priority *string

	err := row.Scan(
		&c.ID, &number, &c.Credential.Hash, &c.Credential.Salt,
		&c.OrganizationID, &c.TypeID, &state, &c.Subject, &c.Description, &c.Country, &channel,
		&c.ReporterName, &c.ReporterEmail, &c.ReporterPhone, &c.IsAnonymous,
		&c.CreatedBy, &priority, &c.SatisfactionScore, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := types.ParseCaseNumber(number)
	if err != nil {
		return nil, err
	}
	c.Number = parsed
	c.State = domain.State(state)
	c.Channel = domain.Channel(channel)
	if priority != nil {
		p := domain.Priority(*priority)
		c.Priority = &p
	}
	return &c, nil
}

func getCase(ctx context.Context, q querier, query string, arg any, key string) (*domain.Case, error) {
	c, err := scanCase(q.QueryRow(ctx, query, arg))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("case", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find case")
	}
	return c, nil
}

func listAssignments(ctx context.Context, q querier, where string, args ...any) ([]domain.Assignment, error) {
	rows, err := q.Query(ctx, `
		SELECT case_id, principal_id, assigned_by, active, assigned_at
		FROM cases.assignments `+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get assignments")
	}
	defer rows.Close()

	out := []domain.Assignment{}
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.CaseID, &a.PrincipalID, &a.AssignedBy, &a.Active, &a.AssignedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan assignment")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "failed to get assignments")
}

func optionalState(s *domain.State) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func optionalPriority(p *domain.Priority) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
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
		case "23514":
			return errors.Validation(what+" violates a check constraint", map[string]string{"constraint": pgErr.ConstraintName})
		}
	}
	return errors.Wrap(err, "failed to save "+what)
}

// --- transaction ---

type pgTx struct {
	tx pgx.Tx
}

// NextCaseNumber bumps the year's counter row. The row stays locked until
// the transaction ends, so numbers are unique and gapless per year.
func (t *pgTx) NextCaseNumber(ctx context.Context, year int) (types.CaseNumber, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO cases.case_counters (year, last_seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = cases.case_counters.last_seq + 1
		RETURNING last_seq`, year).Scan(&seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == "23514" {
			return types.CaseNumber{}, errors.Conflict("case numbers for this year are exhausted")
		}
		return types.CaseNumber{}, errors.Wrap(err, "failed to allocate case number")
	}

	number, err := types.NewCaseNumber(year, seq)
	if err != nil {
		return types.CaseNumber{}, errors.Validation(err.Error(), map[string]string{"year": "out of range"})
	}
	return number, nil
}

func (t *pgTx) InsertCase(ctx context.Context, c *domain.Case) error {
	query := `
		INSERT INTO cases.cases (
			id, case_number, credential_hash, credential_salt,
			organization_id, type_id, state, subject, description, country, channel,
			reporter_name, reporter_email, reporter_phone, is_anonymous,
			created_by, priority, satisfaction_score, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)`

	_, err := t.tx.Exec(ctx, query,
		c.ID, c.Number.String(), c.Credential.Hash, c.Credential.Salt,
		c.OrganizationID, c.TypeID, string(c.State), c.Subject, c.Description, c.Country, string(c.Channel),
		c.ReporterName, c.ReporterEmail, c.ReporterPhone, c.IsAnonymous,
		c.CreatedBy, optionalPriority(c.Priority), c.SatisfactionScore, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "case")
	}
	return nil
}

func (t *pgTx) LockCase(ctx context.Context, id types.ID) (*domain.Case, error) {
	return getCase(ctx, t.tx, caseColumns+` WHERE id = $1 FOR UPDATE`, id, id.String())
}

func (t *pgTx) LockCaseByNumber(ctx context.Context, number types.CaseNumber) (*domain.Case, error) {
	return getCase(ctx, t.tx, caseColumns+` WHERE case_number = $1 FOR UPDATE`, number.String(), number.String())
}

// UpdateCase never touches the credential columns.
func (t *pgTx) UpdateCase(ctx context.Context, c *domain.Case) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE cases.cases SET
			state = $2, priority = $3, satisfaction_score = $4, updated_at = $5
		WHERE id = $1`,
		c.ID, string(c.State), optionalPriority(c.Priority), c.SatisfactionScore, c.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "case")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("case", c.ID.String())
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, h domain.HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cases.history (id, case_id, from_state, to_state, changed_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.CaseID, optionalState(h.FromState), string(h.ToState), h.ChangedBy, h.Reason, h.CreatedAt)
	if err != nil {
		return mapWriteError(err, "history entry")
	}
	return nil
}

func (t *pgTx) HasResolution(ctx context.Context, caseID types.ID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cases.resolutions WHERE case_id = $1)`, caseID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check resolution")
	}
	return exists, nil
}

func (t *pgTx) RecordResolution(ctx context.Context, r domain.Resolution) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cases.resolutions (case_id, content, document_ref, resolved_by, resolved_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.CaseID, r.Content, r.DocumentRef, r.ResolvedBy, r.ResolvedAt)
	if err != nil {
		return mapWriteError(err, "resolution")
	}
	return nil
}

func (t *pgTx) RecordAttachment(ctx context.Context, a domain.Attachment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cases.attachments (id, case_id, file_name, content_type, size_bytes, storage_ref, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.CaseID, a.FileName, a.ContentType, a.SizeBytes, a.StorageRef, a.UploadedBy, a.CreatedAt)
	if err != nil {
		return mapWriteError(err, "attachment")
	}
	return nil
}

func (t *pgTx) ActiveAssignments(ctx context.Context, caseID types.ID) ([]domain.Assignment, error) {
	return listAssignments(ctx, t.tx, `WHERE case_id = $1 AND active ORDER BY assigned_at, principal_id FOR UPDATE`, caseID)
}

// The row holds the current assignment. Its history lives in reassignments.
func (t *pgTx) SaveAssignment(ctx context.Context, a domain.Assignment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cases.assignments (case_id, principal_id, assigned_by, active, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (case_id, principal_id) DO UPDATE SET
			assigned_by = EXCLUDED.assigned_by,
			active = EXCLUDED.active,
			assigned_at = EXCLUDED.assigned_at`,
		a.CaseID, a.PrincipalID, a.AssignedBy, a.Active, a.AssignedAt)
	if err != nil {
		return mapWriteError(err, "assignment")
	}
	return nil
}

func (t *pgTx) AppendReassignment(ctx context.Context, r domain.Reassignment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cases.reassignments (id, case_id, from_principal_id, to_principal_id, reassigned_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.CaseID, r.FromPrincipalID, r.ToPrincipalID, r.ReassignedBy, r.CreatedAt)
	if err != nil {
		return mapWriteError(err, "reassignment")
	}
	return nil
}

func (t *pgTx) InsertComment(ctx context.Context, c domain.Comment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cases.comments (
			id, case_id, author_principal_id, author_name, author_email,
			content, visibility, author_role_snapshot, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.CaseID, c.AuthorPrincipalID, c.AuthorName, c.AuthorEmail,
		c.Content, string(c.Visibility), c.AuthorRoleSnapshot, c.CreatedAt)
	if err != nil {
		return mapWriteError(err, "comment")
	}
	return nil
}
