package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/loomtrack/issues/internal/domain"
	"github.com/loomtrack/issues/internal/search"
)

const pgUniqueViolation = "23505"

const issueSelect = `SELECT i.id, i.title, i.estimated_time, i.project_id, i.sprint_id,
	i.priority, i.status, i.type, i.start_date, i.end_date, i.real_date,
	i.reporter_id, i.assigned_id, i.organization_id, i.parent_id,
	i.created_at, i.updated_at FROM issue i`

// FindByID loads the full aggregate: the issue row plus its descriptions and
// their attachments.
func (d *DB) FindByID(ctx context.Context, id uuid.UUID) (*domain.Issue, error) {
	var issue domain.Issue
	err := d.db.GetContext(ctx, &issue, issueSelect+` WHERE i.id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find issue %s: %w", id, err)
	}

	issues := []*domain.Issue{&issue}
	if err := d.loadDescriptions(ctx, issues); err != nil {
		return nil, err
	}
	return &issue, nil
}

// ExistsByID reports whether an issue row exists.
func (d *DB) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := d.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM issue WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("issue exists %s: %w", id, err)
	}
	return exists, nil
}

// FindAllByID loads the aggregates for each id. Missing ids simply produce a
// shorter result; callers needing all-or-nothing compare the lengths.
func (d *DB) FindAllByID(ctx context.Context, ids []uuid.UUID) ([]*domain.Issue, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(issueSelect+` WHERE i.id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build find-all query: %w", err)
	}
	var issues []*domain.Issue
	if err := d.db.SelectContext(ctx, &issues, d.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find issues by ids: %w", err)
	}
	if err := d.loadDescriptions(ctx, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// FindSubtasks loads the aggregates whose parent is the given issue.
func (d *DB) FindSubtasks(ctx context.Context, parentID uuid.UUID) ([]*domain.Issue, error) {
	var issues []*domain.Issue
	err := d.db.SelectContext(ctx, &issues,
		issueSelect+` WHERE i.parent_id = $1 ORDER BY i.created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("find subtasks of %s: %w", parentID, err)
	}
	if err := d.loadDescriptions(ctx, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// Search interprets the predicate into SQL and returns one page of matching
// aggregates together with the total match count.
func (d *DB) Search(ctx context.Context, pred search.Predicate, page search.Page) ([]*domain.Issue, int64, error) {
	c, err := compilePredicate(pred)
	if err != nil {
		return nil, 0, fmt.Errorf("compile predicate: %w", err)
	}

	from := "FROM issue i"
	projection := "i.id, i.title, i.estimated_time, i.project_id, i.sprint_id, " +
		"i.priority, i.status, i.type, i.start_date, i.end_date, i.real_date, " +
		"i.reporter_id, i.assigned_id, i.organization_id, i.parent_id, i.created_at, i.updated_at"
	countExpr := "COUNT(*)"
	if c.joinDescriptions {
		from += " LEFT JOIN description d ON d.issue_id = i.id"
		projection = "DISTINCT " + projection
		countExpr = "COUNT(DISTINCT i.id)"
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT %s %s WHERE %s", countExpr, from, c.where)
	if err := d.db.GetContext(ctx, &total, countQuery, c.args...); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	query := fmt.Sprintf("SELECT %s %s WHERE %s %s LIMIT %d OFFSET %d",
		projection, from, c.where, orderClause(page), page.Limit, page.Offset)

	var issues []*domain.Issue
	if err := d.db.SelectContext(ctx, &issues, query, c.args...); err != nil {
		return nil, 0, fmt.Errorf("search issues: %w", err)
	}
	if err := d.loadDescriptions(ctx, issues); err != nil {
		return nil, 0, err
	}
	return issues, total, nil
}

// FindDescription loads a single description with its attachments.
func (d *DB) FindDescription(ctx context.Context, id uuid.UUID) (*domain.Description, error) {
	var desc domain.Description
	err := d.db.GetContext(ctx, &desc,
		`SELECT id, issue_id, title, text FROM description WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find description %s: %w", id, err)
	}
	err = d.db.SelectContext(ctx, &desc.Attachments,
		`SELECT id, description_id, file_name, file_url FROM description_file
		 WHERE description_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("find attachments of %s: %w", id, err)
	}
	return &desc, nil
}

func (d *DB) loadDescriptions(ctx context.Context, issues []*domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(issues))
	byID := make(map[uuid.UUID]*domain.Issue, len(issues))
	for _, issue := range issues {
		issue.Descriptions = []domain.Description{}
		ids = append(ids, issue.ID)
		byID[issue.ID] = issue
	}

	query, args, err := sqlx.In(
		`SELECT id, issue_id, title, text FROM description WHERE issue_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("build descriptions query: %w", err)
	}
	var descs []domain.Description
	if err := d.db.SelectContext(ctx, &descs, d.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load descriptions: %w", err)
	}
	if len(descs) == 0 {
		return nil
	}

	descIDs := make([]uuid.UUID, 0, len(descs))
	for i := range descs {
		descs[i].Attachments = []domain.DescriptionFile{}
		descIDs = append(descIDs, descs[i].ID)
	}
	query, args, err = sqlx.In(
		`SELECT id, description_id, file_name, file_url FROM description_file
		 WHERE description_id IN (?) ORDER BY id`, descIDs)
	if err != nil {
		return fmt.Errorf("build attachments query: %w", err)
	}
	var files []domain.DescriptionFile
	if err := d.db.SelectContext(ctx, &files, d.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}

	filesByDesc := make(map[uuid.UUID][]domain.DescriptionFile)
	for _, f := range files {
		filesByDesc[f.DescriptionID] = append(filesByDesc[f.DescriptionID], f)
	}
	for i := range descs {
		if fs, ok := filesByDesc[descs[i].ID]; ok {
			descs[i].Attachments = fs
		}
	}
	for _, desc := range descs {
		owner := byID[desc.IssueID]
		owner.Descriptions = append(owner.Descriptions, desc)
	}
	return nil
}

// SaveIssue writes the whole aggregate: upserts the issue row, upserts the
// descriptions and attachments it carries, and deletes child rows no longer
// present in the aggregate.
func (t *Tx) SaveIssue(ctx context.Context, issue *domain.Issue) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO issue (id, title, estimated_time, project_id, sprint_id, priority,
			status, type, start_date, end_date, real_date, reporter_id, assigned_id,
			organization_id, parent_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			estimated_time = EXCLUDED.estimated_time,
			sprint_id = EXCLUDED.sprint_id,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			type = EXCLUDED.type,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			real_date = EXCLUDED.real_date,
			assigned_id = EXCLUDED.assigned_id,
			parent_id = EXCLUDED.parent_id,
			updated_at = EXCLUDED.updated_at`,
		issue.ID, issue.Title, issue.EstimatedTime, issue.ProjectID, issue.SprintID,
		issue.Priority, issue.Status, issue.Type, issue.StartDate, issue.EndDate,
		issue.RealDate, issue.ReporterID, issue.AssignedID, issue.OrganizationID,
		issue.ParentID, issue.CreatedAt, issue.UpdatedAt)
	if err != nil {
		return wrapWriteErr("save issue", err)
	}

	keptDescs := make([]uuid.UUID, 0, len(issue.Descriptions))
	for i := range issue.Descriptions {
		desc := &issue.Descriptions[i]
		keptDescs = append(keptDescs, desc.ID)

		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO description (id, issue_id, title, text)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, text = EXCLUDED.text`,
			desc.ID, issue.ID, desc.Title, desc.Text)
		if err != nil {
			return wrapWriteErr("save description", err)
		}

		keptFiles := make([]uuid.UUID, 0, len(desc.Attachments))
		for _, f := range desc.Attachments {
			keptFiles = append(keptFiles, f.ID)
			_, err := t.tx.ExecContext(ctx,
				`INSERT INTO description_file (id, description_id, file_name, file_url)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (id) DO NOTHING`,
				f.ID, desc.ID, f.FileName, f.FileURL)
			if err != nil {
				return wrapWriteErr("save attachment", err)
			}
		}
		if err := t.deleteMissing(ctx, "description_file", "description_id", desc.ID, keptFiles); err != nil {
			return err
		}
	}

	if err := t.deleteOrphanAttachments(ctx, issue.ID, keptDescs); err != nil {
		return err
	}
	if err := t.deleteMissing(ctx, "description", "issue_id", issue.ID, keptDescs); err != nil {
		return err
	}
	return nil
}

// SaveIssues writes several aggregates in the same transaction.
func (t *Tx) SaveIssues(ctx context.Context, issues []*domain.Issue) error {
	for _, issue := range issues {
		if err := t.SaveIssue(ctx, issue); err != nil {
			return err
		}
	}
	return nil
}

// DeleteIssue removes the aggregate and its owned child rows.
func (t *Tx) DeleteIssue(ctx context.Context, id uuid.UUID) error {
	return t.DeleteIssues(ctx, []uuid.UUID{id})
}

// DeleteIssues removes several aggregates, their children, and any relation
// edges touching them.
func (t *Tx) DeleteIssues(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	statements := []string{
		`DELETE FROM description_file WHERE description_id IN
			(SELECT id FROM description WHERE issue_id IN (?))`,
		`DELETE FROM description WHERE issue_id IN (?)`,
		`DELETE FROM issue_relation WHERE source_id IN (?) OR target_id IN (?)`,
		`DELETE FROM issue WHERE id IN (?)`,
	}
	for _, stmt := range statements {
		args := []any{ids}
		if stmt == statements[2] {
			args = []any{ids, ids}
		}
		query, qargs, err := sqlx.In(stmt, args...)
		if err != nil {
			return fmt.Errorf("build delete query: %w", err)
		}
		if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), qargs...); err != nil {
			return wrapWriteErr("delete issues", err)
		}
	}
	return nil
}

// SaveAttachments inserts new attachment rows for a description.
func (t *Tx) SaveAttachments(ctx context.Context, files []domain.DescriptionFile) error {
	for _, f := range files {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO description_file (id, description_id, file_name, file_url)
			 VALUES ($1, $2, $3, $4)`,
			f.ID, f.DescriptionID, f.FileName, f.FileURL)
		if err != nil {
			return wrapWriteErr("save attachment", err)
		}
	}
	return nil
}

func (t *Tx) deleteMissing(ctx context.Context, table, ownerCol string, owner uuid.UUID, kept []uuid.UUID) error {
	var query string
	var args []any
	var err error
	if len(kept) == 0 {
		query = fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, ownerCol)
		args = []any{owner}
	} else {
		query, args, err = sqlx.In(
			fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND id NOT IN (?)", table, ownerCol),
			owner, kept)
		if err != nil {
			return fmt.Errorf("build prune query: %w", err)
		}
		query = t.tx.Rebind(query)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return wrapWriteErr("prune "+table, err)
	}
	return nil
}

// deleteOrphanAttachments removes attachment rows owned by descriptions that
// are themselves about to be pruned from the aggregate.
func (t *Tx) deleteOrphanAttachments(ctx context.Context, issueID uuid.UUID, keptDescs []uuid.UUID) error {
	var query string
	var args []any
	var err error
	if len(keptDescs) == 0 {
		query = `DELETE FROM description_file WHERE description_id IN
			(SELECT id FROM description WHERE issue_id = $1)`
		args = []any{issueID}
	} else {
		query, args, err = sqlx.In(
			`DELETE FROM description_file WHERE description_id IN
				(SELECT id FROM description WHERE issue_id = ? AND id NOT IN (?))`,
			issueID, keptDescs)
		if err != nil {
			return fmt.Errorf("build orphan-attachment query: %w", err)
		}
		query = t.tx.Rebind(query)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return wrapWriteErr("prune orphan attachments", err)
	}
	return nil
}

// wrapWriteErr maps storage constraint violations to the domain conflict
// error and wraps everything else.
func wrapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
