package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

// RelationsFrom returns the outgoing edges of an issue.
func (d *DB) RelationsFrom(ctx context.Context, issueID uuid.UUID) ([]domain.IssueRelation, error) {
	var rels []domain.IssueRelation
	err := d.db.SelectContext(ctx, &rels,
		`SELECT id, source_id, target_id FROM issue_relation WHERE source_id = $1 ORDER BY id`,
		issueID)
	if err != nil {
		return nil, fmt.Errorf("relations from %s: %w", issueID, err)
	}
	return rels, nil
}

// RelationsTo returns the incoming edges of an issue.
func (d *DB) RelationsTo(ctx context.Context, issueID uuid.UUID) ([]domain.IssueRelation, error) {
	var rels []domain.IssueRelation
	err := d.db.SelectContext(ctx, &rels,
		`SELECT id, source_id, target_id FROM issue_relation WHERE target_id = $1 ORDER BY id`,
		issueID)
	if err != nil {
		return nil, fmt.Errorf("relations to %s: %w", issueID, err)
	}
	return rels, nil
}

// RelationExists reports whether the directed edge already exists.
func (d *DB) RelationExists(ctx context.Context, sourceID, targetID uuid.UUID) (bool, error) {
	var exists bool
	err := d.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM issue_relation WHERE source_id = $1 AND target_id = $2)`,
		sourceID, targetID)
	if err != nil {
		return false, fmt.Errorf("relation exists %s->%s: %w", sourceID, targetID, err)
	}
	return exists, nil
}

// InsertRelation adds a directed edge. The unique constraint on the ordered
// pair surfaces duplicates as ErrConflict.
func (t *Tx) InsertRelation(ctx context.Context, rel *domain.IssueRelation) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO issue_relation (source_id, target_id) VALUES ($1, $2) RETURNING id`,
		rel.SourceID, rel.TargetID).Scan(&rel.ID)
	if err != nil {
		return wrapWriteErr("insert relation", err)
	}
	return nil
}

// DeleteRelation removes a directed edge, reporting whether it existed.
func (t *Tx) DeleteRelation(ctx context.Context, sourceID, targetID uuid.UUID) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM issue_relation WHERE source_id = $1 AND target_id = $2`,
		sourceID, targetID)
	if err != nil {
		return false, wrapWriteErr("delete relation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete relation: %w", err)
	}
	return n > 0, nil
}
