package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/auth"
	"github.com/loomtrack/issues/internal/domain"
	"github.com/loomtrack/issues/internal/remote"
)

// RelationService implements the hierarchy and cross-link use cases:
// subtasks under a parent issue and arbitrary directed relations between
// issues.
type RelationService struct {
	store    Store
	projects ProjectValidator
	users    UserDirectory
	effects  *SideEffects
	now      func() time.Time
}

// NewRelationService creates a RelationService.
func NewRelationService(store Store, projects ProjectValidator, users UserDirectory, effects *SideEffects) *RelationService {
	return &RelationService{
		store:    store,
		projects: projects,
		users:    users,
		effects:  effects,
		now:      time.Now,
	}
}

// CreateSubtask creates a new issue under the given parent. The subtask
// inherits the parent's project and organization and never carries a sprint.
func (s *RelationService) CreateSubtask(ctx context.Context, parentID uuid.UUID, in CreateIssueInput) (IssueView, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return IssueView{}, err
	}

	parent, err := s.store.FindByID(ctx, parentID)
	if err != nil {
		return IssueView{}, fmt.Errorf("parent issue: %w", err)
	}
	if !s.projects.ValidateProjectParticipant(ctx, parent.ProjectID, identity.Token) {
		return IssueView{}, fmt.Errorf("%w: not a participant in this project", domain.ErrForbidden)
	}
	if in.AssignedID != nil && !s.users.UserExists(ctx, *in.AssignedID, identity.Token) {
		return IssueView{}, fmt.Errorf("%w: assigned user %s", domain.ErrNotFound, *in.AssignedID)
	}

	now := s.now()
	subtask := &domain.Issue{
		ID:             uuid.New(),
		Title:          in.Title,
		EstimatedTime:  in.EstimatedTime,
		ProjectID:      parent.ProjectID,
		Priority:       in.Priority,
		Status:         in.Status,
		Type:           in.Type,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		RealDate:       in.RealDate,
		ReporterID:     identity.UserID,
		AssignedID:     in.AssignedID,
		OrganizationID: parent.OrganizationID,
		ParentID:       &parent.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Descriptions:   []domain.Description{},
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.SaveIssue(ctx, subtask); err != nil {
			return err
		}
		s.effects.Record(tx, ChangeRecord{
			Identity:      identity,
			Issue:         subtask,
			Action:        "CREATE",
			Description:   "Subtask created",
			After:         subtask.Clone(),
			NotifyMessage: "You have been assigned to a new subtask: " + subtask.Title,
			NotifyType:    remote.NotificationIssueAssigned,
		})
		return nil
	})
	if err != nil {
		return IssueView{}, err
	}

	slog.Info("subtask created", "subtask_id", subtask.ID, "parent_id", parentID)
	return buildView(ctx, s.store, s.users, identity.Token, subtask), nil
}

// Subtasks lists the children of a parent issue.
func (s *RelationService) Subtasks(ctx context.Context, parentID uuid.UUID) ([]IssueView, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	subtasks, err := s.store.FindSubtasks(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if len(subtasks) == 0 {
		return []IssueView{}, nil
	}
	return buildViews(ctx, s.store, s.users, identity.Token, subtasks), nil
}

// Relate adds a directed edge between two existing issues. Self-relations
// and duplicate edges for the same ordered pair are rejected.
func (s *RelationService) Relate(ctx context.Context, sourceID, targetID uuid.UUID) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: an issue cannot relate to itself", domain.ErrInvalidInput)
	}
	if err := s.requireIssue(ctx, sourceID); err != nil {
		return err
	}
	if err := s.requireIssue(ctx, targetID); err != nil {
		return err
	}

	exists, err := s.store.RelationExists(ctx, sourceID, targetID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: issues are already related", domain.ErrConflict)
	}

	return s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertRelation(ctx, &domain.IssueRelation{SourceID: sourceID, TargetID: targetID})
	})
}

// RelateMany adds edges from one source to several targets, skipping pairs
// that already exist. Every target must resolve; adding zero new edges is a
// conflict.
func (s *RelationService) RelateMany(ctx context.Context, sourceID uuid.UUID, targetIDs []uuid.UUID) error {
	if err := s.requireIssue(ctx, sourceID); err != nil {
		return err
	}

	existing, err := s.store.RelationsFrom(ctx, sourceID)
	if err != nil {
		return err
	}
	related := make(map[uuid.UUID]bool, len(existing))
	for _, rel := range existing {
		related[rel.TargetID] = true
	}

	var fresh []uuid.UUID
	for _, targetID := range targetIDs {
		if targetID == sourceID || related[targetID] {
			continue
		}
		if err := s.requireIssue(ctx, targetID); err != nil {
			return err
		}
		fresh = append(fresh, targetID)
	}
	if len(fresh) == 0 {
		return fmt.Errorf("%w: no new relations to add", domain.ErrConflict)
	}

	return s.store.InTx(ctx, func(tx Tx) error {
		for _, targetID := range fresh {
			err := tx.InsertRelation(ctx, &domain.IssueRelation{SourceID: sourceID, TargetID: targetID})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Unrelate removes a directed edge.
func (s *RelationService) Unrelate(ctx context.Context, sourceID, targetID uuid.UUID) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		removed, err := tx.DeleteRelation(ctx, sourceID, targetID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: relation", domain.ErrNotFound)
		}
		return nil
	})
}

// UnrelateMany removes the edges from the source to each listed target.
// Removing nothing at all is NotFound.
func (s *RelationService) UnrelateMany(ctx context.Context, sourceID uuid.UUID, targetIDs []uuid.UUID) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		removedAny := false
		for _, targetID := range targetIDs {
			removed, err := tx.DeleteRelation(ctx, sourceID, targetID)
			if err != nil {
				return err
			}
			removedAny = removedAny || removed
		}
		if !removedAny {
			return fmt.Errorf("%w: no relations to remove", domain.ErrNotFound)
		}
		return nil
	})
}

// RelatedFrom returns the outgoing edges of an issue.
func (s *RelationService) RelatedFrom(ctx context.Context, issueID uuid.UUID) ([]domain.IssueRelation, error) {
	return s.store.RelationsFrom(ctx, issueID)
}

// RelatedTo returns the incoming edges of an issue.
func (s *RelationService) RelatedTo(ctx context.Context, issueID uuid.UUID) ([]domain.IssueRelation, error) {
	return s.store.RelationsTo(ctx, issueID)
}

func (s *RelationService) requireIssue(ctx context.Context, id uuid.UUID) error {
	exists, err := s.store.ExistsByID(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: issue %s", domain.ErrNotFound, id)
	}
	return nil
}
