package service

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
	"github.com/loomtrack/issues/internal/search"
)

// Tx is one write transaction over the issue collections. OnCommit callbacks
// run only after the commit succeeds; a rollback discards them.
type Tx interface {
	SaveIssue(ctx context.Context, issue *domain.Issue) error
	SaveIssues(ctx context.Context, issues []*domain.Issue) error
	DeleteIssue(ctx context.Context, id uuid.UUID) error
	DeleteIssues(ctx context.Context, ids []uuid.UUID) error
	SaveAttachments(ctx context.Context, files []domain.DescriptionFile) error
	InsertRelation(ctx context.Context, rel *domain.IssueRelation) error
	DeleteRelation(ctx context.Context, sourceID, targetID uuid.UUID) (bool, error)
	OnCommit(fn func())
}

// Store is the issue storage abstraction consumed by the services.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Issue, error)
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	FindAllByID(ctx context.Context, ids []uuid.UUID) ([]*domain.Issue, error)
	FindSubtasks(ctx context.Context, parentID uuid.UUID) ([]*domain.Issue, error)
	FindDescription(ctx context.Context, id uuid.UUID) (*domain.Description, error)
	Search(ctx context.Context, pred search.Predicate, page search.Page) ([]*domain.Issue, int64, error)
	RelationsFrom(ctx context.Context, issueID uuid.UUID) ([]domain.IssueRelation, error)
	RelationsTo(ctx context.Context, issueID uuid.UUID) ([]domain.IssueRelation, error)
	RelationExists(ctx context.Context, sourceID, targetID uuid.UUID) (bool, error)
}

// ProjectValidator checks projects against the project service. These checks
// gate the primary operation: a false answer aborts it.
type ProjectValidator interface {
	ValidateProjectExists(ctx context.Context, projectID uuid.UUID, token string) bool
	ValidateProjectParticipant(ctx context.Context, projectID uuid.UUID, token string) bool
}

// UserDirectory resolves users through the user service. UserExists gates
// assignment; GetUsersBasicData is best-effort.
type UserDirectory interface {
	UserExists(ctx context.Context, userID uuid.UUID, token string) bool
	GetUsersBasicData(ctx context.Context, token string, ids []uuid.UUID) []domain.UserSummary
}

// AuditLogger ships change records to the audit service (best-effort).
type AuditLogger interface {
	LogChange(ctx context.Context, issueID uuid.UUID, issueTitle string, userID uuid.UUID,
		action, description string, projectID uuid.UUID, before, after *domain.Issue, token string) error
}

// Notifier dispatches user notifications (best-effort, post-commit).
type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, message, notifType string,
		metadata map[string]string, projectID, issueID uuid.UUID) error
}

// BlobStore holds attachment blobs.
type BlobStore interface {
	Store(r io.Reader, originalName string) (fileName, fileURL string, err error)
	Delete(fileURL string) error
}
