package service

import (
	"context"
	"log/slog"

	"github.com/loomtrack/issues/internal/auth"
	"github.com/loomtrack/issues/internal/domain"
)

// SideEffects coordinates the collaborator calls that follow a successful
// write: the audit record, the assignee notification, and attachment blob
// cleanup. Every effect is best-effort: failures are logged and never fail
// or roll back the primary operation.
type SideEffects struct {
	audit  AuditLogger
	notify Notifier
	blobs  BlobStore
}

// NewSideEffects creates the coordinator.
func NewSideEffects(audit AuditLogger, notify Notifier, blobs BlobStore) *SideEffects {
	return &SideEffects{audit: audit, notify: notify, blobs: blobs}
}

// ChangeRecord describes one persisted change for the side-effect pipeline.
// Everything it carries is captured by value before the request context can
// be torn down.
type ChangeRecord struct {
	Identity      auth.Identity
	Issue         *domain.Issue
	Action        string
	Description   string
	Before        *domain.Issue
	After         *domain.Issue
	NotifyMessage string
	NotifyType    string
	RemovedFiles  []string
}

// Record queues the effects for one change on the transaction. Hooks run
// only after the commit succeeds, in order: audit, then notification (only
// when the saved aggregate has an assignee), then blob cleanup. A rollback
// drops all of them.
func (e *SideEffects) Record(tx Tx, rec ChangeRecord) {
	issue := rec.Issue
	identity := rec.Identity

	tx.OnCommit(func() {
		ctx := context.Background()

		err := e.audit.LogChange(ctx, issue.ID, issue.Title, identity.UserID,
			rec.Action, rec.Description, issue.ProjectID, rec.Before, rec.After, identity.Token)
		if err != nil {
			slog.Error("audit log failed", "issue_id", issue.ID, "action", rec.Action, "error", err)
		}

		if rec.NotifyMessage != "" && issue.AssignedID != nil {
			err := e.notify.Send(ctx, *issue.AssignedID, rec.NotifyMessage, rec.NotifyType,
				map[string]string{
					"issueId":   issue.ID.String(),
					"projectId": issue.ProjectID.String(),
				},
				issue.ProjectID, issue.ID)
			if err != nil {
				slog.Error("notification failed", "issue_id", issue.ID, "user_id", *issue.AssignedID, "error", err)
			}
		}

		for _, url := range rec.RemovedFiles {
			if err := e.blobs.Delete(url); err != nil {
				slog.Error("blob delete failed", "file_url", url, "error", err)
			}
		}
	})
}
