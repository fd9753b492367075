package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/auth"
	"github.com/loomtrack/issues/internal/domain"
	"github.com/loomtrack/issues/internal/remote"
	"github.com/loomtrack/issues/internal/search"
)

// IssueService implements the issue use cases: create, search, update,
// delete, assignment, sprint membership, and attachment uploads. Every
// operation reads the caller's identity from the request context, validates
// against the remote collaborators, performs the domain work, persists, and
// hands off to the side-effect coordinator.
type IssueService struct {
	store    Store
	projects ProjectValidator
	users    UserDirectory
	effects  *SideEffects
	now      func() time.Time
}

// NewIssueService creates an IssueService.
func NewIssueService(store Store, projects ProjectValidator, users UserDirectory, effects *SideEffects) *IssueService {
	return &IssueService{
		store:    store,
		projects: projects,
		users:    users,
		effects:  effects,
		now:      time.Now,
	}
}

// CreateIssueInput is the payload for issue creation.
type CreateIssueInput struct {
	Title         string             `json:"title" validate:"required,max=150"`
	EstimatedTime int                `json:"estimated_time" validate:"gte=0"`
	ProjectID     uuid.UUID          `json:"project_id"`
	SprintID      *uuid.UUID         `json:"sprint_id,omitempty"`
	Priority      *int64             `json:"priority,omitempty"`
	Status        *int64             `json:"status,omitempty"`
	Type          *int64             `json:"type,omitempty"`
	StartDate     *time.Time         `json:"start_date,omitempty"`
	EndDate       *time.Time         `json:"end_date,omitempty"`
	RealDate      *time.Time         `json:"real_date,omitempty"`
	AssignedID    *uuid.UUID         `json:"assigned_id,omitempty"`
	Descriptions  []DescriptionPatch `json:"descriptions,omitempty"`
}

// Create validates the project and assignee, builds the aggregate with the
// caller as reporter, persists it, and schedules the audit record and the
// assignee notification for after commit.
func (s *IssueService) Create(ctx context.Context, in CreateIssueInput) (IssueView, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return IssueView{}, err
	}

	if !s.projects.ValidateProjectExists(ctx, in.ProjectID, identity.Token) {
		return IssueView{}, fmt.Errorf("%w: project %s", domain.ErrNotFound, in.ProjectID)
	}
	if !s.projects.ValidateProjectParticipant(ctx, in.ProjectID, identity.Token) {
		return IssueView{}, fmt.Errorf("%w: not a participant in this project", domain.ErrForbidden)
	}
	if in.AssignedID != nil && !s.users.UserExists(ctx, *in.AssignedID, identity.Token) {
		return IssueView{}, fmt.Errorf("%w: assigned user %s", domain.ErrNotFound, *in.AssignedID)
	}

	issue := s.buildIssue(in, identity)

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.SaveIssue(ctx, issue); err != nil {
			return err
		}
		s.effects.Record(tx, ChangeRecord{
			Identity:      identity,
			Issue:         issue,
			Action:        "CREATE",
			Description:   "Issue created",
			After:         issue.Clone(),
			NotifyMessage: "You have been assigned to a new issue: " + issue.Title,
			NotifyType:    remote.NotificationIssueAssigned,
		})
		return nil
	})
	if err != nil {
		return IssueView{}, err
	}

	slog.Info("issue created", "issue_id", issue.ID, "project_id", issue.ProjectID, "reporter_id", identity.UserID)
	return buildView(ctx, s.store, s.users, identity.Token, issue), nil
}

// CreateBatch imports several issues in a single transaction, stamping the
// caller as reporter on each.
func (s *IssueService) CreateBatch(ctx context.Context, inputs []CreateIssueInput) ([]IssueView, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: issue list cannot be empty", domain.ErrInvalidInput)
	}

	issues := make([]*domain.Issue, 0, len(inputs))
	for _, in := range inputs {
		issues = append(issues, s.buildIssue(in, identity))
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		return tx.SaveIssues(ctx, issues)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("issue batch imported", "count", len(issues), "reporter_id", identity.UserID)
	return buildViews(ctx, s.store, s.users, identity.Token, issues), nil
}

// Get loads one aggregate, enforcing project participation.
func (s *IssueService) Get(ctx context.Context, id uuid.UUID) (IssueView, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return IssueView{}, err
	}

	issue, err := s.store.FindByID(ctx, id)
	if err != nil {
		return IssueView{}, err
	}
	if !s.projects.ValidateProjectParticipant(ctx, issue.ProjectID, identity.Token) {
		return IssueView{}, fmt.Errorf("%w: not a participant in this project", domain.ErrForbidden)
	}
	return buildView(ctx, s.store, s.users, identity.Token, issue), nil
}

// Exists reports whether an issue exists, for the internal validation
// endpoint consumed by sibling services.
func (s *IssueService) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.store.ExistsByID(ctx, id)
}

// SearchResult is one page of enriched search matches.
type SearchResult struct {
	Issues []IssueView `json:"issues"`
	Total  int64       `json:"total"`
}

// Search composes the filter into a predicate, executes it through the
// storage layer, and enriches the page with best-effort user data.
func (s *IssueService) Search(ctx context.Context, filter search.Filter, page search.Page) (SearchResult, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	if filter.ProjectID == nil {
		return SearchResult{}, fmt.Errorf("%w: project id is required", domain.ErrInvalidInput)
	}
	if !s.projects.ValidateProjectParticipant(ctx, *filter.ProjectID, identity.Token) {
		return SearchResult{}, fmt.Errorf("%w: not a participant in this project", domain.ErrForbidden)
	}

	issues, total, err := s.store.Search(ctx, filter.Predicate(), page)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search issues: %w", err)
	}

	return SearchResult{
		Issues: buildViews(ctx, s.store, s.users, identity.Token, issues),
		Total:  total,
	}, nil
}

// Update reconciles the incoming representation against the persisted
// aggregate, persists the result once, and schedules audit, notification,
// and blob cleanup when anything changed.
func (s *IssueService) Update(ctx context.Context, id uuid.UUID, patch IssuePatch) (IssueView, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return IssueView{}, err
	}

	issue, err := s.store.FindByID(ctx, id)
	if err != nil {
		return IssueView{}, err
	}
	if !s.projects.ValidateProjectParticipant(ctx, issue.ProjectID, identity.Token) {
		return IssueView{}, fmt.Errorf("%w: not a participant in this project", domain.ErrForbidden)
	}

	cd, err := reconcileIssue(issue, patch, s.now())
	if err != nil {
		return IssueView{}, err
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.SaveIssue(ctx, issue); err != nil {
			return err
		}
		if cd.Changed() {
			message := "An issue you are assigned to was updated: " + issue.Title
			if issue.ParentID != nil {
				message = "A subtask you are assigned to was updated: " + issue.Title
			}
			s.effects.Record(tx, ChangeRecord{
				Identity:      identity,
				Issue:         issue,
				Action:        "UPDATE",
				Description:   "Updated fields: " + joinFields(cd.Fields),
				Before:        cd.Before,
				After:         cd.After,
				NotifyMessage: message,
				NotifyType:    remote.NotificationIssueUpdated,
				RemovedFiles:  cd.RemovedFiles,
			})
		}
		return nil
	})
	if err != nil {
		return IssueView{}, err
	}

	slog.Info("issue updated", "issue_id", issue.ID, "changed_fields", cd.Fields)
	return buildView(ctx, s.store, s.users, identity.Token, issue), nil
}

// Delete removes the aggregate and schedules the audit record and the
// cleanup of every attachment blob it owned.
func (s *IssueService) Delete(ctx context.Context, id uuid.UUID) error {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return err
	}

	issue, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.projects.ValidateProjectParticipant(ctx, issue.ProjectID, identity.Token) {
		return fmt.Errorf("%w: not a participant in this project", domain.ErrForbidden)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.DeleteIssue(ctx, issue.ID); err != nil {
			return err
		}
		s.effects.Record(tx, ChangeRecord{
			Identity:     identity,
			Issue:        issue,
			Action:       "DELETE",
			Description:  "Issue deleted",
			Before:       issue,
			RemovedFiles: attachmentURLs(issue),
		})
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("issue deleted", "issue_id", id, "actor_id", identity.UserID)
	return nil
}

// DeleteBatch removes several aggregates atomically: every id must resolve
// and every touched project must pass the participant check before any row
// is deleted.
func (s *IssueService) DeleteBatch(ctx context.Context, ids []uuid.UUID) error {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: id list cannot be empty", domain.ErrInvalidInput)
	}

	issues, err := s.store.FindAllByID(ctx, ids)
	if err != nil {
		return err
	}
	if len(issues) != len(ids) {
		return fmt.Errorf("%w: some issues do not exist", domain.ErrNotFound)
	}

	checked := make(map[uuid.UUID]bool)
	for _, issue := range issues {
		if checked[issue.ProjectID] {
			continue
		}
		if !s.projects.ValidateProjectParticipant(ctx, issue.ProjectID, identity.Token) {
			return fmt.Errorf("%w: not a participant in one or more projects", domain.ErrForbidden)
		}
		checked[issue.ProjectID] = true
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.DeleteIssues(ctx, ids); err != nil {
			return err
		}
		for _, issue := range issues {
			s.effects.Record(tx, ChangeRecord{
				Identity:     identity,
				Issue:        issue,
				Action:       "DELETE",
				Description:  "Issue deleted in batch",
				Before:       issue,
				RemovedFiles: attachmentURLs(issue),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("issue batch deleted", "count", len(ids), "actor_id", identity.UserID)
	return nil
}

// AssignUser sets or clears the assignee through the dedicated assignment
// operation and notifies the new assignee after commit.
func (s *IssueService) AssignUser(ctx context.Context, issueID uuid.UUID, assignedID *uuid.UUID) (IssueView, error) {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return IssueView{}, err
	}

	issue, err := s.store.FindByID(ctx, issueID)
	if err != nil {
		return IssueView{}, err
	}
	if !s.projects.ValidateProjectParticipant(ctx, issue.ProjectID, identity.Token) {
		return IssueView{}, fmt.Errorf("%w: not a participant in this project", domain.ErrForbidden)
	}

	before := issue.Clone()
	auditDescription := "User unassigned from issue"
	if assignedID != nil {
		if !s.users.UserExists(ctx, *assignedID, identity.Token) {
			return IssueView{}, fmt.Errorf("%w: assigned user %s", domain.ErrNotFound, *assignedID)
		}
		auditDescription = "User assigned to issue"
	}
	issue.AssignedID = assignedID
	issue.UpdatedAt = s.now()

	message := "You have been assigned an issue: " + issue.Title
	if issue.ParentID != nil {
		message = "You have been assigned a subtask: " + issue.Title
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.SaveIssue(ctx, issue); err != nil {
			return err
		}
		s.effects.Record(tx, ChangeRecord{
			Identity:      identity,
			Issue:         issue,
			Action:        "ASSIGN",
			Description:   auditDescription,
			Before:        before,
			After:         issue.Clone(),
			NotifyMessage: message,
			NotifyType:    remote.NotificationIssueAssigned,
		})
		return nil
	})
	if err != nil {
		return IssueView{}, err
	}

	slog.Info("issue assignment changed", "issue_id", issueID, "assigned_id", assignedID)
	return buildView(ctx, s.store, s.users, identity.Token, issue), nil
}

// AssignSprint moves a batch of issues into a sprint, all-or-nothing on
// resolution. Subtasks never carry a sprint, so a subtask in the batch
// rejects the whole operation.
func (s *IssueService) AssignSprint(ctx context.Context, issueIDs []uuid.UUID, sprintID uuid.UUID) error {
	return s.updateSprint(ctx, issueIDs, &sprintID, "SPRINT_ASSIGN", "Sprint assigned: "+sprintID.String())
}

// RemoveSprint clears sprint membership for a batch of issues,
// all-or-nothing on resolution.
func (s *IssueService) RemoveSprint(ctx context.Context, issueIDs []uuid.UUID) error {
	return s.updateSprint(ctx, issueIDs, nil, "SPRINT_REMOVE", "Sprint removed from issue")
}

func (s *IssueService) updateSprint(ctx context.Context, issueIDs []uuid.UUID, sprintID *uuid.UUID, action, description string) error {
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return err
	}
	if len(issueIDs) == 0 {
		return fmt.Errorf("%w: id list cannot be empty", domain.ErrInvalidInput)
	}

	issues, err := s.store.FindAllByID(ctx, issueIDs)
	if err != nil {
		return err
	}
	if len(issues) != len(issueIDs) {
		return fmt.Errorf("%w: some issues do not exist", domain.ErrNotFound)
	}

	now := s.now()
	for _, issue := range issues {
		if sprintID != nil && issue.ParentID != nil {
			return fmt.Errorf("%w: subtask %s cannot join a sprint", domain.ErrInvalidInput, issue.ID)
		}
		issue.SprintID = sprintID
		issue.UpdatedAt = now
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.SaveIssues(ctx, issues); err != nil {
			return err
		}
		for _, issue := range issues {
			s.effects.Record(tx, ChangeRecord{
				Identity:    identity,
				Issue:       issue,
				Action:      action,
				Description: description,
				After:       issue.Clone(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("sprint membership updated", "count", len(issues), "action", action)
	return nil
}

// FileUpload is one uploaded attachment body.
type FileUpload struct {
	Name   string
	Reader io.Reader
}

// AddFiles stores the uploaded blobs and attaches them to a description of
// the issue.
func (s *IssueService) AddFiles(ctx context.Context, issueID, descriptionID uuid.UUID, uploads []FileUpload) ([]domain.DescriptionFile, error) {
	exists, err := s.store.ExistsByID(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: issue %s", domain.ErrNotFound, issueID)
	}

	desc, err := s.store.FindDescription(ctx, descriptionID)
	if err != nil {
		return nil, err
	}
	if desc.IssueID != issueID {
		return nil, fmt.Errorf("%w: description does not belong to this issue", domain.ErrInvalidInput)
	}
	if len(uploads) == 0 {
		return nil, nil
	}

	files := make([]domain.DescriptionFile, 0, len(uploads))
	for _, up := range uploads {
		fileName, fileURL, err := s.effects.blobs.Store(up.Reader, up.Name)
		if err != nil {
			return nil, fmt.Errorf("store attachment: %w", err)
		}
		files = append(files, domain.DescriptionFile{
			ID:            uuid.New(),
			DescriptionID: descriptionID,
			FileName:      fileName,
			FileURL:       fileURL,
		})
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		return tx.SaveAttachments(ctx, files)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("attachments added", "issue_id", issueID, "description_id", descriptionID, "count", len(files))
	return files, nil
}

func (s *IssueService) buildIssue(in CreateIssueInput, identity auth.Identity) *domain.Issue {
	now := s.now()
	issue := &domain.Issue{
		ID:             uuid.New(),
		Title:          in.Title,
		EstimatedTime:  in.EstimatedTime,
		ProjectID:      in.ProjectID,
		SprintID:       in.SprintID,
		Priority:       in.Priority,
		Status:         in.Status,
		Type:           in.Type,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		RealDate:       in.RealDate,
		ReporterID:     identity.UserID,
		AssignedID:     in.AssignedID,
		OrganizationID: identity.OrganizationID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Descriptions:   []domain.Description{},
	}
	for _, dp := range in.Descriptions {
		desc := domain.Description{
			ID:          uuid.New(),
			IssueID:     issue.ID,
			Title:       dp.Title,
			Text:        dp.Text,
			Attachments: []domain.DescriptionFile{},
		}
		for _, ap := range dp.Attachments {
			desc.Attachments = append(desc.Attachments, domain.DescriptionFile{
				ID:            uuid.New(),
				DescriptionID: desc.ID,
				FileName:      ap.FileName,
				FileURL:       ap.FileURL,
			})
		}
		issue.Descriptions = append(issue.Descriptions, desc)
	}
	return issue
}

func attachmentURLs(issue *domain.Issue) []string {
	var urls []string
	for _, d := range issue.Descriptions {
		for _, f := range d.Attachments {
			urls = append(urls, f.FileURL)
		}
	}
	return urls
}

func joinFields(fields []string) string {
	return strings.Join(fields, ", ")
}
