package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

// IssueView is an aggregate enriched for responses: resolved user data for
// reporter and assignee, plus minimal parent info for subtasks.
type IssueView struct {
	domain.Issue
	Reporter domain.UserSummary  `json:"reporter"`
	Assigned *domain.UserSummary `json:"assigned,omitempty"`
	Parent   *ParentInfo         `json:"parent,omitempty"`
}

// ParentInfo identifies the parent of a subtask.
type ParentInfo struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

// buildViews resolves user summaries and parent titles for a batch of
// aggregates. User resolution is best-effort: when the user service is
// unavailable the views keep bare ids with names unresolved.
func buildViews(ctx context.Context, store Store, users UserDirectory, token string, issues []*domain.Issue) []IssueView {
	userIDs := make(map[uuid.UUID]bool)
	parentIDs := make(map[uuid.UUID]bool)
	for _, issue := range issues {
		userIDs[issue.ReporterID] = true
		if issue.AssignedID != nil {
			userIDs[*issue.AssignedID] = true
		}
		if issue.ParentID != nil {
			parentIDs[*issue.ParentID] = true
		}
	}

	userMap := make(map[uuid.UUID]domain.UserSummary)
	if len(userIDs) > 0 {
		ids := make([]uuid.UUID, 0, len(userIDs))
		for id := range userIDs {
			ids = append(ids, id)
		}
		for _, u := range users.GetUsersBasicData(ctx, token, ids) {
			userMap[u.ID] = u
		}
	}

	parentMap := make(map[uuid.UUID]*domain.Issue)
	if len(parentIDs) > 0 {
		ids := make([]uuid.UUID, 0, len(parentIDs))
		for id := range parentIDs {
			ids = append(ids, id)
		}
		// Parent lookups degrade the same way: a missing parent just leaves
		// the view without parent info.
		if parents, err := store.FindAllByID(ctx, ids); err == nil {
			for _, p := range parents {
				parentMap[p.ID] = p
			}
		}
	}

	views := make([]IssueView, 0, len(issues))
	for _, issue := range issues {
		view := IssueView{Issue: *issue}

		view.Reporter = userMap[issue.ReporterID]
		if view.Reporter.ID == uuid.Nil {
			view.Reporter = domain.UserSummary{ID: issue.ReporterID}
		}
		if issue.AssignedID != nil {
			assigned := userMap[*issue.AssignedID]
			if assigned.ID == uuid.Nil {
				assigned = domain.UserSummary{ID: *issue.AssignedID}
			}
			view.Assigned = &assigned
		}
		if issue.ParentID != nil {
			if parent, ok := parentMap[*issue.ParentID]; ok {
				view.Parent = &ParentInfo{ID: parent.ID, Title: parent.Title}
			}
		}
		views = append(views, view)
	}
	return views
}

func buildView(ctx context.Context, store Store, users UserDirectory, token string, issue *domain.Issue) IssueView {
	return buildViews(ctx, store, users, token, []*domain.Issue{issue})[0]
}
