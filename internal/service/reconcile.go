package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

// IssuePatch is the incoming representation of an issue for update. Scalar
// fields carry the full intended state (a nil pointer clears the field); a
// nil Descriptions slice leaves the nested collection untouched.
type IssuePatch struct {
	Title         string             `json:"title" validate:"required,max=150"`
	EstimatedTime int                `json:"estimated_time" validate:"gte=0"`
	ProjectID     *uuid.UUID         `json:"project_id,omitempty"`
	Priority      *int64             `json:"priority,omitempty"`
	Status        *int64             `json:"status,omitempty"`
	Type          *int64             `json:"type,omitempty"`
	StartDate     *time.Time         `json:"start_date,omitempty"`
	EndDate       *time.Time         `json:"end_date,omitempty"`
	RealDate      *time.Time         `json:"real_date,omitempty"`
	AssignedID    *uuid.UUID         `json:"assigned_id,omitempty"`
	Descriptions  []DescriptionPatch `json:"descriptions,omitempty"`
}

// DescriptionPatch is one incoming description. An entry without an ID is a
// new description; a nil Attachments slice leaves that level untouched.
type DescriptionPatch struct {
	ID          *uuid.UUID        `json:"id,omitempty"`
	Title       string            `json:"title"`
	Text        string            `json:"text"`
	Attachments []AttachmentPatch `json:"attachments,omitempty"`
}

// AttachmentPatch is one incoming attachment reference. An entry without an
// ID is newly created; persisted attachments absent from the list are
// removed together with their backing blob.
type AttachmentPatch struct {
	ID       *uuid.UUID `json:"id,omitempty"`
	FileName string     `json:"file_name"`
	FileURL  string     `json:"file_url"`
}

// reconcileIssue diffs the incoming patch against the persisted aggregate,
// applies the changes in place, and returns the change descriptor. The whole
// operation fails without partial application on a forbidden-field mutation
// or a reference to an unknown description.
func reconcileIssue(issue *domain.Issue, patch IssuePatch, now time.Time) (*domain.ChangeDescriptor, error) {
	cd := &domain.ChangeDescriptor{Before: issue.Clone()}

	if patch.ProjectID != nil && *patch.ProjectID != issue.ProjectID {
		return nil, fmt.Errorf("%w: project id cannot change", domain.ErrInvalidInput)
	}
	if patch.AssignedID != nil {
		return nil, fmt.Errorf("%w: assigned user must go through the assignment operation", domain.ErrInvalidInput)
	}

	if issue.Title != patch.Title {
		cd.Fields = append(cd.Fields, "title")
		issue.Title = patch.Title
	}
	if issue.EstimatedTime != patch.EstimatedTime {
		cd.Fields = append(cd.Fields, "estimatedTime")
		issue.EstimatedTime = patch.EstimatedTime
	}
	if !eqPtr(issue.Priority, patch.Priority) {
		cd.Fields = append(cd.Fields, "priority")
		issue.Priority = patch.Priority
	}
	if !eqPtr(issue.Status, patch.Status) {
		cd.Fields = append(cd.Fields, "status")
		issue.Status = patch.Status
	}
	if !eqPtr(issue.Type, patch.Type) {
		cd.Fields = append(cd.Fields, "type")
		issue.Type = patch.Type
	}
	if !eqTimePtr(issue.StartDate, patch.StartDate) {
		cd.Fields = append(cd.Fields, "startDate")
		issue.StartDate = patch.StartDate
	}
	if !eqTimePtr(issue.EndDate, patch.EndDate) {
		cd.Fields = append(cd.Fields, "endDate")
		issue.EndDate = patch.EndDate
	}
	if !eqTimePtr(issue.RealDate, patch.RealDate) {
		cd.Fields = append(cd.Fields, "realDate")
		issue.RealDate = patch.RealDate
	}

	if patch.Descriptions != nil {
		if err := reconcileDescriptions(issue, patch.Descriptions, cd); err != nil {
			return nil, err
		}
		if cd.DescriptionsChanged {
			cd.Fields = append(cd.Fields, "descriptions")
		}
	}

	if len(cd.Fields) > 0 {
		issue.UpdatedAt = now
	}
	cd.After = issue.Clone()
	return cd, nil
}

func reconcileDescriptions(issue *domain.Issue, incoming []DescriptionPatch, cd *domain.ChangeDescriptor) error {
	for _, dp := range incoming {
		if dp.ID != nil {
			idx := -1
			for i := range issue.Descriptions {
				if issue.Descriptions[i].ID == *dp.ID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("%w: description %s", domain.ErrNotFound, *dp.ID)
			}
			desc := &issue.Descriptions[idx]
			if desc.Title != dp.Title || desc.Text != dp.Text {
				desc.Title = dp.Title
				desc.Text = dp.Text
				cd.DescriptionsChanged = true
			}
			if dp.Attachments != nil {
				reconcileAttachments(desc, dp.Attachments, cd)
			}
		} else {
			desc := domain.Description{
				ID:          uuid.New(),
				IssueID:     issue.ID,
				Title:       dp.Title,
				Text:        dp.Text,
				Attachments: []domain.DescriptionFile{},
			}
			for _, ap := range dp.Attachments {
				if ap.ID == nil {
					desc.Attachments = append(desc.Attachments, domain.DescriptionFile{
						ID:            uuid.New(),
						DescriptionID: desc.ID,
						FileName:      ap.FileName,
						FileURL:       ap.FileURL,
					})
				}
			}
			issue.Descriptions = append(issue.Descriptions, desc)
			cd.DescriptionsChanged = true
		}
	}

	// Persisted descriptions whose identity never appears in the incoming
	// list are removed, cascading to their attachments and blobs.
	existed := make(map[uuid.UUID]bool, len(cd.Before.Descriptions))
	for _, d := range cd.Before.Descriptions {
		existed[d.ID] = true
	}
	wanted := make(map[uuid.UUID]bool, len(incoming))
	for _, dp := range incoming {
		if dp.ID != nil {
			wanted[*dp.ID] = true
		}
	}
	kept := issue.Descriptions[:0]
	for _, d := range issue.Descriptions {
		if existed[d.ID] && !wanted[d.ID] {
			for _, f := range d.Attachments {
				cd.RemovedFiles = append(cd.RemovedFiles, f.FileURL)
			}
			cd.DescriptionsChanged = true
			continue
		}
		kept = append(kept, d)
	}
	issue.Descriptions = kept
	return nil
}

func reconcileAttachments(desc *domain.Description, incoming []AttachmentPatch, cd *domain.ChangeDescriptor) {
	wanted := make(map[uuid.UUID]bool, len(incoming))
	for _, ap := range incoming {
		if ap.ID != nil {
			wanted[*ap.ID] = true
		}
	}

	kept := desc.Attachments[:0]
	for _, f := range desc.Attachments {
		if !wanted[f.ID] {
			cd.RemovedFiles = append(cd.RemovedFiles, f.FileURL)
			cd.DescriptionsChanged = true
			continue
		}
		kept = append(kept, f)
	}
	desc.Attachments = kept

	for _, ap := range incoming {
		if ap.ID == nil {
			desc.Attachments = append(desc.Attachments, domain.DescriptionFile{
				ID:            uuid.New(),
				DescriptionID: desc.ID,
				FileName:      ap.FileName,
				FileURL:       ap.FileURL,
			})
			cd.DescriptionsChanged = true
		}
	}
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
