package domain

import (
	"time"

	"github.com/google/uuid"
)

// Issue is the aggregate root: an issue together with its descriptions and
// their file attachments, always loaded and persisted as one unit.
type Issue struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Title          string     `json:"title" db:"title"`
	EstimatedTime  int        `json:"estimated_time" db:"estimated_time"`
	ProjectID      uuid.UUID  `json:"project_id" db:"project_id"`
	SprintID       *uuid.UUID `json:"sprint_id,omitempty" db:"sprint_id"`
	Priority       *int64     `json:"priority,omitempty" db:"priority"`
	Status         *int64     `json:"status,omitempty" db:"status"`
	Type           *int64     `json:"type,omitempty" db:"type"`
	StartDate      *time.Time `json:"start_date,omitempty" db:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty" db:"end_date"`
	RealDate       *time.Time `json:"real_date,omitempty" db:"real_date"`
	ReporterID     uuid.UUID  `json:"reporter_id" db:"reporter_id"`
	AssignedID     *uuid.UUID `json:"assigned_id,omitempty" db:"assigned_id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`

	Descriptions []Description `json:"descriptions" db:"-"`
}

// Description is an owned child of an Issue. It is created and removed only
// as part of an issue update; removing one cascades to its attachments.
type Description struct {
	ID      uuid.UUID `json:"id" db:"id"`
	IssueID uuid.UUID `json:"issue_id" db:"issue_id"`
	Title   string    `json:"title" db:"title"`
	Text    string    `json:"text" db:"text"`

	Attachments []DescriptionFile `json:"attachments" db:"-"`
}

// DescriptionFile is a stored file attached to a Description. FileURL points
// at the blob held by the file store.
type DescriptionFile struct {
	ID            uuid.UUID `json:"id" db:"id"`
	DescriptionID uuid.UUID `json:"description_id" db:"description_id"`
	FileName      string    `json:"file_name" db:"file_name"`
	FileURL       string    `json:"file_url" db:"file_url"`
}

// IssueRelation is a directed edge between two issues, distinct from the
// parent/subtask hierarchy. Duplicate edges for the same ordered pair are
// rejected.
type IssueRelation struct {
	ID       int64     `json:"id" db:"id"`
	SourceID uuid.UUID `json:"source_id" db:"source_id"`
	TargetID uuid.UUID `json:"target_id" db:"target_id"`
}

// Clone returns a deep copy of the aggregate, used to snapshot the state
// before a reconciliation pass mutates it.
func (i *Issue) Clone() *Issue {
	c := *i
	c.SprintID = clonePtr(i.SprintID)
	c.Priority = clonePtr(i.Priority)
	c.Status = clonePtr(i.Status)
	c.Type = clonePtr(i.Type)
	c.StartDate = clonePtr(i.StartDate)
	c.EndDate = clonePtr(i.EndDate)
	c.RealDate = clonePtr(i.RealDate)
	c.AssignedID = clonePtr(i.AssignedID)
	c.ParentID = clonePtr(i.ParentID)
	c.Descriptions = make([]Description, len(i.Descriptions))
	for n, d := range i.Descriptions {
		dc := d
		dc.Attachments = make([]DescriptionFile, len(d.Attachments))
		copy(dc.Attachments, d.Attachments)
		c.Descriptions[n] = dc
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
