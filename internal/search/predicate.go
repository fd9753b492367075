// Package search builds composable filter predicates over the issue
// collection. A Filter's independently optional criteria compose into a
// closed predicate algebra that the storage layer interprets; the package
// itself never executes a query.
package search

import (
	"strings"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

// Field names an issue attribute a predicate can test.
type Field string

const (
	FieldProjectID       Field = "project_id"
	FieldSprintID        Field = "sprint_id"
	FieldStatus          Field = "status"
	FieldPriority        Field = "priority"
	FieldType            Field = "type"
	FieldAssignedID      Field = "assigned_id"
	FieldParentID        Field = "parent_id"
	FieldTitle           Field = "title"
	FieldDescriptionText Field = "description_text"
)

// Predicate is one node of the filter expression. Implementations form a
// closed set: And, Equals, IsNull, NotNull, In, Contains.
type Predicate interface {
	// Match evaluates the predicate against an in-memory aggregate.
	Match(issue *domain.Issue) bool
}

// And is the conjunction of its operands. An empty And matches everything.
type And struct {
	Preds []Predicate
}

// Equals tests a field for equality with a concrete value.
type Equals struct {
	Field Field
	Value any
}

// IsNull matches issues where the field is unset.
type IsNull struct {
	Field Field
}

// NotNull matches issues where the field is set.
type NotNull struct {
	Field Field
}

// In matches issues whose field equals any of the given values.
type In struct {
	Field  Field
	Values []uuid.UUID
}

// Contains matches issues where any of the listed fields contains the value
// as a case-insensitive substring. Matching against description text must
// not duplicate an issue with several matching descriptions.
type Contains struct {
	Fields []Field
	Value  string
}

func (p And) Match(issue *domain.Issue) bool {
	for _, sub := range p.Preds {
		if !sub.Match(issue) {
			return false
		}
	}
	return true
}

func (p Equals) Match(issue *domain.Issue) bool {
	v, set := fieldValue(issue, p.Field)
	return set && v == p.Value
}

func (p IsNull) Match(issue *domain.Issue) bool {
	_, set := fieldValue(issue, p.Field)
	return !set
}

func (p NotNull) Match(issue *domain.Issue) bool {
	_, set := fieldValue(issue, p.Field)
	return set
}

func (p In) Match(issue *domain.Issue) bool {
	v, set := fieldValue(issue, p.Field)
	if !set {
		return false
	}
	for _, candidate := range p.Values {
		if v == candidate {
			return true
		}
	}
	return false
}

func (p Contains) Match(issue *domain.Issue) bool {
	needle := strings.ToLower(p.Value)
	for _, f := range p.Fields {
		switch f {
		case FieldTitle:
			if strings.Contains(strings.ToLower(issue.Title), needle) {
				return true
			}
		case FieldDescriptionText:
			for _, d := range issue.Descriptions {
				if strings.Contains(strings.ToLower(d.Text), needle) {
					return true
				}
			}
		}
	}
	return false
}

// fieldValue returns the comparable value of a field and whether it is set.
func fieldValue(issue *domain.Issue, f Field) (any, bool) {
	switch f {
	case FieldProjectID:
		return issue.ProjectID, true
	case FieldSprintID:
		if issue.SprintID == nil {
			return nil, false
		}
		return *issue.SprintID, true
	case FieldStatus:
		if issue.Status == nil {
			return nil, false
		}
		return *issue.Status, true
	case FieldPriority:
		if issue.Priority == nil {
			return nil, false
		}
		return *issue.Priority, true
	case FieldType:
		if issue.Type == nil {
			return nil, false
		}
		return *issue.Type, true
	case FieldAssignedID:
		if issue.AssignedID == nil {
			return nil, false
		}
		return *issue.AssignedID, true
	case FieldParentID:
		if issue.ParentID == nil {
			return nil, false
		}
		return *issue.ParentID, true
	case FieldTitle:
		return issue.Title, true
	default:
		return nil, false
	}
}
