package search

import (
	"strings"

	"github.com/google/uuid"
)

// NullCode is the sentinel requesting "field is unset" filtering for the
// integer code criteria (status, priority, type). It is never a valid code.
const NullCode int64 = -1

// NullID is the sentinel requesting "field is unset" filtering for reference
// id criteria (sprint). The all-zero UUID is never assigned to a real row.
var NullID = uuid.Nil

// Filter holds the independently optional search criteria. A nil pointer (or
// empty slice/string) means the criterion is absent and contributes no
// filtering; the sentinel values request an is-unset match.
type Filter struct {
	Keyword     string
	ProjectID   *uuid.UUID
	SprintID    *uuid.UUID
	Status      *int64
	Priority    *int64
	Type        *int64
	AssignedIDs []uuid.UUID
	IsParent    *bool
}

// Predicate composes the present criteria into a single conjunction.
func (f Filter) Predicate() Predicate {
	var preds []Predicate

	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		preds = append(preds, Contains{
			Fields: []Field{FieldTitle, FieldDescriptionText},
			Value:  kw,
		})
	}
	if f.ProjectID != nil {
		preds = append(preds, Equals{Field: FieldProjectID, Value: *f.ProjectID})
	}
	preds = appendIDCriterion(preds, FieldSprintID, f.SprintID)
	preds = appendCodeCriterion(preds, FieldStatus, f.Status)
	preds = appendCodeCriterion(preds, FieldPriority, f.Priority)
	preds = appendCodeCriterion(preds, FieldType, f.Type)
	if len(f.AssignedIDs) > 0 {
		preds = append(preds, In{Field: FieldAssignedID, Values: f.AssignedIDs})
	}
	if f.IsParent != nil {
		if *f.IsParent {
			preds = append(preds, IsNull{Field: FieldParentID})
		} else {
			preds = append(preds, NotNull{Field: FieldParentID})
		}
	}

	return And{Preds: preds}
}

func appendCodeCriterion(preds []Predicate, field Field, v *int64) []Predicate {
	switch {
	case v == nil:
		return preds
	case *v == NullCode:
		return append(preds, IsNull{Field: field})
	default:
		return append(preds, Equals{Field: field, Value: *v})
	}
}

func appendIDCriterion(preds []Predicate, field Field, v *uuid.UUID) []Predicate {
	switch {
	case v == nil:
		return preds
	case *v == NullID:
		return append(preds, IsNull{Field: field})
	default:
		return append(preds, Equals{Field: field, Value: *v})
	}
}
