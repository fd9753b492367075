package repository

import (
	"fmt"
	"strings"

	"github.com/loomtrack/issues/internal/search"
)

// compiled is the SQL rendering of a search predicate.
type compiled struct {
	where string
	args  []any
	// joinDescriptions is set when the predicate touches description text,
	// which requires a LEFT JOIN and a DISTINCT projection so an issue with
	// several matching descriptions appears once.
	joinDescriptions bool
}

var issueColumns = map[search.Field]string{
	search.FieldProjectID:  "i.project_id",
	search.FieldSprintID:   "i.sprint_id",
	search.FieldStatus:     "i.status",
	search.FieldPriority:   "i.priority",
	search.FieldType:       "i.type",
	search.FieldAssignedID: "i.assigned_id",
	search.FieldParentID:   "i.parent_id",
	search.FieldTitle:      "i.title",
}

// compilePredicate interprets the predicate algebra into a WHERE clause with
// ordinal placeholders starting at $1.
func compilePredicate(p search.Predicate) (compiled, error) {
	c := &compiler{}
	expr, err := c.render(p)
	if err != nil {
		return compiled{}, err
	}
	return compiled{where: expr, args: c.args, joinDescriptions: c.join}, nil
}

type compiler struct {
	args []any
	join bool
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return fmt.Sprintf("$%d", len(c.args))
}

func (c *compiler) render(p search.Predicate) (string, error) {
	switch pred := p.(type) {
	case search.And:
		if len(pred.Preds) == 0 {
			return "TRUE", nil
		}
		parts := make([]string, 0, len(pred.Preds))
		for _, sub := range pred.Preds {
			expr, err := c.render(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, expr)
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil

	case search.Equals:
		col, ok := issueColumns[pred.Field]
		if !ok {
			return "", fmt.Errorf("unsupported field %q in equals predicate", pred.Field)
		}
		return fmt.Sprintf("%s = %s", col, c.bind(pred.Value)), nil

	case search.IsNull:
		col, ok := issueColumns[pred.Field]
		if !ok {
			return "", fmt.Errorf("unsupported field %q in is-null predicate", pred.Field)
		}
		return col + " IS NULL", nil

	case search.NotNull:
		col, ok := issueColumns[pred.Field]
		if !ok {
			return "", fmt.Errorf("unsupported field %q in not-null predicate", pred.Field)
		}
		return col + " IS NOT NULL", nil

	case search.In:
		col, ok := issueColumns[pred.Field]
		if !ok {
			return "", fmt.Errorf("unsupported field %q in in predicate", pred.Field)
		}
		placeholders := make([]string, 0, len(pred.Values))
		for _, v := range pred.Values {
			placeholders = append(placeholders, c.bind(v))
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), nil

	case search.Contains:
		needle := "%" + strings.ToLower(pred.Value) + "%"
		parts := make([]string, 0, len(pred.Fields))
		for _, f := range pred.Fields {
			switch f {
			case search.FieldDescriptionText:
				c.join = true
				parts = append(parts, fmt.Sprintf("LOWER(d.text) LIKE %s", c.bind(needle)))
			default:
				col, ok := issueColumns[f]
				if !ok {
					return "", fmt.Errorf("unsupported field %q in contains predicate", f)
				}
				parts = append(parts, fmt.Sprintf("LOWER(%s) LIKE %s", col, c.bind(needle)))
			}
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil

	default:
		return "", fmt.Errorf("unsupported predicate %T", p)
	}
}

// sortColumns whitelists the sortable columns exposed through the search API.
var sortColumns = map[string]string{
	"created_at": "i.created_at",
	"updated_at": "i.updated_at",
	"title":      "i.title",
	"priority":   "i.priority",
	"status":     "i.status",
	"id":         "i.id",
}

func orderClause(p search.Page) string {
	col, ok := sortColumns[p.SortBy]
	if !ok {
		col = "i.created_at"
	}
	dir := "DESC"
	if p.Ascending {
		dir = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s, i.id %s", col, dir, dir)
}
