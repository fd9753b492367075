package search

import (
	"testing"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

func int64Ptr(v int64) *int64 { return &v }

func uuidPtr(v uuid.UUID) *uuid.UUID { return &v }

func boolPtr(v bool) *bool { return &v }

func sampleIssue() *domain.Issue {
	return &domain.Issue{
		ID:        uuid.New(),
		Title:     "Implement login flow",
		ProjectID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Status:    int64Ptr(2),
		Priority:  int64Ptr(1),
		Descriptions: []domain.Description{
			{Title: "Context", Text: "OAuth redirect loses the session cookie"},
			{Title: "Notes", Text: "reproduces on Safari only"},
		},
	}
}

func TestFilterThreeStateCodeCriterion(t *testing.T) {
	withStatus := sampleIssue()
	withoutStatus := sampleIssue()
	withoutStatus.Status = nil

	tests := []struct {
		name           string
		status         *int64
		matchesSet     bool
		matchesUnset   bool
	}{
		{"absent criterion ignores field", nil, true, true},
		{"concrete value matches only equal", int64Ptr(2), true, false},
		{"concrete value excludes unset", int64Ptr(9), false, false},
		{"sentinel matches only unset", int64Ptr(NullCode), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := Filter{Status: tt.status}.Predicate()
			if got := pred.Match(withStatus); got != tt.matchesSet {
				t.Errorf("match on set field = %v, want %v", got, tt.matchesSet)
			}
			if got := pred.Match(withoutStatus); got != tt.matchesUnset {
				t.Errorf("match on unset field = %v, want %v", got, tt.matchesUnset)
			}
		})
	}
}

func TestFilterThreeStateIDCriterion(t *testing.T) {
	sprintID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	inSprint := sampleIssue()
	inSprint.SprintID = uuidPtr(sprintID)
	backlog := sampleIssue()

	if pred := (Filter{}).Predicate(); !pred.Match(inSprint) || !pred.Match(backlog) {
		t.Fatal("absent sprint criterion must not filter")
	}

	pred := Filter{SprintID: uuidPtr(sprintID)}.Predicate()
	if !pred.Match(inSprint) {
		t.Error("concrete sprint id should match the sprint member")
	}
	if pred.Match(backlog) {
		t.Error("concrete sprint id should not match backlog issue")
	}

	pred = Filter{SprintID: uuidPtr(NullID)}.Predicate()
	if pred.Match(inSprint) {
		t.Error("sentinel should not match a sprint member")
	}
	if !pred.Match(backlog) {
		t.Error("sentinel should match backlog issue")
	}
}

func TestFilterKeywordMatchesTitleAndDescriptions(t *testing.T) {
	issue := sampleIssue()

	tests := []struct {
		keyword string
		want    bool
	}{
		{"login", true},
		{"LOGIN", true},
		{"safari", true},
		{"session cookie", true},
		{"kubernetes", false},
		{"  ", true}, // blank keyword is absent
	}

	for _, tt := range tests {
		pred := Filter{Keyword: tt.keyword}.Predicate()
		if got := pred.Match(issue); got != tt.want {
			t.Errorf("keyword %q match = %v, want %v", tt.keyword, got, tt.want)
		}
	}
}

func TestFilterAssignedIDs(t *testing.T) {
	alice := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	bob := uuid.MustParse("44444444-4444-4444-4444-444444444444")

	assigned := sampleIssue()
	assigned.AssignedID = uuidPtr(alice)
	unassigned := sampleIssue()

	pred := Filter{AssignedIDs: []uuid.UUID{alice, bob}}.Predicate()
	if !pred.Match(assigned) {
		t.Error("listed assignee should match")
	}
	if pred.Match(unassigned) {
		t.Error("unassigned issue should not match an assignee list")
	}

	pred = Filter{AssignedIDs: []uuid.UUID{bob}}.Predicate()
	if pred.Match(assigned) {
		t.Error("assignee outside the list should not match")
	}
}

func TestFilterIsParent(t *testing.T) {
	parent := sampleIssue()
	subtask := sampleIssue()
	subtask.ParentID = uuidPtr(parent.ID)

	pred := Filter{IsParent: boolPtr(true)}.Predicate()
	if !pred.Match(parent) || pred.Match(subtask) {
		t.Error("isParent=true should select only top-level issues")
	}

	pred = Filter{IsParent: boolPtr(false)}.Predicate()
	if pred.Match(parent) || !pred.Match(subtask) {
		t.Error("isParent=false should select only subtasks")
	}
}

func TestFilterConjunction(t *testing.T) {
	issue := sampleIssue()

	pred := Filter{
		Keyword:   "login",
		ProjectID: uuidPtr(issue.ProjectID),
		Status:    int64Ptr(2),
	}.Predicate()
	if !pred.Match(issue) {
		t.Fatal("all criteria satisfied, expected match")
	}

	pred = Filter{
		Keyword:   "login",
		ProjectID: uuidPtr(issue.ProjectID),
		Status:    int64Ptr(5),
	}.Predicate()
	if pred.Match(issue) {
		t.Fatal("one failing criterion must fail the conjunction")
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	pred := Filter{}.Predicate()
	if !pred.Match(sampleIssue()) {
		t.Fatal("empty filter must match any issue")
	}
}
