package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/auth"
	"github.com/loomtrack/issues/internal/domain"
	"github.com/loomtrack/issues/internal/search"
)

var (
	testProjectID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testUserID    = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testOrgID     = uuid.MustParse("55555555-5555-5555-5555-555555555555")
	testAssignee  = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

func authedContext() context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{
		UserID:         testUserID,
		OrganizationID: testOrgID,
		Token:          "token-abc",
	})
}

// fakeTx collects writes and commit hooks in memory.
type fakeTx struct {
	store *fakeStore
	hooks []func()
}

func (t *fakeTx) SaveIssue(_ context.Context, issue *domain.Issue) error {
	if t.store.saveErr != nil {
		return t.store.saveErr
	}
	t.store.issues[issue.ID] = issue.Clone()
	return nil
}

func (t *fakeTx) SaveIssues(ctx context.Context, issues []*domain.Issue) error {
	for _, issue := range issues {
		if err := t.SaveIssue(ctx, issue); err != nil {
			return err
		}
	}
	return nil
}

func (t *fakeTx) DeleteIssue(_ context.Context, id uuid.UUID) error {
	delete(t.store.issues, id)
	return nil
}

func (t *fakeTx) DeleteIssues(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		if err := t.DeleteIssue(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *fakeTx) SaveAttachments(_ context.Context, files []domain.DescriptionFile) error {
	t.store.attachments = append(t.store.attachments, files...)
	return nil
}

func (t *fakeTx) InsertRelation(_ context.Context, rel *domain.IssueRelation) error {
	rel.ID = int64(len(t.store.relations) + 1)
	t.store.relations = append(t.store.relations, *rel)
	return nil
}

func (t *fakeTx) DeleteRelation(_ context.Context, sourceID, targetID uuid.UUID) (bool, error) {
	for i, rel := range t.store.relations {
		if rel.SourceID == sourceID && rel.TargetID == targetID {
			t.store.relations = append(t.store.relations[:i], t.store.relations[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

// fakeStore keeps aggregates in a map and mimics the commit/rollback
// discipline: hooks run only when the transaction function succeeds.
type fakeStore struct {
	issues      map[uuid.UUID]*domain.Issue
	relations   []domain.IssueRelation
	attachments []domain.DescriptionFile
	saveErr     error
	txErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{issues: make(map[uuid.UUID]*domain.Issue)}
}

func (s *fakeStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	tx := &fakeTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	if s.txErr != nil {
		return s.txErr
	}
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

func (s *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*domain.Issue, error) {
	issue, ok := s.issues[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return issue.Clone(), nil
}

func (s *fakeStore) ExistsByID(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := s.issues[id]
	return ok, nil
}

func (s *fakeStore) FindAllByID(_ context.Context, ids []uuid.UUID) ([]*domain.Issue, error) {
	var out []*domain.Issue
	for _, id := range ids {
		if issue, ok := s.issues[id]; ok {
			out = append(out, issue.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) FindSubtasks(_ context.Context, parentID uuid.UUID) ([]*domain.Issue, error) {
	var out []*domain.Issue
	for _, issue := range s.issues {
		if issue.ParentID != nil && *issue.ParentID == parentID {
			out = append(out, issue.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) FindDescription(_ context.Context, id uuid.UUID) (*domain.Description, error) {
	for _, issue := range s.issues {
		for _, d := range issue.Descriptions {
			if d.ID == id {
				desc := d
				return &desc, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) Search(_ context.Context, pred search.Predicate, _ search.Page) ([]*domain.Issue, int64, error) {
	var out []*domain.Issue
	for _, issue := range s.issues {
		if pred.Match(issue) {
			out = append(out, issue.Clone())
		}
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) RelationsFrom(_ context.Context, issueID uuid.UUID) ([]domain.IssueRelation, error) {
	var out []domain.IssueRelation
	for _, rel := range s.relations {
		if rel.SourceID == issueID {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (s *fakeStore) RelationsTo(_ context.Context, issueID uuid.UUID) ([]domain.IssueRelation, error) {
	var out []domain.IssueRelation
	for _, rel := range s.relations {
		if rel.TargetID == issueID {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (s *fakeStore) RelationExists(_ context.Context, sourceID, targetID uuid.UUID) (bool, error) {
	for _, rel := range s.relations {
		if rel.SourceID == sourceID && rel.TargetID == targetID {
			return true, nil
		}
	}
	return false, nil
}

type fakeProjects struct {
	exists      bool
	participant bool
}

func (p fakeProjects) ValidateProjectExists(context.Context, uuid.UUID, string) bool {
	return p.exists
}

func (p fakeProjects) ValidateProjectParticipant(context.Context, uuid.UUID, string) bool {
	return p.participant
}

type fakeUsers struct {
	exists bool
	data   []domain.UserSummary
}

func (u fakeUsers) UserExists(context.Context, uuid.UUID, string) bool { return u.exists }

func (u fakeUsers) GetUsersBasicData(context.Context, string, []uuid.UUID) []domain.UserSummary {
	return u.data
}

type auditCall struct {
	action string
	before *domain.Issue
	after  *domain.Issue
}

type fakeAudit struct {
	calls []auditCall
	err   error
}

func (a *fakeAudit) LogChange(_ context.Context, _ uuid.UUID, _ string, _ uuid.UUID,
	action, _ string, _ uuid.UUID, before, after *domain.Issue, _ string) error {
	a.calls = append(a.calls, auditCall{action: action, before: before, after: after})
	return a.err
}

type notification struct {
	userID   uuid.UUID
	message  string
	kind     string
	metadata map[string]string
}

type fakeNotifier struct {
	sent []notification
}

func (n *fakeNotifier) Send(_ context.Context, userID uuid.UUID, message, kind string,
	metadata map[string]string, _, _ uuid.UUID) error {
	n.sent = append(n.sent, notification{userID: userID, message: message, kind: kind, metadata: metadata})
	return nil
}

type fixture struct {
	store    *fakeStore
	projects *fakeProjects
	users    *fakeUsers
	audit    *fakeAudit
	notifier *fakeNotifier
	blobs    *blobRecorder
	svc      *IssueService
}

type blobRecorder struct {
	deleted []string
}

func (b *blobRecorder) Store(_ io.Reader, name string) (string, string, error) {
	return name, "http://files.local/" + name, nil
}

func (b *blobRecorder) Delete(url string) error {
	b.deleted = append(b.deleted, url)
	return nil
}

func newFixture() *fixture {
	f := &fixture{
		store:    newFakeStore(),
		projects: &fakeProjects{exists: true, participant: true},
		users:    &fakeUsers{exists: true},
		audit:    &fakeAudit{},
		notifier: &fakeNotifier{},
		blobs:    &blobRecorder{},
	}
	effects := NewSideEffects(f.audit, f.notifier, f.blobs)
	f.svc = NewIssueService(f.store, f.projects, f.users, effects)
	f.svc.now = func() time.Time {
		return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	}
	return f
}

func (f *fixture) seedIssue() *domain.Issue {
	issue := persistedIssue()
	issue.ProjectID = testProjectID
	f.store.issues[issue.ID] = issue
	return issue
}

func TestCreateNotifiesAssigneeAfterCommit(t *testing.T) {
	f := newFixture()

	view, err := f.svc.Create(authedContext(), CreateIssueInput{
		Title:      "Ship search endpoint",
		ProjectID:  testProjectID,
		AssignedID: uuidPtr(testAssignee),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if view.ReporterID != testUserID {
		t.Errorf("reporter = %s, want caller %s", view.ReporterID, testUserID)
	}
	if len(f.audit.calls) != 1 || f.audit.calls[0].action != "CREATE" {
		t.Fatalf("audit calls = %+v, want one CREATE", f.audit.calls)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.sent))
	}
	n := f.notifier.sent[0]
	if n.userID != testAssignee {
		t.Errorf("notified %s, want assignee %s", n.userID, testAssignee)
	}
	if n.metadata["issueId"] != view.ID.String() {
		t.Errorf("metadata issueId = %q", n.metadata["issueId"])
	}
}

func TestCreateWithoutAssigneeSkipsNotification(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.Create(authedContext(), CreateIssueInput{
		Title:     "Backlog item",
		ProjectID: testProjectID,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if len(f.notifier.sent) != 0 {
		t.Errorf("notifications = %d, want none without assignee", len(f.notifier.sent))
	}
	if len(f.audit.calls) != 1 {
		t.Errorf("audit calls = %d, want 1", len(f.audit.calls))
	}
}

func TestCreateUnknownProject(t *testing.T) {
	f := newFixture()
	f.projects.exists = false

	_, err := f.svc.Create(authedContext(), CreateIssueInput{Title: "x", ProjectID: testProjectID})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateNonParticipant(t *testing.T) {
	f := newFixture()
	f.projects.participant = false

	_, err := f.svc.Create(authedContext(), CreateIssueInput{Title: "x", ProjectID: testProjectID})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if len(f.store.issues) != 0 {
		t.Error("nothing may be persisted when the participant check fails")
	}
}

func TestCreateWithoutIdentity(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), CreateIssueInput{Title: "x", ProjectID: testProjectID})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestUpdateRollbackSuppressesAllEffects(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()
	f.store.saveErr = errors.New("disk full")

	patch := patchFrom(issue)
	patch.Status = int64Ptr(4)

	if _, err := f.svc.Update(authedContext(), issue.ID, patch); err == nil {
		t.Fatal("expected save error")
	}
	if len(f.audit.calls) != 0 {
		t.Error("audit must not run on rollback")
	}
	if len(f.notifier.sent) != 0 {
		t.Error("notification must not run on rollback")
	}
	if len(f.blobs.deleted) != 0 {
		t.Error("blobs must not be deleted on rollback")
	}
}

func TestUpdateUnchangedPatchSkipsEffects(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()

	if _, err := f.svc.Update(authedContext(), issue.ID, patchFrom(issue)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(f.audit.calls) != 0 || len(f.notifier.sent) != 0 {
		t.Error("an unchanged patch must not emit effects")
	}
}

func TestUpdateNotifiesAssigneeWithBeforeAfterAudit(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()
	issue.AssignedID = uuidPtr(testAssignee)
	f.store.issues[issue.ID] = issue

	patch := patchFrom(issue)
	patch.Status = int64Ptr(4)

	if _, err := f.svc.Update(authedContext(), issue.ID, patch); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(f.audit.calls) != 1 {
		t.Fatalf("audit calls = %d, want 1", len(f.audit.calls))
	}
	call := f.audit.calls[0]
	if call.action != "UPDATE" {
		t.Errorf("action = %q", call.action)
	}
	if call.before == nil || call.before.Status == nil || *call.before.Status != 1 {
		t.Error("audit before snapshot must keep the prior status")
	}
	if call.after == nil || call.after.Status == nil || *call.after.Status != 4 {
		t.Error("audit after snapshot must carry the new status")
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].userID != testAssignee {
		t.Fatalf("notifications = %+v, want one to the assignee", f.notifier.sent)
	}
}

func TestUpdateRemovedAttachmentDeletesBlobOnce(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()

	patch := patchFrom(issue)
	patch.Descriptions[0].Attachments = []AttachmentPatch{}

	if _, err := f.svc.Update(authedContext(), issue.ID, patch); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(f.blobs.deleted) != 1 || f.blobs.deleted[0] != "http://files.local/trace.log" {
		t.Errorf("deleted = %v, want the removed attachment exactly once", f.blobs.deleted)
	}
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture()
	f.audit.err = errors.New("audit service down")
	issue := f.seedIssue()
	issue.AssignedID = uuidPtr(testAssignee)
	f.store.issues[issue.ID] = issue

	patch := patchFrom(issue)
	patch.Title = "New title"

	if _, err := f.svc.Update(authedContext(), issue.ID, patch); err != nil {
		t.Fatalf("update must succeed despite audit failure: %v", err)
	}
	if len(f.notifier.sent) != 1 {
		t.Error("notification must still run after audit failure")
	}
}

func TestDeleteSchedulesBlobCleanup(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()

	if err := f.svc.Delete(authedContext(), issue.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := f.store.issues[issue.ID]; ok {
		t.Error("issue must be removed")
	}
	if len(f.blobs.deleted) != 1 {
		t.Errorf("deleted blobs = %v, want the issue's attachment", f.blobs.deleted)
	}
	if len(f.audit.calls) != 1 || f.audit.calls[0].action != "DELETE" {
		t.Errorf("audit calls = %+v, want one DELETE", f.audit.calls)
	}
}

func TestDeleteBatchMissingIDFailsBeforeAnyDelete(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()

	err := f.svc.DeleteBatch(authedContext(), []uuid.UUID{issue.ID, uuid.New()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, ok := f.store.issues[issue.ID]; !ok {
		t.Error("no issue may be deleted when any id is unknown")
	}
	if len(f.audit.calls) != 0 {
		t.Error("no effects may run on a failed batch")
	}
}

func TestAssignUserNotifiesNewAssignee(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()

	view, err := f.svc.AssignUser(authedContext(), issue.ID, uuidPtr(testAssignee))
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if view.AssignedID == nil || *view.AssignedID != testAssignee {
		t.Error("view must carry the new assignee")
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].userID != testAssignee {
		t.Fatalf("notifications = %+v, want one to the new assignee", f.notifier.sent)
	}
	if len(f.audit.calls) != 1 || f.audit.calls[0].action != "ASSIGN" {
		t.Errorf("audit calls = %+v, want one ASSIGN", f.audit.calls)
	}
}

func TestAssignUserClearSkipsNotification(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()
	issue.AssignedID = uuidPtr(testAssignee)
	f.store.issues[issue.ID] = issue

	view, err := f.svc.AssignUser(authedContext(), issue.ID, nil)
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if view.AssignedID != nil {
		t.Error("assignment must be cleared")
	}
	if len(f.notifier.sent) != 0 {
		t.Error("clearing the assignee must not notify anyone")
	}
}

func TestAssignUnknownUser(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()
	f.users.exists = false

	if _, err := f.svc.AssignUser(authedContext(), issue.ID, uuidPtr(testAssignee)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSearchRequiresProject(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Search(authedContext(), search.Filter{}, search.Page{Limit: 10})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSearchEnrichesViews(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()
	issue.AssignedID = uuidPtr(testAssignee)
	f.store.issues[issue.ID] = issue
	f.users.data = []domain.UserSummary{
		{ID: issue.ReporterID, FirstName: "Rin", LastName: "Sato"},
		{ID: testAssignee, FirstName: "Aki", LastName: "Mori"},
	}

	result, err := f.svc.Search(authedContext(), search.Filter{ProjectID: uuidPtr(testProjectID)}, search.Page{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Total != 1 || len(result.Issues) != 1 {
		t.Fatalf("result = %+v, want one match", result)
	}
	v := result.Issues[0]
	if v.Reporter.FirstName != "Rin" {
		t.Errorf("reporter = %+v", v.Reporter)
	}
	if v.Assigned == nil || v.Assigned.FirstName != "Aki" {
		t.Errorf("assigned = %+v", v.Assigned)
	}
}

func TestSearchDegradesWithoutUserService(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()
	f.users.data = nil

	result, err := f.svc.Search(authedContext(), search.Filter{ProjectID: uuidPtr(testProjectID)}, search.Page{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Issues[0].Reporter.ID != issue.ReporterID {
		t.Error("unresolved reporter must still carry the id")
	}
}

func TestSprintAssignRejectsSubtasks(t *testing.T) {
	f := newFixture()
	parent := f.seedIssue()
	sub := persistedIssue()
	sub.ID = uuid.New()
	sub.ProjectID = testProjectID
	sub.ParentID = uuidPtr(parent.ID)
	f.store.issues[sub.ID] = sub

	err := f.svc.AssignSprint(authedContext(), []uuid.UUID{parent.ID, sub.ID}, uuid.New())
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if f.store.issues[parent.ID].SprintID != nil {
		t.Error("no issue may join the sprint when the batch contains a subtask")
	}
}

func TestSprintRemoveClearsMembership(t *testing.T) {
	f := newFixture()
	issue := f.seedIssue()
	sprint := uuid.New()
	issue.SprintID = &sprint
	f.store.issues[issue.ID] = issue

	if err := f.svc.RemoveSprint(authedContext(), []uuid.UUID{issue.ID}); err != nil {
		t.Fatalf("remove sprint: %v", err)
	}
	if f.store.issues[issue.ID].SprintID != nil {
		t.Error("sprint membership must be cleared")
	}
}
