package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

// AuditClient ships change records to the audit service.
type AuditClient struct {
	baseURL string
	client  *http.Client
}

// NewAuditClient creates a client for the audit service.
func NewAuditClient(baseURL string, timeout time.Duration) *AuditClient {
	return &AuditClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

type auditRecord struct {
	IssueID      uuid.UUID `json:"issue_id"`
	IssueTitle   string    `json:"issue_title"`
	UserID       uuid.UUID `json:"user_id"`
	Action       string    `json:"action"`
	Description  string    `json:"description"`
	ProjectID    uuid.UUID `json:"project_id"`
	BeforeChange *string   `json:"before_change,omitempty"`
	AfterChange  *string   `json:"after_change,omitempty"`
}

// LogChange serializes the before/after snapshots and posts the audit record.
// The caller treats the whole call as best-effort.
func (c *AuditClient) LogChange(ctx context.Context, issueID uuid.UUID, issueTitle string,
	userID uuid.UUID, action, description string, projectID uuid.UUID,
	before, after *domain.Issue, token string) error {

	beforeJSON, err := marshalSnapshot(before)
	if err != nil {
		return fmt.Errorf("serialize before snapshot: %w", err)
	}
	afterJSON, err := marshalSnapshot(after)
	if err != nil {
		return fmt.Errorf("serialize after snapshot: %w", err)
	}

	record := auditRecord{
		IssueID:      issueID,
		IssueTitle:   issueTitle,
		UserID:       userID,
		Action:       action,
		Description:  description,
		ProjectID:    projectID,
		BeforeChange: beforeJSON,
		AfterChange:  afterJSON,
	}
	return postJSON(ctx, c.client, c.baseURL+"/logChange", token, record)
}

func marshalSnapshot(issue *domain.Issue) (*string, error) {
	if issue == nil {
		return nil, nil
	}
	raw, err := json.Marshal(issue)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}
