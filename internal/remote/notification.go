package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Notification types emitted by the issue workflows.
const (
	NotificationIssueAssigned = "ISSUE_ASSIGNED"
	NotificationIssueUpdated  = "ISSUE_UPDATED"
)

// NotificationClient dispatches user notifications through the notification
// service.
type NotificationClient struct {
	baseURL string
	client  *http.Client
}

// NewNotificationClient creates a client for the notification service.
func NewNotificationClient(baseURL string, timeout time.Duration) *NotificationClient {
	return &NotificationClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

type notificationRequest struct {
	UserID    uuid.UUID         `json:"user_id"`
	Message   string            `json:"message"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ProjectID uuid.UUID         `json:"project_id"`
	IssueID   uuid.UUID         `json:"issue_id"`
}

// Send delivers one notification. Callers invoke it post-commit and treat
// failures as best-effort.
func (c *NotificationClient) Send(ctx context.Context, userID uuid.UUID, message, notifType string,
	metadata map[string]string, projectID, issueID uuid.UUID) error {

	return postJSON(ctx, c.client, c.baseURL+"/send", "", notificationRequest{
		UserID:    userID,
		Message:   message,
		Type:      notifType,
		Metadata:  metadata,
		ProjectID: projectID,
		IssueID:   issueID,
	})
}
