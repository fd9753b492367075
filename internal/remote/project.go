package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ProjectClient validates projects against the project service.
type ProjectClient struct {
	baseURL string
	client  *http.Client
}

// NewProjectClient creates a client for the project service.
func NewProjectClient(baseURL string, timeout time.Duration) *ProjectClient {
	return &ProjectClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

// ValidateProjectExists reports whether the project exists. Any remote
// failure counts as "does not exist": existence checks gate mutations, so
// an unreachable project service must abort the caller's operation.
func (c *ProjectClient) ValidateProjectExists(ctx context.Context, projectID uuid.UUID, token string) bool {
	if projectID == uuid.Nil {
		return false
	}
	var exists bool
	url := fmt.Sprintf("%s/validate/%s", c.baseURL, projectID)
	if err := getJSON(ctx, c.client, url, token, &exists); err != nil {
		slog.Warn("project existence check failed", "project_id", projectID, "error", err)
		return false
	}
	return exists
}

// ValidateProjectParticipant reports whether the caller participates in the
// project. Remote failures count as "not a participant".
func (c *ProjectClient) ValidateProjectParticipant(ctx context.Context, projectID uuid.UUID, token string) bool {
	var participant bool
	url := fmt.Sprintf("%s/validateParticipant/%s", c.baseURL, projectID)
	if err := getJSON(ctx, c.client, url, token, &participant); err != nil {
		slog.Warn("project participant check failed", "project_id", projectID, "error", err)
		return false
	}
	return participant
}
