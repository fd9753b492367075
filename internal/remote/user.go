package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

// UserClient resolves users through the user service.
type UserClient struct {
	baseURL string
	client  *http.Client
}

// NewUserClient creates a client for the user service.
func NewUserClient(baseURL string, timeout time.Duration) *UserClient {
	return &UserClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

// UserExists reports whether the user exists. Remote failures count as
// "does not exist" since existence gates assignment.
func (c *UserClient) UserExists(ctx context.Context, userID uuid.UUID, token string) bool {
	var exists bool
	reqURL := fmt.Sprintf("%s/validate/%s", c.baseURL, userID)
	if err := getJSON(ctx, c.client, reqURL, token, &exists); err != nil {
		slog.Warn("user existence check failed", "user_id", userID, "error", err)
		return false
	}
	return exists
}

// GetUsersBasicData resolves basic data for the given user ids. This lookup
// is best-effort: on any failure it returns an empty list and callers leave
// names unresolved.
func (c *UserClient) GetUsersBasicData(ctx context.Context, token string, ids []uuid.UUID) []domain.UserSummary {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		strIDs = append(strIDs, id.String())
	}
	reqURL := fmt.Sprintf("%s/basic?ids=%s", c.baseURL,
		url.QueryEscape(strings.Join(strIDs, ",")))

	var users []domain.UserSummary
	if err := getJSON(ctx, c.client, reqURL, token, &users); err != nil {
		slog.Warn("user basic data lookup failed", "count", len(ids), "error", err)
		return nil
	}
	return users
}
