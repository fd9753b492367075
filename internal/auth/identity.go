package auth

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

// Permission names carried in token claims.
const (
	PermIssueCreate   = "ISSUE_CREATE"
	PermIssueRead     = "ISSUE_READ"
	PermIssueUpdate   = "ISSUE_UPDATE"
	PermIssueDelete   = "ISSUE_DELETE"
	PermImportProject = "IMPORT_PROJECT"
	PermCommentCreate = "COMMENT_CREATE"
)

// Identity is the per-request authentication context: who is calling, which
// organization they belong to, the raw bearer token (forwarded to the remote
// collaborators), and the permissions granted by the token.
//
// It travels on the request's context.Context, so its lifetime is exactly one
// inbound call: the middleware populates it before the handler runs and it is
// unreachable once the request ends, on every exit path.
type Identity struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Token          string
	Permissions    []string
}

// HasAny reports whether the identity holds at least one of the given
// permissions.
func (id Identity) HasAny(perms ...string) bool {
	for _, p := range perms {
		if slices.Contains(id.Permissions, p) {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored on the context, or ErrUnauthorized
// when read by a call that never set one.
func FromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok {
		return Identity{}, domain.ErrUnauthorized
	}
	return id, nil
}
