package domain

import "github.com/google/uuid"

// UserSummary is the basic user data resolved through the user service.
// Responses degrade gracefully when the lookup fails: only the ID is set and
// the remaining fields stay empty.
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}
