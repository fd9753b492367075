package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

// TokenVerifier validates bearer tokens issued by the identity service and
// extracts the caller's identity from the claims.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a TokenVerifier for the shared HMAC secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token (signature and expiry) and returns
// the identity it carries. Any failure maps to ErrUnauthorized at the
// transport layer.
func (v *TokenVerifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, domain.ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: invalid subject claim", domain.ErrUnauthorized)
	}

	org, _ := claims["org"].(string)
	orgID, err := uuid.Parse(org)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: invalid organization claim", domain.ErrUnauthorized)
	}

	var perms []string
	if raw, ok := claims["permissions"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				perms = append(perms, s)
			}
		}
	}

	return Identity{
		UserID:         userID,
		OrganizationID: orgID,
		Token:          tokenString,
		Permissions:    perms,
	}, nil
}
