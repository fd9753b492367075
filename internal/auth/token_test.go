package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/loomtrack/issues/internal/domain"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":         "22222222-2222-2222-2222-222222222222",
		"org":         "55555555-5555-5555-5555-555555555555",
		"permissions": []string{"ISSUE_READ", "ISSUE_CREATE"},
		"exp":         time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := NewTokenVerifier(testSecret)
	raw := signToken(t, testSecret, validClaims())

	id, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != uuid.MustParse("22222222-2222-2222-2222-222222222222") {
		t.Errorf("user id = %s", id.UserID)
	}
	if id.OrganizationID != uuid.MustParse("55555555-5555-5555-5555-555555555555") {
		t.Errorf("org id = %s", id.OrganizationID)
	}
	if id.Token != raw {
		t.Error("identity must keep the raw token for forwarding")
	}
	if !id.HasAny("ISSUE_READ") {
		t.Error("permissions must carry over from claims")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewTokenVerifier(testSecret)
	raw := signToken(t, "other-secret", validClaims())

	if _, err := v.Verify(raw); err == nil {
		t.Fatal("token signed with a different secret must not verify")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewTokenVerifier(testSecret)
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	raw := signToken(t, testSecret, claims)

	if _, err := v.Verify(raw); err == nil {
		t.Fatal("expired token must not verify")
	}
}

func TestVerifyMalformedClaims(t *testing.T) {
	v := NewTokenVerifier(testSecret)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"missing subject", func(c jwt.MapClaims) { delete(c, "sub") }},
		{"non-uuid subject", func(c jwt.MapClaims) { c["sub"] = "not-a-uuid" }},
		{"missing org", func(c jwt.MapClaims) { delete(c, "org") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)
			raw := signToken(t, testSecret, claims)

			if _, err := v.Verify(raw); !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	v := NewTokenVerifier(testSecret)
	if _, err := v.Verify("not.a.token"); err == nil {
		t.Fatal("garbage input must not verify")
	}
}

func TestHasAny(t *testing.T) {
	id := Identity{Permissions: []string{PermIssueRead, PermIssueUpdate}}

	if !id.HasAny(PermIssueRead) {
		t.Error("held permission must match")
	}
	if !id.HasAny(PermIssueDelete, PermIssueUpdate) {
		t.Error("any one held permission suffices")
	}
	if id.HasAny(PermIssueDelete) {
		t.Error("missing permission must not match")
	}
	if id.HasAny() {
		t.Error("empty permission list never matches")
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	want := Identity{UserID: uuid.New(), Token: "raw"}
	ctx := WithIdentity(context.Background(), want)

	got, err := FromContext(ctx)
	if err != nil {
		t.Fatalf("from context: %v", err)
	}
	if got.UserID != want.UserID || got.Token != want.Token {
		t.Errorf("identity = %+v, want %+v", got, want)
	}
}

func TestFromContextUnsetIsUnauthorized(t *testing.T) {
	if _, err := FromContext(context.Background()); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}
