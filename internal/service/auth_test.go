package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	return NewAuthService("test-secret-key-for-jwt", "proposalgate")
}

func TestJWTRoundTrip(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	token, err := auth.IssueJWT(ctx, " Staff@Example.com ", 1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.Email != "staff@example.com" {
		t.Errorf("Email: got %q, want %q", principal.Email, "staff@example.com")
	}
	if principal.Role != RoleAdmin {
		t.Errorf("Role: got %q, want %q", principal.Role, RoleAdmin)
	}
}

func TestJWTExpired(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	// Negative TTL: already expired.
	token, err := auth.IssueJWT(ctx, "test@test.com", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	if _, err := auth.ValidateJWT(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for expired token, got %v", err)
	}
}

func TestJWTInvalidToken(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.ValidateJWT(context.Background(), "garbage.token.here"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestJWTWrongSecret(t *testing.T) {
	ctx := context.Background()
	token, err := NewAuthService("other-secret", "proposalgate").IssueJWT(ctx, "a@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newTestAuth(t).ValidateJWT(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestJWTRejectsAccessTokens(t *testing.T) {
	// A temporary access token signed with the same secret is not a staff token.
	env := newEnv(t, withSigned("test-secret-key-for-jwt"))
	res, err := env.issuer.Issue(context.Background(), IssueRequest{ResourceID: "PROP-100", Recipient: "client@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newTestAuth(t).ValidateJWT(context.Background(), res.Reference); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestJWTMissingSecret(t *testing.T) {
	auth := NewAuthService("", "")
	if _, err := auth.IssueJWT(context.Background(), "a@example.com", time.Hour); err == nil {
		t.Fatal("expected error without a secret")
	}
	if _, err := auth.ValidateJWT(context.Background(), "x.y.z"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
}
