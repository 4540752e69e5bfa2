package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateReferenceUnique(t *testing.T) {
	now := time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		ref, err := GenerateReference("client@example.com", now)
		if err != nil {
			t.Fatalf("GenerateReference: %v", err)
		}
		if seen[ref] {
			t.Fatalf("duplicate reference generated at identical timestamp: %s", ref)
		}
		seen[ref] = true
	}
}

func TestGenerateReferenceShape(t *testing.T) {
	now := time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC)
	ref, err := GenerateReference("Client@Example.com ", now)
	if err != nil {
		t.Fatalf("GenerateReference: %v", err)
	}
	parts := strings.SplitN(ref, "_", 3)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %q", ref)
	}
	if len(parts[0]) != 26 {
		t.Errorf("ULID part: got len %d, want 26", len(parts[0]))
	}
	if parts[1] != recipientHash("client@example.com") {
		t.Errorf("recipient hash should be case/space-insensitive, got %q", parts[1])
	}
	// 32 bytes base64url without padding = 43 chars
	if len(parts[2]) != 43 {
		t.Errorf("secret part: got len %d, want 43", len(parts[2]))
	}
	if LooksSigned(ref) {
		t.Error("opaque reference must not look like a signed token")
	}
}

func TestReferenceNotDerivableFromTimestamp(t *testing.T) {
	now := time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC)
	a, _ := GenerateReference("client@example.com", now)
	b, _ := GenerateReference("client@example.com", now)
	if a[:10] != b[:10] {
		t.Errorf("ULID time component should match for identical timestamps: %q vs %q", a[:10], b[:10])
	}
	if a[27:] == b[27:] {
		t.Error("entropy components must differ")
	}
}

func TestHashAndRedact(t *testing.T) {
	ref := "01J0000000000000000000000_abcdef12_secretsecretsecret"
	if HashReference(ref) != HashReference(ref) {
		t.Fatal("hash must be deterministic")
	}
	if len(HashReference(ref)) != 64 {
		t.Errorf("hash length = %d, want 64", len(HashReference(ref)))
	}
	red := Redact(ref)
	if !strings.HasSuffix(red, "...") || strings.Contains(red, "secret") {
		t.Errorf("Redact leaked secret: %q", red)
	}
	if Redact("") != "" {
		t.Error("Redact of empty reference should be empty")
	}
}

func TestSessionTokenNamespace(t *testing.T) {
	tok, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}
	if !strings.HasPrefix(tok, sessionTokenPrefix) {
		t.Errorf("session token %q missing prefix", tok)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyOpaque, false},
		{"opaque", StrategyOpaque, false},
		{"SIGNED", StrategySigned, false},
		{"jwt", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestSigner(t *testing.T, clk *fakeClock) *Signer {
	t.Helper()
	s, err := NewSigner("test-signing-secret", "proposalgate", clk.now)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignedRoundTrip(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC)}
	s := newTestSigner(t, clk)

	token, issued, err := s.Encode(Claims{
		ResourceID: "PROP-100",
		JobLabel:   "306780",
		Scope:      []string{"view"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "client@example.com",
		},
	}, 20*time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !LooksSigned(token) {
		t.Fatalf("token %q does not look signed", token)
	}
	if issued.ID == "" {
		t.Error("expected jti to be set")
	}

	clk.t = clk.t.Add(10 * time.Minute)
	claims, err := s.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.Recipient() != "client@example.com" {
		t.Errorf("subject = %q", claims.Recipient())
	}
	if claims.ResourceID != "PROP-100" || claims.JobLabel != "306780" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.TokenType != TokenTypeTempAccess {
		t.Errorf("token type = %q", claims.TokenType)
	}
}

func TestSignedExpired(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC)}
	s := newTestSigner(t, clk)
	token, _, err := s.Encode(Claims{ResourceID: "PROP-100", RegisteredClaims: jwt.RegisteredClaims{Subject: "a@b.c"}}, time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	clk.t = clk.t.Add(61 * time.Second)
	if _, err := s.Decode(token); err != ErrExpired {
		t.Fatalf("Decode err = %v, want ErrExpired", err)
	}
}

func TestSignedTampered(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC)}
	s := newTestSigner(t, clk)
	token, _, _ := s.Encode(Claims{ResourceID: "PROP-100", RegisteredClaims: jwt.RegisteredClaims{Subject: "a@b.c"}}, time.Minute)

	other, _ := NewSigner("another-secret", "proposalgate", clk.now)
	if _, err := other.Decode(token); err != ErrInvalidSignature {
		t.Errorf("wrong secret: err = %v, want ErrInvalidSignature", err)
	}
	if _, err := s.Decode(token + "x"); err != ErrInvalidSignature {
		t.Errorf("tampered signature: err = %v, want ErrInvalidSignature", err)
	}
	if _, err := s.Decode("bogus-token-123"); err != ErrInvalidSignature {
		t.Errorf("garbage: err = %v, want ErrInvalidSignature", err)
	}
}

func TestSignedWrongTokenType(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC)}
	s := newTestSigner(t, clk)

	claims := Claims{
		ResourceID: "PROP-100",
		TokenType:  "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a@b.c",
			Issuer:    "proposalgate",
			IssuedAt:  jwt.NewNumericDate(clk.t),
			ExpiresAt: jwt.NewNumericDate(clk.t.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.Decode(token); err != ErrWrongTokenType {
		t.Errorf("err = %v, want ErrWrongTokenType", err)
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner("", "", nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
