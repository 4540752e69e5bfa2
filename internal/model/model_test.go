package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"view", "view", false},
		{"comment,view", "comment,view", false},
		{" VIEW , comment ,view", "comment,view", false},
		{"", "", false},
		{"view,,comment", "comment,view", false},
		{"view,delete", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScope(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScope(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("ParseScope(%q) = %q, want %q", tt.in, got.String(), tt.want)
			}
		})
	}
}

func TestScopeIntersect(t *testing.T) {
	granted := NewScope(ActionView, ActionComment)
	if got := granted.Intersect(Scope{ActionView}); got.String() != "view" {
		t.Errorf("Intersect = %q, want view", got)
	}
	if got := (Scope{ActionView}).Intersect(granted); got.Has(ActionComment) {
		t.Error("intersection must not widen a scope")
	}
	if got := granted.Intersect(nil); len(got) != 0 {
		t.Errorf("Intersect(nil) = %v, want empty", got)
	}
}

func TestScopeJSON(t *testing.T) {
	b, err := json.Marshal(NewScope(ActionView, ActionComment, ActionView))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `["comment","view"]` {
		t.Errorf("scope JSON = %s", b)
	}
}

func TestCredentialState(t *testing.T) {
	if CredentialActive.Terminal() {
		t.Error("active must not be terminal")
	}
	for _, s := range []CredentialState{CredentialConsumed, CredentialExpired, CredentialRevoked} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestCredentialExpiredAt(t *testing.T) {
	c := &Credential{ExpiresAt: epoch.Add(time.Minute)}
	if c.ExpiredAt(epoch) {
		t.Error("credential expired a minute early")
	}
	if c.ExpiredAt(epoch.Add(time.Minute)) {
		t.Error("credential should still be usable exactly at ExpiresAt")
	}
	if !c.ExpiredAt(epoch.Add(time.Minute + time.Nanosecond)) {
		t.Error("credential should be expired just after ExpiresAt")
	}
}

func TestCredentialReferenceNeverSerialized(t *testing.T) {
	c := Credential{
		ID:        "hash",
		Reference: "Zm9vYmFyYmF6cXV4MTIzNDU2Nzg5MA",
		Prefix:    "Zm9vYmFy",
		State:     CredentialActive,
	}
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), c.Reference) {
		t.Errorf("raw reference leaked into JSON: %s", b)
	}
	if r := c.Redacted(); r.Reference != "" || r.Prefix != c.Prefix {
		t.Errorf("Redacted = %+v", r)
	}
	if c.Reference == "" {
		t.Error("Redacted must not modify the receiver")
	}
}

func TestSessionRemaining(t *testing.T) {
	s := &Session{ExpiresAt: epoch.Add(20 * time.Minute)}
	if got := s.Remaining(epoch); got != 20*time.Minute {
		t.Errorf("Remaining = %v", got)
	}
	if got := s.Remaining(epoch.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining after expiry = %v, want 0", got)
	}
	if !s.ExpiredAt(epoch.Add(20 * time.Minute)) {
		t.Error("session should be expired at ExpiresAt")
	}
}

func TestSessionTokenNeverSerialized(t *testing.T) {
	s := Session{ID: "sid", Token: "ps_secret-session-token", Prefix: "ps_secret"}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), s.Token) {
		t.Errorf("session token leaked into JSON: %s", b)
	}
}

func TestResourceLabel(t *testing.T) {
	if got := (&Resource{ID: "PROP-1", JobNumber: "J-1"}).Label(); got != "J-1" {
		t.Errorf("Label = %q, want J-1", got)
	}
	if got := (&Resource{ID: "PROP-1"}).Label(); got != "PROP-1" {
		t.Errorf("Label = %q, want PROP-1", got)
	}
}

func TestListResponseJSON(t *testing.T) {
	lr := ListResponse[Credential]{
		Resource: []Credential{{ID: "a"}, {ID: "b"}},
		Meta:     ResponseMeta{Count: 2, Limit: 10, TookMs: 1.5},
	}
	b, err := json.Marshal(lr)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	resource, ok := m["resource"].([]any)
	if !ok || len(resource) != 2 {
		t.Fatalf("resource = %v", m["resource"])
	}
	meta, ok := m["meta"].(map[string]any)
	if !ok {
		t.Fatal("meta should be an object")
	}
	if meta["count"] != float64(2) || meta["limit"] != float64(10) {
		t.Errorf("meta = %v", meta)
	}
}

func TestErrorResponseJSON(t *testing.T) {
	er := ErrorResponse{Error: ErrorDetail{Code: 403, Message: "Access denied"}}
	b, err := json.Marshal(er)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if strings.Contains(string(b), "context") {
		t.Errorf("context should be omitted when nil: %s", b)
	}

	er.Error.Context = map[string]any{"reason": "expired"}
	b, err = json.Marshal(er)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"reason":"expired"`) {
		t.Errorf("context missing: %s", b)
	}
}
