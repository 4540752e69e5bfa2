package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"

	"github.com/proposalgate/proposalgate/internal/directory"
	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/server/middleware"
	"github.com/proposalgate/proposalgate/internal/service"
	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/sweeper"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// testEnv holds shared state for handler tests.
type testEnv struct {
	clock  *clock.Mock
	store  store.Store
	issuer *service.Issuer
	router chi.Router
}

// newTestEnv wires memory-backed services behind a router. Admin routes get
// a fixed staff principal instead of bearer authentication.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()

	dir := directory.NewStatic(directory.StaticFile{
		Resources: []model.Resource{{ID: "PROP-100", JobNumber: "J-100", DisplayName: "Harbour Gala", Venue: "Pier 4"}},
		Contacts:  []model.Contact{{Email: "client@example.com", FullName: "Casey Client", Organization: "Acme Events", IsActive: true}},
	})

	issuer := service.NewIssuer(service.DefaultIssuanceConfig(), service.IssuerDeps{
		Store: st, Resources: dir, Directory: dir, Logger: logger,
	})
	issuer.Clock = mock
	validator := service.NewValidator(service.ValidatorConfig{}, st, nil, dir, logger, nil)
	validator.Clock = mock
	promoter := service.NewPromoter(service.DefaultSessionConfig(), st, logger, nil)
	promoter.Clock = mock
	sw := sweeper.New(st, sweeper.Config{Retention: time.Hour}, mock, logger, nil)

	access := NewAccessHandler(validator, promoter, dir, logger)
	access.Clock = mock
	admin := NewAdminHandler(AdminDeps{
		Issuer: issuer, Validator: validator, Promoter: promoter, Store: st, Sweeper: sw, Logger: logger,
	})
	admin.Clock = mock

	r := chi.NewRouter()
	r.Post("/api/v1/access/present", access.Present)
	r.Get("/api/v1/access/session", access.Session)
	r.Post("/api/v1/access/session/extend", access.ExtendSession)
	r.Delete("/api/v1/access/session", access.EndSession)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				p := &middleware.Principal{Email: "staff@example.com", Role: service.RoleAdmin, IsAdmin: true}
				next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), middleware.AuthPrincipalKey, p)))
			})
		})
		r.Post("/api/v1/admin/credentials", admin.IssueCredential)
		r.Get("/api/v1/admin/credentials", admin.ListCredentials)
		r.Get("/api/v1/admin/credentials/{id}", admin.GetCredential)
		r.Delete("/api/v1/admin/credentials/{id}", admin.RevokeCredential)
		r.Get("/api/v1/admin/sessions", admin.ListSessions)
		r.Delete("/api/v1/admin/sessions/{id}", admin.EndSession)
		r.Post("/api/v1/admin/sweep", admin.Sweep)
		r.Post("/api/v1/admin/inspect", admin.Inspect)
	})

	return &testEnv{clock: mock, store: st, issuer: issuer, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (e *testEnv) issue(t *testing.T, seconds int) service.IssueResult {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/admin/credentials", map[string]any{
		"resource_id":      "PROP-100",
		"recipient":        "client@example.com",
		"duration_seconds": seconds,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	return decode[service.IssueResult](t, rr)
}

// ---------------------------------------------------------------------------
// Access endpoints
// ---------------------------------------------------------------------------

func TestPresentSingleUse(t *testing.T) {
	env := newTestEnv(t)
	res := env.issue(t, 0)

	rr := env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": res.Reference})
	if rr.Code != http.StatusOK {
		t.Fatalf("first presentation: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got := decode[presentResponse](t, rr)
	if !got.Valid || got.ResourceID != "PROP-100" || got.Resource == nil || got.Resource.DisplayName != "Harbour Gala" {
		t.Errorf("unexpected response %+v", got)
	}

	rr = env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": res.Reference})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("second presentation: expected 403, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "consumed") {
		t.Errorf("anonymous response should not reveal the reason: %s", rr.Body.String())
	}
}

func TestPresentUnknownAndExpiredLookAlike(t *testing.T) {
	env := newTestEnv(t)
	res := env.issue(t, 60)
	env.clock.Add(2 * time.Minute)

	expired := env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": res.Reference})
	unknown := env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": "01JNOTAREALREFERENCE000000000"})

	if expired.Code != http.StatusForbidden || unknown.Code != http.StatusForbidden {
		t.Fatalf("expected 403/403, got %d/%d", expired.Code, unknown.Code)
	}
	if expired.Body.String() != unknown.Body.String() {
		t.Errorf("responses differ:\n%s\n%s", expired.Body.String(), unknown.Body.String())
	}
}

func TestPresentBadRequests(t *testing.T) {
	env := newTestEnv(t)
	for name, body := range map[string]any{
		"empty credential": map[string]any{"credential": " "},
		"unknown scope":    map[string]any{"credential": "x", "scope": []string{"delete"}},
	} {
		t.Run(name, func(t *testing.T) {
			if rr := env.do(t, "POST", "/api/v1/access/present", body); rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	res := env.issue(t, 0)

	rr := env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": res.Reference, "promote": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("present: %d %s", rr.Code, rr.Body.String())
	}
	pr := decode[presentResponse](t, rr)
	if pr.Session == nil || pr.Session.Token == "" {
		t.Fatalf("expected session token, got %+v", pr.Session)
	}
	token := pr.Session.Token
	if pr.Session.RemainingMinutes != 20 || pr.Session.ExtensionsLeft != 5 {
		t.Errorf("session view = %+v", pr.Session)
	}

	env.clock.Add(5 * time.Minute)
	rr = env.do(t, "GET", "/api/v1/access/session", nil, SessionHeader, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("touch: %d %s", rr.Code, rr.Body.String())
	}
	sv := decode[sessionView](t, rr)
	if sv.Token != "" {
		t.Error("session token must only be returned at promotion")
	}
	if sv.RemainingMinutes != 15 || sv.Resource == nil {
		t.Errorf("session view = %+v", sv)
	}

	rr = env.do(t, "POST", "/api/v1/access/session/extend", nil, SessionHeader, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("extend: %d %s", rr.Code, rr.Body.String())
	}
	sv = decode[sessionView](t, rr)
	if sv.RemainingMinutes != 25 || sv.ExtensionCount != 1 || sv.ExtensionsLeft != 4 {
		t.Errorf("extended view = %+v", sv)
	}

	if rr = env.do(t, "DELETE", "/api/v1/access/session", nil, SessionHeader, token); rr.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rr.Code)
	}
	if rr = env.do(t, "DELETE", "/api/v1/access/session", nil, SessionHeader, token); rr.Code != http.StatusNoContent {
		t.Errorf("second logout should be idempotent, got %d", rr.Code)
	}
	if rr = env.do(t, "GET", "/api/v1/access/session", nil, SessionHeader, token); rr.Code != http.StatusUnauthorized {
		t.Errorf("touch after logout: expected 401, got %d", rr.Code)
	}
}

func TestPromoteWithUngrantedScopeKeepsLink(t *testing.T) {
	env := newTestEnv(t)
	res := env.issue(t, 0)

	rr := env.do(t, "POST", "/api/v1/access/present", map[string]any{
		"credential": res.Reference, "promote": true, "scope": []string{"comment"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("promote with ungranted scope: expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	c, err := env.store.GetCredential(context.Background(), res.CredentialID)
	if err != nil {
		t.Fatal(err)
	}
	if c.State != model.CredentialActive || c.UseCount != 0 {
		t.Errorf("refused promotion used the link: state=%s use_count=%d", c.State, c.UseCount)
	}

	rr = env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": res.Reference})
	if rr.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestExtendCap(t *testing.T) {
	env := newTestEnv(t)
	res := env.issue(t, 0)
	pr := decode[presentResponse](t, env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": res.Reference, "promote": true}))

	for i := 0; i < 5; i++ {
		if rr := env.do(t, "POST", "/api/v1/access/session/extend", nil, SessionHeader, pr.Session.Token); rr.Code != http.StatusOK {
			t.Fatalf("extend %d: %d", i, rr.Code)
		}
	}
	if rr := env.do(t, "POST", "/api/v1/access/session/extend", nil, SessionHeader, pr.Session.Token); rr.Code != http.StatusConflict {
		t.Errorf("sixth extend: expected 409, got %d", rr.Code)
	}
}

func TestSessionMissingToken(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(t, "GET", "/api/v1/access/session", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Admin endpoints
// ---------------------------------------------------------------------------

func TestIssueValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown resource", map[string]any{"resource_id": "PROP-404", "recipient": "client@example.com"}, http.StatusNotFound},
		{"bad recipient", map[string]any{"resource_id": "PROP-100", "recipient": "not-an-email"}, http.StatusBadRequest},
		{"negative duration", map[string]any{"resource_id": "PROP-100", "recipient": "client@example.com", "duration_seconds": -5}, http.StatusBadRequest},
		{"unknown field", map[string]any{"resource_id": "PROP-100", "recipient": "client@example.com", "uses": 3}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, "POST", "/api/v1/admin/credentials", tt.body); rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestListCredentialsRedacted(t *testing.T) {
	env := newTestEnv(t)
	res := env.issue(t, 600)
	env.issue(t, 0)

	rr := env.do(t, "GET", "/api/v1/admin/credentials?recipient=CLIENT@example.com", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, res.Reference) {
		t.Fatal("listing leaked a raw reference")
	}
	var parsed model.ListResponse[credentialView]
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Meta.Count != 2 || len(parsed.Resource) != 2 {
		t.Fatalf("expected 2 credentials, got %+v", parsed.Meta)
	}
	for _, c := range parsed.Resource {
		if c.IssuedBy != "staff@example.com" {
			t.Errorf("issued_by = %q", c.IssuedBy)
		}
		if c.RemainingSeconds <= 0 {
			t.Errorf("expected time remaining for active credential %s", c.ID)
		}
	}
}

func TestRevokeCredential(t *testing.T) {
	env := newTestEnv(t)
	res := env.issue(t, 0)

	rr := env.do(t, "DELETE", "/api/v1/admin/credentials/"+res.CredentialID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke: %d %s", rr.Code, rr.Body.String())
	}
	cv := decode[credentialView](t, rr)
	if cv.State != model.CredentialRevoked || cv.RevokedBy != "staff@example.com" {
		t.Errorf("revoked view = %+v", cv)
	}

	if rr := env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": res.Reference}); rr.Code != http.StatusForbidden {
		t.Errorf("revoked credential: expected 403, got %d", rr.Code)
	}
	if rr := env.do(t, "DELETE", "/api/v1/admin/credentials/missing", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown credential: expected 404, got %d", rr.Code)
	}
}

func TestAdminSessions(t *testing.T) {
	env := newTestEnv(t)
	res := env.issue(t, 0)
	pr := decode[presentResponse](t, env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": res.Reference, "promote": true}))

	rr := env.do(t, "GET", "/api/v1/admin/sessions?state=active", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list sessions: %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), pr.Session.Token) {
		t.Fatal("session listing leaked a raw token")
	}
	list := decode[model.ListResponse[sessionListView]](t, rr)
	if len(list.Resource) != 1 || list.Resource[0].RemainingMinutes != 20 {
		t.Fatalf("unexpected sessions %+v", list.Resource)
	}

	id := list.Resource[0].ID
	if rr := env.do(t, "DELETE", "/api/v1/admin/sessions/"+id, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("end session: %d", rr.Code)
	}
	if rr := env.do(t, "GET", "/api/v1/access/session", nil, SessionHeader, pr.Session.Token); rr.Code != http.StatusUnauthorized {
		t.Errorf("ended session: expected 401, got %d", rr.Code)
	}
}

func TestAdminSweep(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, 60)
	env.clock.Add(3 * time.Hour)

	rr := env.do(t, "POST", "/api/v1/admin/sweep", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sweep: %d", rr.Code)
	}
	got := decode[map[string]int64](t, rr)
	if got["credentials_removed"] != 1 {
		t.Errorf("sweep result = %v", got)
	}
}

func TestAdminInspect(t *testing.T) {
	env := newTestEnv(t)
	res := env.issue(t, 0)
	env.do(t, "POST", "/api/v1/access/present", map[string]any{"credential": res.Reference})

	rr := env.do(t, "POST", "/api/v1/admin/inspect", map[string]any{"credential": res.Reference})
	if rr.Code != http.StatusOK {
		t.Fatalf("inspect: %d", rr.Code)
	}
	got := decode[service.Inspection](t, rr)
	if got.Valid || got.Reason != "already_consumed" {
		t.Errorf("inspection = %+v", got)
	}
}
