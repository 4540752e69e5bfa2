package openapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
)

func TestGenerate_Info(t *testing.T) {
	doc := Generate("v1.4.0")
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q, want 3.1.0", doc.OpenAPI)
	}
	if doc.Info.Version != "v1.4.0" {
		t.Errorf("info.version = %q", doc.Info.Version)
	}
	if Generate("").Info.Version != "dev" {
		t.Error("empty version should be reported as dev")
	}
}

func TestGenerate_Paths(t *testing.T) {
	doc := Generate("dev")

	tests := []struct {
		path   string
		method string
	}{
		{"/healthz", http.MethodGet},
		{"/readyz", http.MethodGet},
		{"/api/v1/access/present", http.MethodPost},
		{"/api/v1/access/session", http.MethodGet},
		{"/api/v1/access/session", http.MethodDelete},
		{"/api/v1/access/session/extend", http.MethodPost},
		{"/api/v1/admin/credentials", http.MethodPost},
		{"/api/v1/admin/credentials", http.MethodGet},
		{"/api/v1/admin/credentials/{id}", http.MethodGet},
		{"/api/v1/admin/credentials/{id}", http.MethodDelete},
		{"/api/v1/admin/sessions", http.MethodGet},
		{"/api/v1/admin/sessions/{id}", http.MethodDelete},
		{"/api/v1/admin/sweep", http.MethodPost},
		{"/api/v1/admin/inspect", http.MethodPost},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			item := doc.Paths.Value(tt.path)
			if item == nil {
				t.Fatalf("path %s missing", tt.path)
			}
			if item.GetOperation(tt.method) == nil {
				t.Errorf("%s %s missing", tt.method, tt.path)
			}
		})
	}
}

func TestGenerate_AdminOperationsSecured(t *testing.T) {
	doc := Generate("dev")
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			isAdmin := len(op.Tags) > 0 && op.Tags[0] == tagAdmin
			secured := op.Security != nil && len(*op.Security) > 0
			if isAdmin != secured {
				t.Errorf("%s %s: admin=%v secured=%v", method, path, isAdmin, secured)
			}
		}
	}
}

func TestGenerate_PresentDeniesWith403(t *testing.T) {
	op := Generate("dev").Paths.Value("/api/v1/access/present").Post
	if op.Responses.Value(strconv.Itoa(http.StatusForbidden)) == nil {
		t.Error("present should document 403")
	}
	if op.Responses.Value(strconv.Itoa(http.StatusNotFound)) != nil {
		t.Error("present must not distinguish unknown credentials with 404")
	}
}

func TestGenerate_RefsResolve(t *testing.T) {
	doc := Generate("dev")
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var tree any
	if err := json.Unmarshal(b, &tree); err != nil {
		t.Fatal(err)
	}

	var refs []string
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case map[string]any:
			for k, child := range x {
				if s, ok := child.(string); ok && k == "$ref" {
					refs = append(refs, s)
					continue
				}
				walk(child)
			}
		case []any:
			for _, child := range x {
				walk(child)
			}
		}
	}
	walk(tree)

	if len(refs) == 0 {
		t.Fatal("expected component references")
	}
	const prefix = "#/components/schemas/"
	for _, ref := range refs {
		name := strings.TrimPrefix(ref, prefix)
		if name == ref || doc.Components.Schemas[name] == nil {
			t.Errorf("dangling reference %s", ref)
		}
	}
}

func TestGenerate_ComponentSchemas(t *testing.T) {
	s := Generate("dev").Components.Schemas
	for _, name := range []string{
		"Credential", "CredentialView", "Session", "SessionView", "PresentRequest",
		"PresentResponse", "IssueRequest", "IssueResult", "ErrorResponse", "Scope",
	} {
		if s[name] == nil {
			t.Errorf("schema %s missing", name)
		}
	}
	cred := s["Credential"].Value
	if _, ok := cred.Properties["reference"]; ok {
		t.Error("Credential must not expose the raw reference")
	}
}
