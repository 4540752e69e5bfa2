// Package openapi describes the proposalgate HTTP API as an OpenAPI 3.1
// document.
package openapi

import (
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// sessionHeader carries the session token on /access/session requests.
const sessionHeader = "X-Session-Token"

const (
	tagAccess = "access"
	tagAdmin  = "admin"
	tagHealth = "health"
)

// Generate builds the API document. version is reported in info.version.
func Generate(version string) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title: "proposalgate API",
			Description: "Temporary access credentials for proposal review. The access " +
				"endpoints are anonymous and rate limited; admin endpoints need a staff bearer token.",
			Version: version,
		},
		Servers: openapi3.Servers{{URL: "/"}},
		Tags: openapi3.Tags{
			{Name: tagAccess, Description: "Credential presentation and browsing sessions"},
			{Name: tagAdmin, Description: "Staff credential and session management"},
			{Name: tagHealth, Description: "Liveness and readiness probes"},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = schemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	addHealthPaths(doc)
	addAccessPaths(doc)
	addAdminPaths(doc)
	return doc
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addHealthPaths(doc *openapi3.T) {
	status := object(map[string]*openapi3.SchemaRef{"status": str()})
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagHealth},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Responses:   newResponses(http.StatusOK, "Process is running", status),
		},
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagHealth},
			Summary:     "Readiness probe",
			Description: "Returns 503 when the credential store does not answer a ping.",
			OperationID: "readyz",
			Responses:   newResponses(http.StatusOK, "Store reachable", status, http.StatusServiceUnavailable),
		},
	})
}

func addAccessPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/access/present", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:    []string{tagAccess},
			Summary: "Validate a presented credential",
			Description: "Validates the reference or signed token from an access link. With promote " +
				"set, a successful validation also starts a browsing session whose token is returned once. " +
				"A promotion asking for actions the credential does not grant is refused with 400 " +
				"without using the link. Unknown, expired, consumed and revoked credentials all yield the same 403.",
			OperationID: "presentCredential",
			RequestBody: jsonBody("Credential to validate", ref("PresentRequest")),
			Responses: newResponses(http.StatusOK, "Credential accepted", ref("PresentResponse"),
				http.StatusBadRequest, http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable),
		},
	})

	sessionErrors := []int{http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusServiceUnavailable}
	doc.Paths.Set("/api/v1/access/session", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagAccess},
			Summary:     "Check the current session",
			OperationID: "getSession",
			Parameters:  openapi3.Parameters{sessionHeaderParam()},
			Responses:   newResponses(http.StatusOK, "Session is active", ref("SessionView"), sessionErrors...),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{tagAccess},
			Summary:     "End the current session",
			Description: "Idempotent: ending an ended or unknown session also returns 204.",
			OperationID: "endSession",
			Parameters:  openapi3.Parameters{sessionHeaderParam()},
			Responses:   newResponses(http.StatusNoContent, "Session ended", nil, http.StatusServiceUnavailable),
		},
	})
	doc.Paths.Set("/api/v1/access/session/extend", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{tagAccess},
			Summary:     "Extend the current session",
			Description: "Adds one extension increment. Returns 409 once the extension limit is reached.",
			OperationID: "extendSession",
			Parameters:  openapi3.Parameters{sessionHeaderParam()},
			Responses: newResponses(http.StatusOK, "Session extended", ref("SessionView"),
				append(sessionErrors, http.StatusConflict)...),
		},
	})
}

func addAdminPaths(doc *openapi3.T) {
	secured := &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	authErrors := []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable}

	doc.Paths.Set("/api/v1/admin/credentials", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{tagAdmin},
			Summary:     "Issue a credential",
			Description: "The raw reference and access URL are only returned here.",
			OperationID: "issueCredential",
			Security:    secured,
			RequestBody: jsonBody("Issuance request", ref("IssueRequest")),
			Responses: newResponses(http.StatusCreated, "Credential issued", ref("IssueResult"),
				append(authErrors, http.StatusBadRequest, http.StatusNotFound)...),
		},
		Get: &openapi3.Operation{
			Tags:        []string{tagAdmin},
			Summary:     "List credentials",
			OperationID: "listCredentials",
			Security:    secured,
			Parameters: openapi3.Parameters{
				queryParam("resource_id", "Only credentials for this resource"),
				queryParam("recipient", "Only credentials for this recipient email"),
				queryParam("state", "active, consumed, expired or revoked"),
				limitParam(),
			},
			Responses: newResponses(http.StatusOK, "Credentials without references", listOf("CredentialView"), authErrors...),
		},
	})
	doc.Paths.Set("/api/v1/admin/credentials/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{pathParam("id", "Credential id")},
		Get: &openapi3.Operation{
			Tags:        []string{tagAdmin},
			Summary:     "Get a credential",
			OperationID: "getCredential",
			Security:    secured,
			Responses: newResponses(http.StatusOK, "Credential", ref("CredentialView"),
				append(authErrors, http.StatusNotFound)...),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{tagAdmin},
			Summary:     "Revoke a credential",
			Description: "Revoking a terminal credential is a no-op. Not available with the signed strategy.",
			OperationID: "revokeCredential",
			Security:    secured,
			Responses: newResponses(http.StatusOK, "Credential after revocation", ref("CredentialView"),
				append(authErrors, http.StatusNotFound, http.StatusBadRequest)...),
		},
	})
	doc.Paths.Set("/api/v1/admin/sessions", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagAdmin},
			Summary:     "List sessions",
			OperationID: "listSessions",
			Security:    secured,
			Parameters: openapi3.Parameters{
				queryParam("resource_id", "Only sessions for this resource"),
				queryParam("recipient", "Only sessions for this recipient email"),
				queryParam("state", "active or ended"),
				limitParam(),
			},
			Responses: newResponses(http.StatusOK, "Sessions", listOf("Session"), authErrors...),
		},
	})
	doc.Paths.Set("/api/v1/admin/sessions/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{pathParam("id", "Session id")},
		Delete: &openapi3.Operation{
			Tags:        []string{tagAdmin},
			Summary:     "End a session",
			OperationID: "adminEndSession",
			Security:    secured,
			Responses: newResponses(http.StatusNoContent, "Session ended", nil,
				append(authErrors, http.StatusNotFound)...),
		},
	})
	doc.Paths.Set("/api/v1/admin/sweep", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{tagAdmin},
			Summary:     "Run a sweep now",
			Description: "Returns 409 while a scheduled sweep is still running.",
			OperationID: "sweep",
			Security:    secured,
			Responses: newResponses(http.StatusOK, "Records removed", ref("SweepResult"),
				append(authErrors, http.StatusConflict)...),
		},
	})
	doc.Paths.Set("/api/v1/admin/inspect", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{tagAdmin},
			Summary:     "Inspect a reference without using it",
			OperationID: "inspectCredential",
			Security:    secured,
			RequestBody: jsonBody("Reference or token to inspect", object(map[string]*openapi3.SchemaRef{
				"credential": str(),
			}, "credential")),
			Responses: newResponses(http.StatusOK, "What validation would decide", ref("Inspection"),
				append(authErrors, http.StatusBadRequest)...),
		},
	})
}

// ─── Parameters and bodies ──────────────────────────────────────────────────

func sessionHeaderParam() *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:        sessionHeader,
		In:          openapi3.ParameterInHeader,
		Description: "Session token returned by presentCredential with promote=true",
		Required:    true,
		Schema:      str(),
	}}
}

func queryParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:        name,
		In:          openapi3.ParameterInQuery,
		Description: description,
		Schema:      str(),
	}}
}

func limitParam() *openapi3.ParameterRef {
	limit := integer()
	min, max := 1.0, 1000.0
	limit.Value.Min = &min
	limit.Value.Max = &max
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:        "limit",
		In:          openapi3.ParameterInQuery,
		Description: "Maximum number of records (default 100)",
		Schema:      limit,
	}}
}

func pathParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:        name,
		In:          openapi3.ParameterInPath,
		Description: description,
		Required:    true,
		Schema:      str(),
	}}
}

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Description: description,
		Required:    true,
		Content:     openapi3.NewContentWithJSONSchemaRef(schema),
	}}
}

var errorDescriptions = map[int]string{
	http.StatusBadRequest:         "Bad request",
	http.StatusUnauthorized:       "Missing or invalid token",
	http.StatusForbidden:          "Access denied",
	http.StatusNotFound:           "Not found",
	http.StatusConflict:           "Conflict with the current state",
	http.StatusTooManyRequests:    "Rate limit exceeded",
	http.StatusServiceUnavailable: "Store or directory unavailable",
}

// newResponses builds a Responses map with a success response and the listed
// error responses. A nil schema means the success response has no body.
func newResponses(status int, description string, schema *openapi3.SchemaRef, errorStatuses ...int) *openapi3.Responses {
	responses := openapi3.NewResponses()

	success := &openapi3.Response{Description: &description}
	if schema != nil {
		success.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	}
	responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: success})

	errorRef := ref("ErrorResponse")
	for _, code := range errorStatuses {
		desc := errorDescriptions[code]
		if desc == "" {
			desc = http.StatusText(code)
		}
		responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
