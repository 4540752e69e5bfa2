package openapi

import "github.com/getkin/kin-openapi/openapi3"

// schemas returns the component schemas shared by the paths.
func schemas() openapi3.Schemas {
	scope := array(enum("view", "comment"))
	scope.Value.Description = "Permitted actions, sorted and de-duplicated."

	recipient := object(map[string]*openapi3.SchemaRef{
		"email":        strFmt("email"),
		"name":         str(),
		"organization": str(),
	}, "email")

	resource := object(map[string]*openapi3.SchemaRef{
		"id":           str(),
		"job_number":   str(),
		"display_name": str(),
		"venue":        str(),
		"total_value":  number(),
	}, "id")

	credential := object(map[string]*openapi3.SchemaRef{
		"id":               str(),
		"reference_prefix": str(),
		"resource_id":      str(),
		"recipient":        ref("Recipient"),
		"scope":            ref("Scope"),
		"policy":           enum("single_use", "multi_use"),
		"state":            enum("active", "consumed", "expired", "revoked"),
		"issued_at":        dateTime(),
		"expires_at":       dateTime(),
		"use_count":        integer(),
		"last_used_at":     dateTime(),
		"issued_by":        str(),
		"revoked_by":       str(),
		"revoked_at":       dateTime(),
	}, "id", "resource_id", "recipient", "state", "expires_at")

	credentialView := &openapi3.SchemaRef{Value: &openapi3.Schema{
		AllOf: openapi3.SchemaRefs{
			ref("Credential"),
			object(map[string]*openapi3.SchemaRef{"remaining_seconds": integer()}),
		},
	}}

	session := object(map[string]*openapi3.SchemaRef{
		"id":                     str(),
		"token_prefix":           str(),
		"origin_credential_id":   str(),
		"resource_id":            str(),
		"recipient":              ref("Recipient"),
		"scope":                  ref("Scope"),
		"state":                  enum("active", "ended"),
		"created_at":             dateTime(),
		"expires_at":             dateTime(),
		"last_accessed_at":       dateTime(),
		"extension_count":        integer(),
		"end_reason":             enum("logout", "admin", "expired", "origin_revoked"),
		"ended_at":               dateTime(),
		"time_remaining_minutes": integer(),
	}, "id", "resource_id", "state", "expires_at")

	sessionView := object(map[string]*openapi3.SchemaRef{
		"token":                  withDescription(str(), "Only present in the promotion response."),
		"resource_id":            str(),
		"resource":               ref("Resource"),
		"recipient":              ref("Recipient"),
		"scope":                  ref("Scope"),
		"expires_at":             dateTime(),
		"time_remaining_minutes": integer(),
		"extension_count":        integer(),
		"extensions_remaining":   integer(),
	}, "resource_id", "expires_at")

	presentRequest := object(map[string]*openapi3.SchemaRef{
		"credential": withDescription(str(), "Reference or signed token from the access link."),
		"promote":    boolean(),
		"scope":      ref("Scope"),
	}, "credential")

	presentResponse := object(map[string]*openapi3.SchemaRef{
		"valid":       boolean(),
		"resource_id": str(),
		"resource":    ref("Resource"),
		"recipient":   ref("Recipient"),
		"scope":       ref("Scope"),
		"policy":      enum("single_use", "multi_use"),
		"expires_at":  dateTime(),
		"session":     ref("SessionView"),
	}, "valid", "resource_id", "expires_at")

	issueRequest := object(map[string]*openapi3.SchemaRef{
		"resource_id":       withDescription(str(), "Proposal id or job number."),
		"recipient":         strFmt("email"),
		"duration_seconds":  withDescription(integer(), "Zero or omitted means the configured default."),
		"scope":             ref("Scope"),
		"skip_notification": boolean(),
	}, "resource_id", "recipient")

	issueResult := object(map[string]*openapi3.SchemaRef{
		"credential_id":    str(),
		"reference":        str(),
		"url":              strFmt("uri"),
		"expires_at":       dateTime(),
		"duration_seconds": integer(),
		"strategy":         enum("opaque", "signed"),
		"policy":           enum("single_use", "multi_use"),
		"scope":            ref("Scope"),
		"resource":         ref("Resource"),
		"recipient":        ref("Recipient"),
		"notification":     enum("queued", "skipped", "disabled"),
	}, "reference", "url", "expires_at")

	sweepResult := object(map[string]*openapi3.SchemaRef{
		"credentials": integer(),
		"sessions":    integer(),
	})

	inspection := object(map[string]*openapi3.SchemaRef{
		"strategy":   enum("opaque", "signed"),
		"valid":      boolean(),
		"reason":     str(),
		"credential": ref("Credential"),
		"claims":     object(nil),
		"remaining":  str(),
	}, "strategy", "valid", "reason")

	errorResponse := object(map[string]*openapi3.SchemaRef{
		"error": object(map[string]*openapi3.SchemaRef{
			"code":    integer(),
			"message": str(),
			"context": object(nil),
		}, "code", "message"),
	}, "error")

	meta := object(map[string]*openapi3.SchemaRef{
		"count":   withDescription(integer(), "Number of records returned."),
		"limit":   withDescription(integer(), "Limit applied to the query."),
		"took_ms": number(),
	})

	return openapi3.Schemas{
		"Scope":           scope,
		"Recipient":       recipient,
		"Resource":        resource,
		"Credential":      credential,
		"CredentialView":  credentialView,
		"Session":         session,
		"SessionView":     sessionView,
		"PresentRequest":  presentRequest,
		"PresentResponse": presentResponse,
		"IssueRequest":    issueRequest,
		"IssueResult":     issueResult,
		"SweepResult":     sweepResult,
		"Inspection":      inspection,
		"ErrorResponse":   errorResponse,
		"ListMeta":        meta,
	}
}

// listOf wraps a component in the {"resource": [...], "meta": {...}} list
// envelope.
func listOf(component string) *openapi3.SchemaRef {
	return object(map[string]*openapi3.SchemaRef{
		"resource": array(ref(component)),
		"meta":     ref("ListMeta"),
	}, "resource", "meta")
}

// ─── Schema helpers ─────────────────────────────────────────────────────────

func ref(component string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+component, nil)
}

func typed(t string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{t}}}
}

func str() *openapi3.SchemaRef     { return typed(openapi3.TypeString) }
func integer() *openapi3.SchemaRef { return typed(openapi3.TypeInteger) }
func number() *openapi3.SchemaRef  { return typed(openapi3.TypeNumber) }
func boolean() *openapi3.SchemaRef { return typed(openapi3.TypeBoolean) }

func strFmt(format string) *openapi3.SchemaRef {
	s := str()
	s.Value.Format = format
	return s
}

func dateTime() *openapi3.SchemaRef { return strFmt("date-time") }

func enum(values ...string) *openapi3.SchemaRef {
	s := str()
	for _, v := range values {
		s.Value.Enum = append(s.Value.Enum, v)
	}
	return s
}

func array(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	s := typed(openapi3.TypeArray)
	s.Value.Items = items
	return s
}

func object(props map[string]*openapi3.SchemaRef, required ...string) *openapi3.SchemaRef {
	s := typed(openapi3.TypeObject)
	if props != nil {
		s.Value.Properties = openapi3.Schemas(props)
	}
	s.Value.Required = required
	return s
}

func withDescription(s *openapi3.SchemaRef, description string) *openapi3.SchemaRef {
	s.Value.Description = description
	return s
}
