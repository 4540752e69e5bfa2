package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const credentialURIPrefix = "proposalgate://credential/"

// registerResources adds read-only views LLM clients can load into context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			"proposalgate://policy",
			"Access Policy",
			mcp.WithResourceDescription(
				"Effective credential strategy and session limits: session lifetime, "+
					"extension increment and maximum number of extensions.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handlePolicyResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			credentialURIPrefix+"{id}",
			"Credential",
			mcp.WithTemplateDescription("A single credential by id, without its raw reference."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleCredentialResource,
	)
}

func (s *MCPServer) handlePolicyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	sc := s.deps.Promoter.Config()
	policy := map[string]any{
		"strategy":                    s.deps.Validator.Strategy(),
		"session_ttl":                 sc.TTL.String(),
		"session_extension":           sc.ExtensionIncrement.String(),
		"session_max_extensions":      sc.MaxExtensions,
		"session_bound_to_credential": sc.BindToCredential,
	}
	b, err := json.MarshalIndent(policy, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func (s *MCPServer) handleCredentialResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	id := strings.TrimPrefix(uri, credentialURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid credential URI %q: expected %s{id}", uri, credentialURIPrefix)
	}

	c, err := s.deps.Store.GetCredential(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("credential %q: %w", id, err)
	}
	b, err := json.MarshalIndent(c.Redacted(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
