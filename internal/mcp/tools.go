package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/service"
	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/sweeper"
)

// registerTools registers the credential management tools.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("proposalgate_issue_credential",
			mcp.WithDescription(
				"Issue a temporary access link for one proposal to one recipient. "+
					"Returns the shareable URL, its expiry and whether the email "+
					"notification was queued. The URL is only shown once.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("resource_id",
				mcp.Required(),
				mcp.Description("Proposal id (UUID) or job number"),
			),
			mcp.WithString("recipient",
				mcp.Required(),
				mcp.Description("Recipient email address"),
			),
			mcp.WithNumber("duration_seconds",
				mcp.Description("Validity window in seconds. Omit for the configured default."),
			),
			mcp.WithArray("scope",
				mcp.Description("Actions to grant, e.g. [\"view\", \"comment\"]. Omit for the default scope."),
				mcp.WithStringItems(),
			),
			mcp.WithBoolean("skip_notification",
				mcp.Description("Do not email the recipient; only return the URL"),
			),
		),
		s.handleIssueCredential,
	)

	srv.AddTool(
		mcp.NewTool("proposalgate_list_credentials",
			mcp.WithDescription(
				"List issued credentials, newest first. Raw references are never "+
					"included. Filter by proposal, recipient or state.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("resource_id", mcp.Description("Only credentials for this proposal")),
			mcp.WithString("recipient", mcp.Description("Only credentials for this email")),
			mcp.WithString("state",
				mcp.Description("active, consumed, expired or revoked"),
				mcp.Enum("active", "consumed", "expired", "revoked"),
			),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default 50, max 1000)")),
		),
		s.handleListCredentials,
	)

	srv.AddTool(
		mcp.NewTool("proposalgate_revoke_credential",
			mcp.WithDescription(
				"Revoke a credential by id so it can no longer be presented. "+
					"Sessions already created from it are not ended unless the "+
					"server binds sessions to their credential.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("credential_id",
				mcp.Required(),
				mcp.Description("Credential id as returned by issue or list"),
			),
		),
		s.handleRevokeCredential,
	)

	srv.AddTool(
		mcp.NewTool("proposalgate_list_sessions",
			mcp.WithDescription("List browsing sessions with their remaining time and extension count."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("resource_id", mcp.Description("Only sessions for this proposal")),
			mcp.WithString("recipient", mcp.Description("Only sessions for this email")),
			mcp.WithString("state",
				mcp.Description("active or ended"),
				mcp.Enum("active", "ended"),
			),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default 50, max 1000)")),
		),
		s.handleListSessions,
	)

	srv.AddTool(
		mcp.NewTool("proposalgate_end_session",
			mcp.WithDescription("End a browsing session immediately."),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Session id as returned by list_sessions"),
			),
		),
		s.handleEndSession,
	)

	srv.AddTool(
		mcp.NewTool("proposalgate_sweep",
			mcp.WithDescription(
				"Delete credentials and sessions that expired longer ago than the "+
					"configured retention. Returns how many records were removed.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
		),
		s.handleSweep,
	)
}

func (s *MCPServer) handleIssueCredential(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	resourceID, err := requireString(request, "resource_id")
	if err != nil {
		return toolError("%v", err)
	}
	recipient, err := requireString(request, "recipient")
	if err != nil {
		return toolError("%v", err)
	}
	scope, err := model.ParseScope(strings.Join(optionalStringSlice(request, "scope"), ","))
	if err != nil {
		return toolError("Invalid scope: %v", err)
	}

	res, err := s.deps.Issuer.Issue(ctx, service.IssueRequest{
		ResourceID:       resourceID,
		Recipient:        recipient,
		DurationSeconds:  optionalInt(request, "duration_seconds", 0),
		Scope:            scope,
		IssuedBy:         s.deps.Actor,
		SkipNotification: request.GetBool("skip_notification", false),
	})
	if err != nil {
		return serviceError("Issue", err)
	}
	return successJSON(res)
}

type credentialInfo struct {
	model.Credential
	Remaining string `json:"remaining,omitempty"`
}

func (s *MCPServer) handleListCredentials(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	creds, err := s.deps.Store.ListCredentials(ctx, store.CredentialFilter{
		ResourceID: optionalString(request, "resource_id"),
		Recipient:  optionalString(request, "recipient"),
		State:      model.CredentialState(optionalString(request, "state")),
		Limit:      clamp(optionalInt(request, "limit", 50), 1, 1000),
	})
	if err != nil {
		return serviceError("List credentials", err)
	}

	now := time.Now()
	items := make([]credentialInfo, len(creds))
	for i, c := range creds {
		items[i] = credentialInfo{Credential: c.Redacted()}
		if c.State == model.CredentialActive && now.Before(c.ExpiresAt) {
			items[i].Remaining = c.ExpiresAt.Sub(now).Truncate(time.Second).String()
		}
	}
	return successJSON(map[string]any{"count": len(items), "credentials": items})
}

func (s *MCPServer) handleRevokeCredential(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "credential_id")
	if err != nil {
		return toolError("%v", err)
	}
	if err := s.deps.Issuer.Revoke(ctx, id, s.deps.Actor); err != nil {
		return serviceError("Revoke", err)
	}
	c, err := s.deps.Store.GetCredential(ctx, id)
	if err != nil {
		return serviceError("Revoke", err)
	}
	return successJSON(c.Redacted())
}

type sessionInfo struct {
	model.Session
	Remaining string `json:"remaining,omitempty"`
}

func (s *MCPServer) handleListSessions(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	sessions, err := s.deps.Store.ListSessions(ctx, store.SessionFilter{
		ResourceID: optionalString(request, "resource_id"),
		Recipient:  optionalString(request, "recipient"),
		State:      model.SessionState(optionalString(request, "state")),
		Limit:      clamp(optionalInt(request, "limit", 50), 1, 1000),
	})
	if err != nil {
		return serviceError("List sessions", err)
	}

	now := time.Now()
	items := make([]sessionInfo, len(sessions))
	for i, sess := range sessions {
		items[i] = sessionInfo{Session: sess}
		if sess.State == model.SessionActive {
			if d := sess.Remaining(now); d > 0 {
				items[i].Remaining = d.Truncate(time.Second).String()
			}
		}
	}
	return successJSON(map[string]any{"count": len(items), "sessions": items})
}

func (s *MCPServer) handleEndSession(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "session_id")
	if err != nil {
		return toolError("%v", err)
	}
	if err := s.deps.Promoter.EndByID(ctx, id, model.EndReasonAdmin); err != nil {
		return serviceError("End session", err)
	}
	return successJSON(map[string]any{"session_id": id, "ended": true})
}

func (s *MCPServer) handleSweep(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	res, err := s.deps.Sweeper.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, sweeper.ErrBusy) {
			return toolError("A sweep is already running; try again shortly")
		}
		return serviceError("Sweep", err)
	}
	return successJSON(map[string]int64{
		"credentials_removed": res.Credentials,
		"sessions_removed":    res.Sessions,
	})
}
