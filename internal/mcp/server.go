package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/proposalgate/proposalgate/internal/service"
	"github.com/proposalgate/proposalgate/internal/store"
)

// Version is reported to MCP clients during initialization.
var Version = "dev"

// Sweeper runs an on-demand sweep.
type Sweeper interface {
	RunOnce(ctx context.Context) (store.SweepResult, error)
}

// Deps are the services the MCP tools call into.
type Deps struct {
	Issuer    *service.Issuer
	Validator *service.Validator
	Promoter  *service.Promoter
	Store     store.Store
	Sweeper   Sweeper
	Logger    *slog.Logger
	// Actor is recorded as issued_by / revoked_by for MCP operations.
	Actor string
}

// MCPServer wraps the mcp-go server with the staff tools for issuing and
// managing temporary access credentials.
type MCPServer struct {
	deps   Deps
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer with every tool and resource registered.
// The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(deps Deps) *MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Actor == "" {
		deps.Actor = "mcp"
	}
	s := &MCPServer{deps: deps, logger: deps.Logger}

	mcpServer := server.NewMCPServer(
		"proposalgate",
		Version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout for clients that launch the
// server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr (e.g. ":8081").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
