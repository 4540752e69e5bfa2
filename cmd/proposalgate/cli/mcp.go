package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pgmcp "github.com/proposalgate/proposalgate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes credential
administration as tools: issue, list and revoke credentials, list and end
sessions, and run a sweep. Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC.
In HTTP mode, the server listens on the specified port.`,
		Example: `  proposalgate mcp                              # stdio mode
  proposalgate mcp --transport http --port 8081  # streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 8081, "HTTP port (only used with --transport http)")

	viper.BindPFlag("mcp.transport", cmd.Flags().Lookup("transport"))
	viper.BindPFlag("mcp.port", cmd.Flags().Lookup("port"))

	return cmd
}

func runMCP(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	a, err := openApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pgmcp.Version = versionString()
	mcpSrv := pgmcp.NewMCPServer(pgmcp.Deps{
		Issuer:    a.issuer,
		Validator: a.validator,
		Promoter:  a.promoter,
		Store:     a.store,
		Sweeper:   a.sweeper,
		Logger:    logger,
	})

	switch cfg.MCP.Transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		addr := fmt.Sprintf(":%d", cfg.MCP.Port)
		logger.Info("starting MCP HTTP server", "addr", addr)
		return mcpSrv.ServeHTTP(addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", cfg.MCP.Transport)
	}
}
