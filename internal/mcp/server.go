package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/licensor/internal/license"
)

// MCPServer wraps the mcp-go server with license administration tools and
// resources so AI agents can inspect, issue and revoke licenses.
type MCPServer struct {
	engine *license.Engine
	caller license.Caller
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all license tools and
// resources. Every engine call runs as caller, so the engine's authorizer
// decides what an agent may do. The returned server is ready to serve over
// stdio or HTTP.
func NewMCPServer(engine *license.Engine, caller license.Caller, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if caller.Identity == "" {
		caller.Identity = "mcp"
	}
	s := &MCPServer{
		engine: engine,
		caller: caller,
		logger: logger.With("component", "mcp"),
	}

	mcpServer := server.NewMCPServer(
		"Licensor License API",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for MCP clients that
// launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

// as attaches the server's caller to ctx.
func (s *MCPServer) as(ctx context.Context) context.Context {
	return license.WithCaller(ctx, s.caller)
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

// destructiveAnnotation marks tools whose effect cannot be undone.
func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
