package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
	lmcp "github.com/faucetdb/licensor/internal/mcp"
	"github.com/faucetdb/licensor/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		apiKey    string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes license administration
as tools for AI agents. Supports stdio (default) and HTTP transports.

By default the agent acts with admin rights as "mcp:<user>". Pass --api-key
(or LICENSOR_MCP_API_KEY) to restrict it to the operations of that key's role.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for launching as a subprocess from an MCP client.`,
		Example: `  licensor mcp                              # stdio mode
  licensor mcp --transport http --port 3001   # Streamable HTTP mode
  licensor mcp --api-key lic_...              # limited to the key's role`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("LICENSOR_MCP_API_KEY")
			}
			return runMCP(transport, port, apiKey)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport mode: stdio or http (default from mcp.transport)")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Run tools with the role of this API key instead of as admin")

	return cmd
}

func runMCP(transport string, port int, apiKey string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.MCP.Enabled {
		return fmt.Errorf("the MCP server is disabled (mcp.enabled: false)")
	}
	if transport == "" {
		transport = cfg.MCP.Transport
	}

	// stdout carries the protocol in stdio mode; logs go to stderr.
	logger := newLogger(cfg.Logging, false)

	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	caller, err := mcpCaller(ctx, a.store, apiKey)
	if err != nil {
		return err
	}
	logger.Info("MCP caller resolved", "identity", caller.Identity, "admin", caller.Admin)

	mcpSrv := lmcp.NewMCPServer(a.engine, caller, versionString(), logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}

// mcpCaller resolves who the agent acts as: the local operator with admin
// rights, or the role bound to apiKey.
func mcpCaller(ctx context.Context, store *config.Store, apiKey string) (license.Caller, error) {
	if apiKey == "" {
		return license.Caller{
			Identity: "mcp:" + strings.TrimPrefix(cliCaller().Identity, "cli:"),
			Admin:    true,
		}, nil
	}

	// Only API-key validation is used here, so the JWT secret is irrelevant.
	p, err := service.NewAuthService(store, "").ValidateAPIKey(ctx, apiKey)
	if err != nil {
		return license.Caller{}, fmt.Errorf("api key: %w", err)
	}
	return license.Caller{Identity: "mcp:key:" + p.KeyPrefix, RoleID: p.RoleID}, nil
}
