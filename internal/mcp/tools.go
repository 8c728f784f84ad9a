package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/licensor/internal/license"
)

var editions = []string{"BASIC", "PRO", "ENTERPRISE"}

// registerTools registers all license MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Inspection tools -----

	srv.AddTool(
		mcp.NewTool("licensor_get_license",
			mcp.WithDescription(
				"Look up one license by key. Returns its edition, expiry date, derived "+
					"status (ACTIVE, EXPIRED or REVOKED), bound hardware ID, server "+
					"revision and owner details.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("license_key",
				mcp.Required(),
				mcp.Description("The license key to look up"),
			),
		),
		s.handleGetLicense,
	)

	srv.AddTool(
		mcp.NewTool("licensor_list_licenses",
			mcp.WithDescription(
				"List licenses ordered by key, one page at a time. The meta object "+
					"carries the total count for pagination.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of licenses to return (default 25, max 1000)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of licenses to skip for pagination"),
			),
		),
		s.handleListLicenses,
	)

	srv.AddTool(
		mcp.NewTool("licensor_statistics",
			mcp.WithDescription(
				"Summarize the license population: totals by status and edition, bound "+
					"versus unbound, and how many expire within 7 and 30 days.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleStatistics,
	)

	srv.AddTool(
		mcp.NewTool("licensor_license_history",
			mcp.WithDescription(
				"Return the newest usage-log entries for a license: activations, syncs, "+
					"renewals, upgrades and revocation, each with its outcome, the "+
					"revision before and after, and who made the request.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("license_key",
				mcp.Required(),
				mcp.Description("The license key whose history to return"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of entries (default 100, max 1000)"),
			),
		),
		s.handleHistory,
	)

	// ----- Mutation tools -----

	srv.AddTool(
		mcp.NewTool("licensor_create_license",
			mcp.WithDescription(
				"Issue a new unbound license. Omit license_key to have one generated. "+
					"Fails with DUPLICATE_KEY if the key already exists.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("license_key",
				mcp.Description("Key to issue; generated when omitted"),
			),
			mcp.WithNumber("expiry_days",
				mcp.Required(),
				mcp.Description("Validity in days counted from creation"),
			),
			mcp.WithString("edition",
				mcp.Required(),
				mcp.Description("Product edition"),
				mcp.Enum(editions...),
			),
			mcp.WithString("user_email",
				mcp.Description("Owner's email address"),
			),
			mcp.WithString("notes",
				mcp.Description("Free-form notes stored with the license"),
			),
		),
		s.handleCreateLicense,
	)

	srv.AddTool(
		mcp.NewTool("licensor_renew_license",
			mcp.WithDescription(
				"Extend a license's validity. Connected clients pick up the new expiry "+
					"on their next sync. Revoked licenses cannot be renewed.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("license_key",
				mcp.Required(),
				mcp.Description("The license key to renew"),
			),
			mcp.WithNumber("extension_days",
				mcp.Description("Days to add (default 365)"),
			),
		),
		s.handleRenewLicense,
	)

	srv.AddTool(
		mcp.NewTool("licensor_upgrade_license",
			mcp.WithDescription(
				"Change a license's edition. Connected clients pick up the change on "+
					"their next sync.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("license_key",
				mcp.Required(),
				mcp.Description("The license key to change"),
			),
			mcp.WithString("new_edition",
				mcp.Required(),
				mcp.Description("Target edition"),
				mcp.Enum(editions...),
			),
		),
		s.handleUpgradeLicense,
	)

	srv.AddTool(
		mcp.NewTool("licensor_revoke_license",
			mcp.WithDescription(
				"Permanently revoke a license. This cannot be undone: the license stops "+
					"activating and every client learns of it on its next sync.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("license_key",
				mcp.Required(),
				mcp.Description("The license key to revoke"),
			),
			mcp.WithString("reason",
				mcp.Description("Why the license is being revoked"),
			),
		),
		s.handleRevokeLicense,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

func (s *MCPServer) handleGetLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	res := s.engine.Get(s.as(ctx), key)
	return outcomeResult(res, res.Message)
}

func (s *MCPServer) handleListLicenses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := license.ListRequest{
		Limit:  clamp(optionalInt(request, "limit", 25), 1, 1000),
		Offset: optionalInt(request, "offset", 0),
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	res := s.engine.List(s.as(ctx), req)
	return outcomeResult(res, res.Message)
}

func (s *MCPServer) handleStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := s.engine.Statistics(s.as(ctx))
	return outcomeResult(res, res.Message)
}

func (s *MCPServer) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	limit := clamp(optionalInt(request, "limit", license.DefaultHistoryLimit), 1, 1000)
	res := s.engine.History(s.as(ctx), key, limit)
	return outcomeResult(res, res.Message)
}

func (s *MCPServer) handleCreateLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	edition, err := requireString(request, "edition")
	if err != nil {
		return toolError("%v. Valid editions: %v", err, editions)
	}
	res := s.engine.Create(s.as(ctx), license.CreateRequest{
		LicenseKey: optionalString(request, "license_key"),
		ExpiryDays: optionalInt(request, "expiry_days", 0),
		Edition:    edition,
		UserEmail:  optionalString(request, "user_email"),
		Notes:      optionalString(request, "notes"),
	})
	if res.Status == license.StatusOK {
		s.logger.Info("license created", "license_key", res.License.Key, "caller", s.caller.Identity)
	}
	return outcomeResult(res, res.Message)
}

func (s *MCPServer) handleRenewLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	res := s.engine.Renew(s.as(ctx), license.RenewRequest{
		LicenseKey:    key,
		ExtensionDays: optionalIntPtr(request, "extension_days"),
	})
	return outcomeResult(res, res.Message)
}

func (s *MCPServer) handleUpgradeLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	edition, err := requireString(request, "new_edition")
	if err != nil {
		return toolError("%v. Valid editions: %v", err, editions)
	}
	res := s.engine.Upgrade(s.as(ctx), license.UpgradeRequest{LicenseKey: key, NewEdition: edition})
	return outcomeResult(res, res.Message)
}

func (s *MCPServer) handleRevokeLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	res := s.engine.Revoke(s.as(ctx), license.RevokeRequest{
		LicenseKey: key,
		Reason:     optionalString(request, "reason"),
	})
	if res.Status == license.StatusOK {
		s.logger.Warn("license revoked", "license_key", key, "caller", s.caller.Identity)
	}
	return outcomeResult(res, res.Message)
}
