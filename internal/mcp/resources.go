package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/licensor/internal/license"
)

const (
	statisticsURI      = "licensor://statistics"
	licenseURIPrefix   = "licensor://license/"
	licenseURITemplate = licenseURIPrefix + "{license_key}"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			statisticsURI,
			"License Statistics",
			mcp.WithResourceDescription(
				"Current counts of licenses by status and edition, bound versus "+
					"unbound, and upcoming expirations.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleStatisticsResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			licenseURITemplate,
			"License",
			mcp.WithTemplateDescription("One license with its derived status and binding."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleLicenseResource,
	)
}

func (s *MCPServer) handleStatisticsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	res := s.engine.Statistics(s.as(ctx))
	if res.Status != license.StatusOK {
		return nil, fmt.Errorf("statistics: %s", res.Status)
	}
	return jsonContents(statisticsURI, res.Statistics)
}

func (s *MCPServer) handleLicenseResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	key := strings.TrimPrefix(uri, licenseURIPrefix)
	if key == "" || key == uri {
		return nil, fmt.Errorf("invalid license URI %q: expected %s", uri, licenseURITemplate)
	}

	res := s.engine.Get(s.as(ctx), key)
	if res.Status != license.StatusOK {
		return nil, fmt.Errorf("license %q: %s", key, res.Status)
	}
	return jsonContents(uri, res.License)
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
