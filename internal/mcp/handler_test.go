package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/store/memory"
)

func newTestServer(t *testing.T, opts ...license.Option) *MCPServer {
	t.Helper()
	licenses := memory.New()
	engine := license.New(licenses, append([]license.Option{license.WithAuditSink(licenses)}, opts...)...)
	return NewMCPServer(engine, license.Caller{Identity: "mcp:test", Admin: true}, "test", nil)
}

func callReq(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		val      int
		min      int
		max      int
		expected int
	}{
		{"value in range", 5, 1, 10, 5},
		{"value below min", -3, 1, 10, 1},
		{"value above max", 15, 1, 10, 10},
		{"value equals min", 1, 1, 10, 1},
		{"value equals max", 10, 1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(tt.val, tt.min, tt.max)
			if got != tt.expected {
				t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.expected)
			}
		})
	}
}

func TestAnnotations(t *testing.T) {
	if ro := readOnlyAnnotation(); ro.ReadOnlyHint == nil || !*ro.ReadOnlyHint {
		t.Error("readOnlyAnnotation should set ReadOnlyHint")
	}
	if mut := mutatingAnnotation(); mut.ReadOnlyHint == nil || *mut.ReadOnlyHint {
		t.Error("mutatingAnnotation should clear ReadOnlyHint")
	}
	d := destructiveAnnotation()
	if d.DestructiveHint == nil || !*d.DestructiveHint {
		t.Error("destructiveAnnotation should set DestructiveHint")
	}
}

func TestOptionalIntPtr(t *testing.T) {
	if p := optionalIntPtr(callReq(map[string]interface{}{}), "extension_days"); p != nil {
		t.Errorf("absent argument = %v, want nil", *p)
	}
	p := optionalIntPtr(callReq(map[string]interface{}{"extension_days": float64(30)}), "extension_days")
	if p == nil || *p != 30 {
		t.Errorf("extension_days = %v, want 30", p)
	}
}

func TestToolsList(t *testing.T) {
	s := newTestServer(t)

	msg := s.Server().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, name := range []string{
		"licensor_get_license",
		"licensor_list_licenses",
		"licensor_statistics",
		"licensor_license_history",
		"licensor_create_license",
		"licensor_renew_license",
		"licensor_upgrade_license",
		"licensor_revoke_license",
	} {
		if !strings.Contains(string(b), `"`+name+`"`) {
			t.Errorf("tools/list missing %s", name)
		}
	}
}

func TestCreateGetRevokeTools(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleCreateLicense(ctx, callReq(map[string]interface{}{
		"license_key": "MCP-1",
		"expiry_days": float64(30),
		"edition":     "PRO",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.IsError {
		t.Fatalf("create failed: %s", resultText(t, res))
	}

	res, _ = s.handleGetLicense(ctx, callReq(map[string]interface{}{"license_key": "MCP-1"}))
	var got license.GetResponse
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.License == nil || got.License.Edition != "PRO" || got.License.ServerRevision != 1 {
		t.Errorf("license = %+v", got.License)
	}

	res, _ = s.handleRevokeLicense(ctx, callReq(map[string]interface{}{"license_key": "MCP-1", "reason": "chargeback"}))
	if res.IsError {
		t.Fatalf("revoke failed: %s", resultText(t, res))
	}

	// Revoked licenses cannot be renewed; the status reaches the agent.
	res, _ = s.handleRenewLicense(ctx, callReq(map[string]interface{}{"license_key": "MCP-1"}))
	if !res.IsError {
		t.Fatal("expected renew of a revoked license to fail")
	}
	if !strings.HasPrefix(resultText(t, res), "REVOKED") {
		t.Errorf("error = %q, want REVOKED prefix", resultText(t, res))
	}

	res, _ = s.handleHistory(ctx, callReq(map[string]interface{}{"license_key": "MCP-1"}))
	var hist license.HistoryResponse
	if err := json.Unmarshal([]byte(resultText(t, res)), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(hist.Entries))
	}
	if hist.Entries[0].Actor.Identity != "mcp:test" {
		t.Errorf("actor = %q, want mcp:test", hist.Entries[0].Actor.Identity)
	}
}

func TestToolErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		call   func() (*mcp.CallToolResult, error)
		prefix string
	}{
		{"missing key", func() (*mcp.CallToolResult, error) {
			return s.handleGetLicense(ctx, callReq(map[string]interface{}{}))
		}, "missing required parameter"},
		{"unknown key", func() (*mcp.CallToolResult, error) {
			return s.handleGetLicense(ctx, callReq(map[string]interface{}{"license_key": "NOPE"}))
		}, "INVALID_KEY"},
		{"bad edition", func() (*mcp.CallToolResult, error) {
			return s.handleCreateLicense(ctx, callReq(map[string]interface{}{"expiry_days": float64(10), "edition": "GOLD"}))
		}, "INVALID_EDITION"},
		{"missing edition", func() (*mcp.CallToolResult, error) {
			return s.handleUpgradeLicense(ctx, callReq(map[string]interface{}{"license_key": "K"}))
		}, "missing required parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.call()
			if err != nil {
				t.Fatalf("unexpected protocol error: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected tool error")
			}
			if got := resultText(t, res); !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("error = %q, want prefix %q", got, tt.prefix)
			}
		})
	}
}

func TestToolsRespectAuthorizer(t *testing.T) {
	deny := license.AuthorizerFunc(func(context.Context, license.Caller, license.Operation) bool { return false })
	s := newTestServer(t, license.WithAuthorizer(deny))

	res, _ := s.handleStatistics(context.Background(), callReq(nil))
	if !res.IsError || !strings.HasPrefix(resultText(t, res), "FORBIDDEN") {
		t.Errorf("statistics = %+v, want FORBIDDEN", res)
	}
}

func TestListAndStatistics(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, key := range []string{"B-KEY", "A-KEY", "C-KEY"} {
		res, _ := s.handleCreateLicense(ctx, callReq(map[string]interface{}{
			"license_key": key, "expiry_days": float64(365), "edition": "BASIC",
		}))
		if res.IsError {
			t.Fatalf("create %s: %s", key, resultText(t, res))
		}
	}

	res, _ := s.handleListLicenses(ctx, callReq(map[string]interface{}{"limit": float64(2)}))
	var list license.ListResponse
	if err := json.Unmarshal([]byte(resultText(t, res)), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Licenses) != 2 || list.Licenses[0].Key != "A-KEY" {
		t.Errorf("licenses = %+v", list.Licenses)
	}
	if list.Meta == nil || list.Meta.Total == nil || *list.Meta.Total != 3 {
		t.Errorf("meta = %+v", list.Meta)
	}

	res, _ = s.handleStatistics(ctx, callReq(nil))
	if !strings.Contains(resultText(t, res), `"total": 3`) {
		t.Errorf("statistics = %s", resultText(t, res))
	}
}

func TestResources(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.handleCreateLicense(ctx, callReq(map[string]interface{}{
		"license_key": "RES-1", "expiry_days": float64(30), "edition": "ENTERPRISE",
	}))

	var req mcp.ReadResourceRequest
	req.Params.URI = "licensor://license/RES-1"
	contents, err := s.handleLicenseResource(ctx, req)
	if err != nil {
		t.Fatalf("license resource: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, `"ENTERPRISE"`) {
		t.Errorf("resource = %s", text)
	}

	req.Params.URI = "licensor://license/MISSING"
	if _, err := s.handleLicenseResource(ctx, req); err == nil {
		t.Error("expected error for unknown license")
	}

	req.Params.URI = statisticsURI
	if _, err := s.handleStatisticsResource(ctx, req); err != nil {
		t.Errorf("statistics resource: %v", err)
	}
}
