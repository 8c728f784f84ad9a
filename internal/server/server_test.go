package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/metrics"
	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/service"
	"github.com/faucetdb/licensor/internal/store"
	"github.com/faucetdb/licensor/internal/store/memory"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPassword  = "supersecretpassword"
	testAdminName = "Test Admin"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server   *Server
	store    *config.Store
	authSvc  *service.AuthService
	licenses *memory.Store
	engine   *license.Engine
	metrics  *metrics.Collector
}

type envOption func(*Config, *[]Option)

// newTestEnv creates a fresh test environment with an in-memory config
// store, an in-memory license store and a fully wired Server.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfgStore, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { cfgStore.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(cfgStore, testJWTSecret)
	licenses := memory.New()
	collector := metrics.New("")
	engine := license.New(licenses,
		license.WithAuditSink(licenses),
		license.WithAuthorizer(service.NewAuthorizer(cfgStore, logger)),
		license.WithObserver(collector),
		license.WithLogger(logger),
	)

	cfg := DefaultConfig()
	srvOpts := []Option{WithMetrics(collector)}
	for _, o := range opts {
		o(&cfg, &srvOpts)
	}

	return &testEnv{
		server:   New(cfg, engine, licenses, cfgStore, authSvc, logger, srvOpts...),
		store:    cfgStore,
		authSvc:  authSvc,
		licenses: licenses,
		engine:   engine,
		metrics:  collector,
	}
}

// seedAdmin creates a default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.Admin {
	t.Helper()
	hash, err := service.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: hash,
		Name:         testAdminName,
		IsActive:     true,
		IsSuperAdmin: true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// seedAPIKey creates a role granting ops and an API key bound to it, and
// returns the raw key.
func (e *testEnv) seedAPIKey(t *testing.T, rawKey string, ops ...string) string {
	t.Helper()
	role := &model.Role{Name: "role-" + rawKey[len(rawKey)-6:], IsActive: true, Operations: ops}
	if err := e.store.CreateRole(context.Background(), role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	apiKey := &model.APIKey{
		KeyHash:   config.HashAPIKey(rawKey),
		KeyPrefix: rawKey[:12],
		Label:     "test",
		RoleID:    role.ID,
		IsActive:  true,
	}
	if err := e.store.CreateAPIKey(context.Background(), apiKey); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return rawKey
}

// seedLicense creates an unbound license directly through the engine.
func (e *testEnv) seedLicense(t *testing.T, key string) {
	t.Helper()
	res := e.engine.Create(license.WithCaller(context.Background(), license.Caller{Identity: "test", Admin: true}),
		license.CreateRequest{LicenseKey: key, ExpiryDays: 365, Edition: "PRO"})
	if res.Status != license.StatusOK {
		t.Fatalf("seedLicense: %s %s", res.Status, res.Message)
	}
}

// adminToken logs in as the default admin and returns the JWT token string.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := e.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("adminToken: got empty token from login")
	}
	return resp.Token
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes an authenticated HTTP request using the admin JWT.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// doAPIKey executes an HTTP request authenticated with an API key.
func (e *testEnv) doAPIKey(t *testing.T, method, path string, body io.Reader, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"X-API-Key": apiKey,
	})
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

func assertLicenseStatus(t *testing.T, rr *httptest.ResponseRecorder, want license.Status) {
	t.Helper()
	if got := rr.Header().Get("X-License-Status"); got != string(want) {
		t.Errorf("X-License-Status = %q, want %q; body = %s", got, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// downStore fails every ping.
type downStore struct {
	store.Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	for _, name := range []string{"license_store", "config_store"} {
		if resp.Checks[name] != "ok" {
			t.Errorf("checks[%s] = %q, want ok", name, resp.Checks[name])
		}
	}
}

func TestReadyz_LicenseStoreDown(t *testing.T) {
	env := newTestEnv(t)
	env.server.licenses = downStore{Store: env.licenses}

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if !strings.Contains(resp.Checks["license_store"], "connection refused") {
		t.Errorf("license_store check = %q", resp.Checks["license_store"])
	}
	if resp.Checks["config_store"] != "ok" {
		t.Errorf("config_store check = %q", resp.Checks["config_store"])
	}
}

// ---------------------------------------------------------------------------
// Admin login/logout tests
// ---------------------------------------------------------------------------

func TestAdminLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token     string `json:"session_token"`
		TokenType string `json:"token_type"`
		ExpiresIn int    `json:"expires_in"`
		Email     string `json:"email"`
		Name      string `json:"name"`
	}
	decodeJSON(t, rr, &resp)

	if resp.Token == "" {
		t.Error("expected non-empty session_token")
	}
	if resp.TokenType != "bearer" {
		t.Errorf("token_type = %q, want %q", resp.TokenType, "bearer")
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", resp.ExpiresIn)
	}
	if resp.Name != testAdminName {
		t.Errorf("name = %q, want %q", resp.Name, testAdminName)
	}
}

func TestAdminLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": "wrongpassword",
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminLogout(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "DELETE", "/api/v1/system/admin/session", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["success"] != true {
		t.Errorf("success = %v, want true", resp["success"])
	}
}

// ---------------------------------------------------------------------------
// Client endpoint tests
// ---------------------------------------------------------------------------

func TestClientEndpointsArePublic(t *testing.T) {
	env := newTestEnv(t)
	env.seedLicense(t, "PUB-1")

	rr := env.do(t, "POST", "/api/v1/license/activate",
		jsonBody(t, map[string]string{"license_key": "PUB-1", "hwid": "HW-A"}), nil)
	assertStatus(t, rr, http.StatusOK)
	assertLicenseStatus(t, rr, license.StatusOK)

	rr = env.do(t, "POST", "/api/v1/license/sync",
		jsonBody(t, map[string]interface{}{"license_key": "PUB-1", "hwid": "HW-A", "local_revision": 0}), nil)
	assertStatus(t, rr, http.StatusOK)
	assertLicenseStatus(t, rr, license.StatusUpdate)

	var resp struct {
		ServerRevision int64  `json:"server_revision"`
		Edition        string `json:"edition"`
	}
	decodeJSON(t, rr, &resp)
	if resp.ServerRevision != 2 || resp.Edition != "PRO" {
		t.Errorf("sync = %+v, want revision 2 PRO", resp)
	}
}

func TestClientEndpointsRecordCallerIP(t *testing.T) {
	env := newTestEnv(t)
	env.seedLicense(t, "IP-1")

	rr := env.do(t, "POST", "/api/v1/license/activate",
		jsonBody(t, map[string]string{"license_key": "IP-1", "hwid": "HW-A"}),
		map[string]string{"X-Forwarded-For": "203.0.113.7", "User-Agent": "agent/1.0"})
	assertStatus(t, rr, http.StatusOK)

	entries, err := env.licenses.ListUsage(context.Background(), "IP-1", 10)
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected a usage entry")
	}
	if entries[0].Actor.IP != "203.0.113.7" {
		t.Errorf("ip = %q, want 203.0.113.7", entries[0].Actor.IP)
	}
	if entries[0].Actor.UserAgent != "agent/1.0" {
		t.Errorf("user agent = %q", entries[0].Actor.UserAgent)
	}
}

func TestClientRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *[]Option) { c.ClientRPM = 2 })

	for i := 0; i < 2; i++ {
		rr := env.do(t, "POST", "/api/v1/license/activate",
			jsonBody(t, map[string]string{"license_key": "NOPE", "hwid": "H"}), nil)
		assertStatus(t, rr, http.StatusNotFound)
	}
	rr := env.do(t, "POST", "/api/v1/license/activate",
		jsonBody(t, map[string]string{"license_key": "NOPE", "hwid": "H"}), nil)
	assertStatus(t, rr, http.StatusTooManyRequests)

	// Health probes are not limited.
	assertStatus(t, env.do(t, "GET", "/healthz", nil, nil), http.StatusOK)
}

func TestMaxBodySize(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *[]Option) { c.MaxBodySize = 64 })

	body := jsonBody(t, map[string]string{"license_key": strings.Repeat("K", 128), "hwid": "H"})
	rr := env.do(t, "POST", "/api/v1/license/activate", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)
	assertLicenseStatus(t, rr, license.StatusInvalidRequest)
}

// ---------------------------------------------------------------------------
// Authentication / authorization tests
// ---------------------------------------------------------------------------

func TestProtectedEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/license/renew"},
		{"POST", "/api/v1/license/upgrade"},
		{"GET", "/api/v1/system/license"},
		{"POST", "/api/v1/system/license"},
		{"POST", "/api/v1/system/license/bulk"},
		{"POST", "/api/v1/system/license/revoke"},
		{"GET", "/api/v1/system/license/statistics"},
		{"GET", "/api/v1/system/license/K"},
		{"GET", "/api/v1/system/license/K/usage"},
		{"GET", "/api/v1/system/role"},
		{"POST", "/api/v1/system/role"},
		{"GET", "/api/v1/system/admin"},
		{"POST", "/api/v1/system/admin"},
		{"GET", "/api/v1/system/api-key"},
		{"POST", "/api/v1/system/api-key"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			var body io.Reader
			if ep.method == "POST" {
				body = jsonBody(t, map[string]string{})
			}
			rr := env.do(t, ep.method, ep.path, body, nil)
			assertStatus(t, rr, http.StatusUnauthorized)
		})
	}
}

func TestProtectedEndpoints_InvalidJWT(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAuth(t, "GET", "/api/v1/system/license", nil, "invalid.jwt.token")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestProtectedEndpoints_ExpiredJWT(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	token, err := env.authSvc.IssueJWT(context.Background(), 1, "admin@example.com", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	rr := env.doAuth(t, "GET", "/api/v1/system/license", nil, token)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestIdentityManagement_APIKeyNotAdmin(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedAPIKey(t, "lic_0123456789abcdef0123456789ab", "*")

	for _, path := range []string{"/api/v1/system/role", "/api/v1/system/admin", "/api/v1/system/api-key"} {
		rr := env.doAPIKey(t, "GET", path, nil, key)
		assertStatus(t, rr, http.StatusForbidden)
	}
}

func TestRenewWithAPIKeyRole(t *testing.T) {
	env := newTestEnv(t)
	env.seedLicense(t, "REN-1")
	key := env.seedAPIKey(t, "lic_renewonlyrenewonlyrenew01", "renew")

	rr := env.doAPIKey(t, "POST", "/api/v1/license/renew",
		jsonBody(t, map[string]interface{}{"license_key": "REN-1", "extension_days": 30}), key)
	assertStatus(t, rr, http.StatusOK)
	assertLicenseStatus(t, rr, license.StatusOK)

	// The role does not grant upgrade.
	rr = env.doAPIKey(t, "POST", "/api/v1/license/upgrade",
		jsonBody(t, map[string]string{"license_key": "REN-1", "new_edition": "ENTERPRISE"}), key)
	assertStatus(t, rr, http.StatusForbidden)
	assertLicenseStatus(t, rr, license.StatusForbidden)
}

func TestLicenseAdministrationWithJWT(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.doAuth(t, "POST", "/api/v1/system/license/bulk",
		jsonBody(t, map[string]interface{}{"count": 3, "expiry_days": 30, "edition": "BASIC"}), token)
	assertStatus(t, rr, http.StatusOK)

	var bulk struct {
		Keys []string `json:"keys"`
	}
	decodeJSON(t, rr, &bulk)
	if len(bulk.Keys) != 3 {
		t.Fatalf("keys = %v, want 3", bulk.Keys)
	}

	rr = env.doAuth(t, "GET", "/api/v1/system/license/statistics", nil, token)
	assertStatus(t, rr, http.StatusOK)
	var st struct {
		Total   int `json:"total"`
		Unbound int `json:"unbound"`
	}
	decodeJSON(t, rr, &st)
	if st.Total != 3 || st.Unbound != 3 {
		t.Errorf("statistics = %+v, want 3 total 3 unbound", st)
	}

	rr = env.doAuth(t, "GET", "/api/v1/system/license/"+bulk.Keys[0]+"/usage", nil, token)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Metrics, OpenAPI, CORS
// ---------------------------------------------------------------------------

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/v1/license/activate",
		jsonBody(t, map[string]string{"license_key": "NOPE", "hwid": "H"}), nil)

	rr := env.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	want := `licensor_operations_total{operation="activate",status="INVALID_KEY"} 1`
	if !strings.Contains(rr.Body.String(), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestMetricsDisabled(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, opts *[]Option) { *opts = nil })

	rr := env.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var spec struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	decodeJSON(t, rr, &spec)
	if spec.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q, want 3.1.0", spec.OpenAPI)
	}
	if _, ok := spec.Paths["/api/v1/license/activate"]; !ok {
		t.Error("expected activate path in spec")
	}
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/api/v1/license/activate", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "Content-Type,X-API-Key",
	})
	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}

	rr = env.do(t, "GET", "/healthz", nil, map[string]string{"Origin": "http://localhost:3000"})
	if !strings.Contains(rr.Header().Get("Access-Control-Expose-Headers"), "X-License-Status") {
		t.Errorf("expose headers = %q", rr.Header().Get("Access-Control-Expose-Headers"))
	}
}

// ---------------------------------------------------------------------------
// Full workflow: login -> role -> API key -> issue -> activate -> revoke
// ---------------------------------------------------------------------------

func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	// Role allowed to issue and inspect licenses, but not revoke them.
	rr := env.doAuth(t, "POST", "/api/v1/system/role", jsonBody(t, map[string]interface{}{
		"name":       "issuer",
		"operations": []string{"create", "get"},
	}), token)
	assertStatus(t, rr, http.StatusCreated)
	var role struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, rr, &role)

	rr = env.doAuth(t, "POST", "/api/v1/system/api-key", jsonBody(t, map[string]interface{}{
		"label":   "storefront",
		"role_id": role.ID,
	}), token)
	assertStatus(t, rr, http.StatusCreated)
	var keyResp struct {
		Key string `json:"api_key"`
	}
	decodeJSON(t, rr, &keyResp)
	if keyResp.Key == "" {
		t.Fatal("expected API key in response")
	}

	// Issue a license with the API key.
	rr = env.doAPIKey(t, "POST", "/api/v1/system/license", jsonBody(t, map[string]interface{}{
		"license_key": "FLOW-1",
		"expiry_days": 365,
		"edition":     "pro",
		"user_email":  "buyer@example.com",
	}), keyResp.Key)
	assertStatus(t, rr, http.StatusOK)
	if loc := rr.Header().Get("Location"); loc != "/api/v1/system/license/FLOW-1" {
		t.Errorf("Location = %q", loc)
	}

	// The customer's machine activates it.
	rr = env.do(t, "POST", "/api/v1/license/activate",
		jsonBody(t, map[string]string{"license_key": "FLOW-1", "hwid": "HW-1"}), nil)
	assertStatus(t, rr, http.StatusOK)

	// The issuer role cannot revoke.
	rr = env.doAPIKey(t, "POST", "/api/v1/system/license/revoke",
		jsonBody(t, map[string]string{"license_key": "FLOW-1"}), keyResp.Key)
	assertStatus(t, rr, http.StatusForbidden)
	assertLicenseStatus(t, rr, license.StatusForbidden)

	// The admin can.
	rr = env.doAuth(t, "POST", "/api/v1/system/license/revoke",
		jsonBody(t, map[string]string{"license_key": "FLOW-1", "reason": "refund"}), token)
	assertStatus(t, rr, http.StatusOK)

	// The next sync learns about it with a 200.
	rr = env.do(t, "POST", "/api/v1/license/sync",
		jsonBody(t, map[string]interface{}{"license_key": "FLOW-1", "hwid": "HW-1", "local_revision": 2}), nil)
	assertStatus(t, rr, http.StatusOK)
	assertLicenseStatus(t, rr, license.StatusRevoked)

	// The issuer can still look it up.
	rr = env.doAPIKey(t, "GET", "/api/v1/system/license/FLOW-1", nil, keyResp.Key)
	assertStatus(t, rr, http.StatusOK)
	var got struct {
		License struct {
			LicenseStatus string `json:"license_status"`
			RevokeReason  string `json:"revoke_reason"`
		} `json:"license"`
	}
	decodeJSON(t, rr, &got)
	if got.License.LicenseStatus != "REVOKED" || got.License.RevokeReason != "refund" {
		t.Errorf("license = %+v", got.License)
	}

	// And still cannot manage identities.
	rr = env.doAPIKey(t, "GET", "/api/v1/system/role", nil, keyResp.Key)
	assertStatus(t, rr, http.StatusForbidden)
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/system/role", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &errResp)

	if errResp.Error.Code != 401 {
		t.Errorf("error.code = %d, want 401", errResp.Error.Code)
	}
	if errResp.Error.Message == "" {
		t.Error("expected non-empty error.message")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/license/activate", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed && rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 405 or 404", rr.Code)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.NewBufferString("{invalid json")
	rr := env.do(t, "POST", "/api/v1/license/activate", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)
	assertLicenseStatus(t, rr, license.StatusInvalidRequest)
}
