package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/service"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID == "" {
		t.Error("expected X-Request-ID in response header")
	}
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	id := GetRequestID(context.Background())
	if id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

func TestRequestIDRejectsInvalidClientID(t *testing.T) {
	for _, bad := range []string{"has space", strings.Repeat("a", 129), "tab\tid"} {
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", bad)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("X-Request-ID"); got == bad || len(got) != 36 {
			t.Errorf("client ID %q should be replaced, got %q", bad, got)
		}
	}
}

// ---------------------------------------------------------------------------
// RequireAdmin middleware tests
// ---------------------------------------------------------------------------

func TestRequireAdminAllowsAdmins(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := RequireAdmin()(inner)

	req := httptest.NewRequest("GET", "/admin", nil)
	ctx := context.WithValue(req.Context(), AuthPrincipalKey, &Principal{
		Type:    "admin",
		AdminID: 1,
		IsAdmin: true,
	})
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRequireAdminBlocksNonAdmins(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called for non-admin")
		w.WriteHeader(http.StatusOK)
	})

	handler := RequireAdmin()(inner)

	req := httptest.NewRequest("GET", "/admin", nil)
	ctx := context.WithValue(req.Context(), AuthPrincipalKey, &Principal{
		Type:    "api_key",
		RoleID:  1,
		IsAdmin: false,
	})
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestRequireAdminBlocksUnauthenticated(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called for unauthenticated")
		w.WriteHeader(http.StatusOK)
	})

	handler := RequireAdmin()(inner)

	req := httptest.NewRequest("GET", "/admin", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// GetPrincipal tests
// ---------------------------------------------------------------------------

func TestGetPrincipalWithValue(t *testing.T) {
	expected := &Principal{Type: "admin", AdminID: 42, IsAdmin: true}
	ctx := context.WithValue(context.Background(), AuthPrincipalKey, expected)

	got := GetPrincipal(ctx)
	if got == nil {
		t.Fatal("expected non-nil principal")
	}
	if got.AdminID != 42 {
		t.Errorf("expected AdminID 42, got %d", got.AdminID)
	}
	if !got.IsAdmin {
		t.Error("expected IsAdmin true")
	}
}

func TestGetPrincipalWithoutValue(t *testing.T) {
	got := GetPrincipal(context.Background())
	if got != nil {
		t.Error("expected nil principal from bare context")
	}
}

func TestPrincipalIdentity(t *testing.T) {
	admin := &Principal{Type: "admin", Email: "ops@example.com", IsAdmin: true}
	if got := admin.Identity(); got != "admin:ops@example.com" {
		t.Errorf("admin identity = %q", got)
	}
	key := &Principal{Type: "api_key", KeyPrefix: "lic_abcd"}
	if got := key.Identity(); got != "key:lic_abcd" {
		t.Errorf("key identity = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Caller and Authenticate middleware tests
// ---------------------------------------------------------------------------

const testRawKey = "lic_feedfacefeedfacefeedfacefeedface"

func newTestAuth(t *testing.T) *service.AuthService {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	role := &model.Role{Name: "provisioner", IsActive: true, Operations: []string{"create"}}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	key := &model.APIKey{
		KeyHash:   config.HashAPIKey(testRawKey),
		KeyPrefix: testRawKey[:8],
		RoleID:    role.ID,
		IsActive:  true,
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return service.NewAuthService(store, "middleware-test-secret")
}

func TestCallerCapturesClientDetails(t *testing.T) {
	var got license.Caller
	handler := Caller(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = license.CallerFrom(r.Context())
	}))

	req := httptest.NewRequest("POST", "/api/v1/license/activate", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", "client/2.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.IP != "203.0.113.7" {
		t.Errorf("IP = %q", got.IP)
	}
	if got.UserAgent != "client/2.1" {
		t.Errorf("UserAgent = %q", got.UserAgent)
	}
	if got.Identity != "" {
		t.Errorf("anonymous caller should have no identity, got %q", got.Identity)
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	auth := newTestAuth(t)

	var caller license.Caller
	var principal *Principal
	handler := Caller(Authenticate(auth, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = license.CallerFrom(r.Context())
		principal = GetPrincipal(r.Context())
	})))

	req := httptest.NewRequest("POST", "/api/v1/license/renew", nil)
	req.RemoteAddr = "198.51.100.2:4000"
	req.Header.Set("X-API-Key", testRawKey)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if principal == nil || principal.Type != "api_key" || principal.IsAdmin {
		t.Fatalf("principal = %+v", principal)
	}
	if caller.Identity != "key:"+testRawKey[:8] || caller.Admin || caller.RoleID == 0 {
		t.Errorf("caller = %+v", caller)
	}
	if caller.IP != "198.51.100.2" {
		t.Errorf("caller IP lost: %+v", caller)
	}
}

func TestAuthenticateCustomHeader(t *testing.T) {
	auth := newTestAuth(t)
	handler := Authenticate(auth, "X-Licensor-Key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Licensor-Key", testRawKey)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with custom header, got %d", rr.Code)
	}
}

func TestAuthenticateJWT(t *testing.T) {
	auth := newTestAuth(t)
	token, err := auth.IssueJWT(context.Background(), 7, "ops@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	var caller license.Caller
	handler := Authenticate(auth, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = license.CallerFrom(r.Context())
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !caller.Admin || caller.Identity != "admin:ops@example.com" {
		t.Errorf("caller = %+v", caller)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	auth := newTestAuth(t)
	expired, _ := auth.IssueJWT(context.Background(), 7, "ops@example.com", -time.Hour)

	tests := []struct {
		name    string
		header  string
		value   string
		message string
	}{
		{"missing", "", "", "Authentication required"},
		{"bad key", "X-API-Key", "lic_nope", "Invalid API key"},
		{"bad token", "Authorization", "Bearer garbage", "Invalid token"},
		{"expired token", "Authorization", "Bearer " + expired, "Token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Authenticate(auth, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("inner handler should not be called")
			}))
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			var body model.ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != 401 || !strings.Contains(body.Error.Message, tt.message) {
				t.Errorf("error = %+v", body.Error)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Rate limit tests
// ---------------------------------------------------------------------------

func TestRateLimitReturnsJSON429(t *testing.T) {
	handler := RateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 2)
	var last *httptest.ResponseRecorder
	for i := range codes {
		req := httptest.NewRequest("POST", "/api/v1/license/sync", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		codes[i] = last.Code
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if ct := last.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	handler := RateLimit(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rr.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Logger tests
// ---------------------------------------------------------------------------

func TestLoggerRecordsOutcomeAndCaller(t *testing.T) {
	auth := newTestAuth(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(LicenseStatusHeader, "HW_MISMATCH")
		w.WriteHeader(http.StatusConflict)
	})
	handler := Logger(logger)(Authenticate(auth, "")(inner))

	req := httptest.NewRequest("POST", "/api/v1/license/renew", nil)
	req.Header.Set("X-API-Key", testRawKey)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO for a license outcome", entry["level"])
	}
	if entry["outcome"] != "HW_MISMATCH" {
		t.Errorf("outcome = %v", entry["outcome"])
	}
	if entry["caller"] != "key:"+testRawKey[:8] {
		t.Errorf("caller = %v", entry["caller"])
	}
	if entry["status"] != float64(409) {
		t.Errorf("status = %v", entry["status"])
	}
}

func TestLoggerWarnsOnPlainClientErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))

	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("expected WARN, got %s", buf.String())
	}
}
