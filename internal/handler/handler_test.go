package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/service"
	"github.com/faucetdb/licensor/internal/store/memory"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *config.Store
	licenses *memory.Store
	engine   *license.Engine
	authSvc  *service.AuthService
	handler  *SystemHandler
	router   chi.Router

	// caller is attached to every request made through do.
	caller license.Caller
}

// newTestEnv creates a fresh test environment with an in-memory config store,
// an engine over the in-memory license store, and a Chi router with routes
// mounted (no auth middleware).
func newTestEnv(t *testing.T, opts ...license.Option) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	licenses := memory.New()
	engine := license.New(licenses, append([]license.Option{license.WithAuditSink(licenses)}, opts...)...)

	authSvc := service.NewAuthService(store, testJWTSecret)
	sysHandler := NewSystemHandler(store, authSvc, 0)
	licHandler := NewLicenseHandler(engine)

	env := &testEnv{
		store:    store,
		licenses: licenses,
		engine:   engine,
		authSvc:  authSvc,
		handler:  sysHandler,
		caller:   license.Caller{Identity: "admin:admin@example.com", Admin: true, IP: "192.0.2.10"},
	}

	// Mount routes without auth middleware for direct handler testing.
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(license.WithCaller(req.Context(), env.caller)))
		})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/license/activate", licHandler.Activate)
		r.Post("/license/sync", licHandler.Sync)
		r.Post("/license/renew", licHandler.Renew)
		r.Post("/license/upgrade", licHandler.Upgrade)

		r.Route("/system", func(r chi.Router) {
			r.Post("/admin/session", sysHandler.Login)
			r.Delete("/admin/session", sysHandler.Logout)

			r.Get("/license", licHandler.List)
			r.Post("/license", licHandler.Create)
			r.Post("/license/bulk", licHandler.BulkGenerate)
			r.Post("/license/revoke", licHandler.Revoke)
			r.Get("/license/statistics", licHandler.Statistics)
			r.Get("/license/{key}", licHandler.Get)
			r.Get("/license/{key}/usage", licHandler.History)

			r.Get("/role", sysHandler.ListRoles)
			r.Post("/role", sysHandler.CreateRole)
			r.Get("/role/{roleId}", sysHandler.GetRole)
			r.Put("/role/{roleId}", sysHandler.UpdateRole)
			r.Delete("/role/{roleId}", sysHandler.DeleteRole)

			r.Get("/admin", sysHandler.ListAdmins)
			r.Post("/admin", sysHandler.CreateAdmin)

			r.Get("/api-key", sysHandler.ListAPIKeys)
			r.Post("/api-key", sysHandler.CreateAPIKey)
			r.Delete("/api-key/{keyId}", sysHandler.RevokeAPIKey)
		})
	})
	r.Get("/openapi.json", NewOpenAPIHandler("").ServeSpec)

	env.router = r
	return env
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
		Name:         "Test Admin",
		IsActive:     true,
		IsSuperAdmin: true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// seedRole creates a role and returns it.
func (e *testEnv) seedRole(t *testing.T, name string, ops ...string) *model.Role {
	t.Helper()
	role := &model.Role{
		Name:        name,
		Description: "Test role: " + name,
		IsActive:    true,
		Operations:  ops,
	}
	if err := e.store.CreateRole(context.Background(), role); err != nil {
		t.Fatalf("seedRole: %v", err)
	}
	return role
}

// seedLicense creates an unbound license through the engine.
func (e *testEnv) seedLicense(t *testing.T, key string, days int, edition model.Edition) {
	t.Helper()
	res := e.engine.Create(context.Background(), license.CreateRequest{
		LicenseKey: key,
		ExpiryDays: days,
		Edition:    string(edition),
	})
	if res.Status != license.StatusOK {
		t.Fatalf("seedLicense(%s): %s %s", key, res.Status, res.Message)
	}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
