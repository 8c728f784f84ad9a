package service

import (
	"context"
	"testing"
	"time"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
)

const rawKey = "lic_0123456789abcdef0123456789abcdef"

func newTestAuth(t *testing.T) (*AuthService, *config.Store) {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	auth := NewAuthService(store, "test-secret-key-for-jwt")
	return auth, store
}

func createKey(t *testing.T, store *config.Store, role *model.Role) *model.APIKey {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	key := &model.APIKey{
		KeyHash:   config.HashAPIKey(rawKey),
		KeyPrefix: rawKey[:8],
		Label:     "test",
		RoleID:    role.ID,
		IsActive:  true,
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return key
}

func TestJWTRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	token, err := auth.IssueJWT(ctx, 42, "admin@example.com", 1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.AdminID != 42 {
		t.Errorf("AdminID: got %d, want 42", principal.AdminID)
	}
	if principal.Email != "admin@example.com" {
		t.Errorf("Email: got %q, want %q", principal.Email, "admin@example.com")
	}
}

func TestJWTExpired(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	token, err := auth.IssueJWT(ctx, 1, "test@test.com", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	_, err = auth.ValidateJWT(ctx, token)
	if err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestJWTWrongSecret(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	other := NewAuthService(store, "a-different-secret")
	token, err := other.IssueJWT(ctx, 1, "test@test.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if _, err := auth.ValidateJWT(ctx, token); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestJWTInvalidToken(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := auth.ValidateJWT(ctx, "garbage.token.here")
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestAuthenticate(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("password stored in clear")
	}
	admin := &model.Admin{Email: "ops@example.com", PasswordHash: hash, IsActive: true}
	if err := store.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	got, err := auth.Authenticate(ctx, "ops@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != admin.ID {
		t.Errorf("got admin %d, want %d", got.ID, admin.ID)
	}

	if _, err := auth.Authenticate(ctx, "ops@example.com", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := auth.Authenticate(ctx, "nobody@example.com", "s3cret-pass"); err != ErrInvalidCredentials {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateDisabled(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	hash, _ := HashPassword("pw")
	if err := store.CreateAdmin(ctx, &model.Admin{Email: "off@example.com", PasswordHash: hash}); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if _, err := auth.Authenticate(ctx, "off@example.com", "pw"); err != ErrAccountDisabled {
		t.Errorf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestAPIKeyValidation(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	key := createKey(t, store, &model.Role{Name: "testrole", IsActive: true})

	principal, err := auth.ValidateAPIKey(ctx, rawKey)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if principal.RoleID != key.RoleID {
		t.Errorf("RoleID: got %d, want %d", principal.RoleID, key.RoleID)
	}
	if principal.KeyPrefix != rawKey[:8] {
		t.Errorf("KeyPrefix: got %q", principal.KeyPrefix)
	}

	_, err = auth.ValidateAPIKey(ctx, "wrong_key")
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAPIKeyRevoked(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	key := createKey(t, store, &model.Role{Name: "testrole", IsActive: true})
	if err := store.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	_, err := auth.ValidateAPIKey(ctx, rawKey)
	if err != ErrKeyRevoked {
		t.Errorf("expected ErrKeyRevoked, got %v", err)
	}
}

func TestAuthorizer(t *testing.T) {
	_, store := newTestAuth(t)
	ctx := context.Background()

	support := &model.Role{Name: "support", IsActive: true, Operations: []string{"get", "history"}}
	if err := store.CreateRole(ctx, support); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	disabled := &model.Role{Name: "disabled", IsActive: false, Operations: []string{model.OperationAll}}
	if err := store.CreateRole(ctx, disabled); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	authz := NewAuthorizer(store, nil)

	tests := []struct {
		name   string
		caller license.Caller
		op     license.Operation
		want   bool
	}{
		{"admin gets everything", license.Caller{Admin: true}, license.OpRevoke, true},
		{"role grants listed op", license.Caller{RoleID: support.ID}, license.OpHistory, true},
		{"role denies unlisted op", license.Caller{RoleID: support.ID}, license.OpRevoke, false},
		{"inactive role denies", license.Caller{RoleID: disabled.ID}, license.OpGet, false},
		{"unknown role denies", license.Caller{RoleID: 999}, license.OpGet, false},
		{"anonymous denies", license.Caller{}, license.OpStatistics, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := authz.IsAuthorized(ctx, tt.caller, tt.op); got != tt.want {
				t.Errorf("IsAuthorized = %v, want %v", got, tt.want)
			}
		})
	}
}
