package handler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/server/middleware"
	"github.com/faucetdb/licensor/internal/service"
)

// APIKeyPrefix starts every generated API key.
const APIKeyPrefix = "lic_"

// SystemHandler manages the server's own identities: admin sessions, roles,
// admins, and API keys.
type SystemHandler struct {
	store      *config.Store
	authSvc    *service.AuthService
	sessionTTL time.Duration
}

// NewSystemHandler creates a new SystemHandler. A non-positive sessionTTL
// defaults to one hour.
func NewSystemHandler(store *config.Store, authSvc *service.AuthService, sessionTTL time.Duration) *SystemHandler {
	if sessionTTL <= 0 {
		sessionTTL = time.Hour
	}
	return &SystemHandler{
		store:      store,
		authSvc:    authSvc,
		sessionTTL: sessionTTL,
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   int64  `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an admin user and returns a JWT session token.
// POST /api/v1/system/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	admin, err := h.authSvc.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case errors.Is(err, service.ErrAccountDisabled):
		writeError(w, http.StatusUnauthorized, "Account is disabled")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		return
	}

	token, err := h.authSvc.IssueJWT(r.Context(), admin.ID, admin.Email, h.sessionTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		return
	}

	_ = h.store.UpdateAdminLastLogin(r.Context(), admin.ID)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.sessionTTL.Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout invalidates the current session. Since JWTs are stateless, this is
// a no-op on the server side. Clients should discard their token.
// DELETE /api/v1/system/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// ---------------------------------------------------------------------------
// Role management
// ---------------------------------------------------------------------------

// validateOperations rejects names that are neither an admin operation nor
// the wildcard.
func validateOperations(ops []string) error {
	for _, op := range ops {
		if op == model.OperationAll {
			continue
		}
		if !license.Operation(op).IsAdmin() {
			return fmt.Errorf("unknown operation %q", op)
		}
	}
	return nil
}

// ListRoles returns all configured roles.
// GET /api/v1/system/role
func (h *SystemHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list roles: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(roles))
	for i := range roles {
		resources = append(resources, roleToMap(&roles[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse[map[string]interface{}]{
		Resource: resources,
		Meta:     model.ResponseMeta{Count: len(resources)},
	})
}

// CreateRole creates a new role.
// POST /api/v1/system/role
func (h *SystemHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var role model.Role
	if err := readJSON(r, &role); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		writeError(w, http.StatusBadRequest, "Role name is required")
		return
	}
	if err := validateOperations(role.Operations); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	role.IsActive = true
	if err := h.store.CreateRole(r.Context(), &role); err != nil {
		code, msg := classifyDBError(err, "Failed to create role")
		writeError(w, code, msg)
		return
	}

	saved, err := h.store.GetRole(r.Context(), role.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload role: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, roleToMap(saved))
}

// GetRole returns a single role by ID.
// GET /api/v1/system/role/{roleId}
func (h *SystemHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, idStr, ok := pathID(w, r, "roleId", "role")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Role not found: "+idStr)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get role: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, roleToMap(role))
}

// roleUpdate distinguishes omitted fields from zero values.
type roleUpdate struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	IsActive    *bool     `json:"is_active"`
	Operations  *[]string `json:"operations"`
}

// UpdateRole modifies an existing role. Omitted fields keep their values.
// PUT /api/v1/system/role/{roleId}
func (h *SystemHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, idStr, ok := pathID(w, r, "roleId", "role")
	if !ok {
		return
	}

	existing, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Role not found: "+idStr)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get role: "+err.Error())
		return
	}

	var updates roleUpdate
	if err := readJSON(r, &updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if updates.Name != nil && strings.TrimSpace(*updates.Name) != "" {
		existing.Name = strings.TrimSpace(*updates.Name)
	}
	if updates.Description != nil {
		existing.Description = *updates.Description
	}
	if updates.IsActive != nil {
		existing.IsActive = *updates.IsActive
	}
	if updates.Operations != nil {
		if err := validateOperations(*updates.Operations); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		existing.Operations = *updates.Operations
	}

	if err := h.store.UpdateRole(r.Context(), existing); err != nil {
		code, msg := classifyDBError(err, "Failed to update role")
		writeError(w, code, msg)
		return
	}

	saved, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload role: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, roleToMap(saved))
}

// DeleteRole removes a role by ID.
// DELETE /api/v1/system/role/{roleId}
func (h *SystemHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, idStr, ok := pathID(w, r, "roleId", "role")
	if !ok {
		return
	}

	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Role not found: "+idStr)
			return
		}
		code, msg := classifyDBError(err, "Failed to delete role")
		writeError(w, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Role deleted",
	})
}

// ---------------------------------------------------------------------------
// Admin management
// ---------------------------------------------------------------------------

// ListAdmins returns all admin accounts.
// GET /api/v1/system/admin
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(admins))
	for i := range admins {
		resources = append(resources, adminToMap(&admins[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse[map[string]interface{}]{
		Resource: resources,
		Meta:     model.ResponseMeta{Count: len(resources)},
	})
}

// CreateAdmin creates a new admin account.
// POST /api/v1/system/admin
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}
	if len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	if existing, err := h.store.GetAdminByEmail(r.Context(), body.Email); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "Admin with this email already exists")
		return
	}

	passwordHash, err := service.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid password: "+err.Error())
		return
	}

	admin := &model.Admin{
		Email:        body.Email,
		PasswordHash: passwordHash,
		Name:         body.Name,
		IsActive:     true,
	}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		code, msg := classifyDBError(err, "Failed to create admin")
		writeError(w, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, adminToMap(admin))
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

// ListAPIKeys returns all configured API keys (without exposing the actual key).
// GET /api/v1/system/api-key
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys: "+err.Error())
		return
	}

	roles, _ := h.store.ListRoles(r.Context())
	roleNames := make(map[int64]string, len(roles))
	for _, role := range roles {
		roleNames[role.ID] = role.Name
	}

	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		m := apiKeyToMap(&keys[i])
		m["role_name"] = roleNames[keys[i].RoleID]
		resources = append(resources, m)
	}

	writeJSON(w, http.StatusOK, model.ListResponse[map[string]interface{}]{
		Resource: resources,
		Meta:     model.ResponseMeta{Count: len(resources)},
	})
}

type createAPIKeyRequest struct {
	Label     string     `json:"label"`
	RoleID    int64      `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// createAPIKeyResponse includes the plaintext key (shown once only).
type createAPIKeyResponse struct {
	ID        int64      `json:"id"`
	Key       string     `json:"api_key"`
	KeyPrefix string     `json:"key_prefix"`
	Label     string     `json:"label"`
	RoleID    int64      `json:"role_id"`
	IsActive  bool       `json:"is_active"`
	CreatedBy string     `json:"created_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// GenerateAPIKey returns a new plaintext API key and its display prefix.
func GenerateAPIKey() (plaintext, prefix string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plaintext = APIKeyPrefix + hex.EncodeToString(raw)
	return plaintext, plaintext[:len(APIKeyPrefix)+8], nil
}

// CreateAPIKey generates a new API key, hashes it, stores the hash, and
// returns the plaintext key exactly once.
// POST /api/v1/system/api-key
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.RoleID == 0 {
		writeError(w, http.StatusBadRequest, "role_id is required")
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "expires_at must be in the future")
		return
	}

	if _, err := h.store.GetRole(r.Context(), req.RoleID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Role not found: %d", req.RoleID))
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to validate role: "+err.Error())
		return
	}

	plaintext, prefix, err := GenerateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate key: "+err.Error())
		return
	}

	apiKey := &model.APIKey{
		KeyHash:   config.HashAPIKey(plaintext),
		KeyPrefix: prefix,
		Label:     req.Label,
		RoleID:    req.RoleID,
		IsActive:  true,
		ExpiresAt: req.ExpiresAt,
	}
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		apiKey.CreatedBy = p.Identity()
	}

	if err := h.store.CreateAPIKey(r.Context(), apiKey); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		ID:        apiKey.ID,
		Key:       plaintext,
		KeyPrefix: prefix,
		Label:     apiKey.Label,
		RoleID:    apiKey.RoleID,
		IsActive:  apiKey.IsActive,
		CreatedBy: apiKey.CreatedBy,
		ExpiresAt: apiKey.ExpiresAt,
		CreatedAt: apiKey.CreatedAt,
	})
}

// RevokeAPIKey deactivates an API key by ID.
// DELETE /api/v1/system/api-key/{keyId}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, idStr, ok := pathID(w, r, "keyId", "key")
	if !ok {
		return
	}

	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found: "+idStr)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}

// pathID parses a numeric URL parameter, writing a 400 when it is invalid.
func pathID(w http.ResponseWriter, r *http.Request, param, what string) (int64, string, bool) {
	idStr := chi.URLParam(r, param)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+what+" ID: "+idStr)
		return 0, idStr, false
	}
	return id, idStr, true
}

// ---------------------------------------------------------------------------
// Serialization helpers (avoid exposing password and key hashes)
// ---------------------------------------------------------------------------

func roleToMap(role *model.Role) map[string]interface{} {
	ops := role.Operations
	if ops == nil {
		ops = []string{}
	}
	return map[string]interface{}{
		"id":          role.ID,
		"name":        role.Name,
		"description": role.Description,
		"is_active":   role.IsActive,
		"operations":  ops,
		"created_at":  role.CreatedAt,
		"updated_at":  role.UpdatedAt,
	}
}

func adminToMap(admin *model.Admin) map[string]interface{} {
	m := map[string]interface{}{
		"id":             admin.ID,
		"email":          admin.Email,
		"name":           admin.Name,
		"is_active":      admin.IsActive,
		"is_super_admin": admin.IsSuperAdmin,
		"created_at":     admin.CreatedAt,
		"updated_at":     admin.UpdatedAt,
	}
	if admin.LastLoginAt != nil {
		m["last_login_at"] = admin.LastLoginAt
	}
	return m
}

func apiKeyToMap(key *model.APIKey) map[string]interface{} {
	m := map[string]interface{}{
		"id":         key.ID,
		"key_prefix": key.KeyPrefix,
		"label":      key.Label,
		"role_id":    key.RoleID,
		"is_active":  key.IsActive,
		"created_at": key.CreatedAt,
	}
	if key.CreatedBy != "" {
		m["created_by"] = key.CreatedBy
	}
	if key.ExpiresAt != nil {
		m["expires_at"] = key.ExpiresAt
	}
	if key.LastUsed != nil {
		m["last_used"] = key.LastUsed
	}
	return m
}
