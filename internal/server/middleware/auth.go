package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal represents the authenticated identity making the request.
type Principal struct {
	Type      string // "admin" or "api_key"
	AdminID   int64
	Email     string
	KeyPrefix string
	RoleID    int64
	IsAdmin   bool
}

// Identity is the actor name recorded in the usage log.
func (p *Principal) Identity() string {
	if p.Type == "admin" {
		return "admin:" + p.Email
	}
	return "key:" + p.KeyPrefix
}

// Caller attaches a license.Caller carrying the client IP and user agent to
// every request. Authenticate later fills in the identity.
func Caller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := license.CallerFrom(r.Context())
		c.IP = clientIP(r)
		c.UserAgent = r.UserAgent()
		next.ServeHTTP(w, r.WithContext(license.WithCaller(r.Context(), c)))
	})
}

// Authenticate returns an HTTP middleware that validates the request's
// authentication credentials. It supports two methods:
//
//  1. API key via the configured header (for provisioning systems)
//  2. JWT Bearer token via the Authorization header (for admin users)
//
// On success, a Principal and the matching license.Caller are attached to
// the request context. On failure, a 401 JSON error response is returned.
func Authenticate(authSvc *service.AuthService, apiKeyHeader string) func(http.Handler) http.Handler {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			if apiKey := r.Header.Get(apiKeyHeader); apiKey != "" {
				p, err := authSvc.ValidateAPIKey(r.Context(), apiKey)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				principal = &Principal{
					Type:      "api_key",
					KeyPrefix: p.KeyPrefix,
					RoleID:    p.RoleID,
				}
			}

			if principal == nil {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					token := strings.TrimPrefix(authHeader, "Bearer ")
					p, err := authSvc.ValidateJWT(r.Context(), token)
					if err != nil {
						msg := "Invalid token"
						if errors.Is(err, service.ErrTokenExpired) {
							msg = "Token expired"
						}
						writeAuthError(w, http.StatusUnauthorized, msg)
						return
					}
					principal = &Principal{
						Type:    "admin",
						AdminID: p.AdminID,
						Email:   p.Email,
						IsAdmin: true,
					}
				}
			}

			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide "+apiKeyHeader+" header or Bearer token.")
				return
			}

			c := license.CallerFrom(r.Context())
			c.Identity = principal.Identity()
			c.Admin = principal.IsAdmin
			c.RoleID = principal.RoleID

			setLogCaller(r.Context(), c.Identity)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			ctx = license.WithCaller(ctx, c)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	writeError(w, status, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}

// clientIP returns the host part of RemoteAddr. chi's RealIP middleware has
// already rewritten it from X-Forwarded-For or X-Real-IP when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
