package handler

import (
	"net/http"

	"github.com/faucetdb/licensor/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI 3.1 description of the license API.
type OpenAPIHandler struct {
	baseURL string
}

// NewOpenAPIHandler creates a new OpenAPIHandler. An empty baseURL is derived
// from each request's scheme and host.
func NewOpenAPIHandler(baseURL string) *OpenAPIHandler {
	return &OpenAPIHandler{baseURL: baseURL}
}

// ServeSpec returns the generated document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL
	if base == "" {
		base = requestBaseURL(r)
	}
	writeJSON(w, http.StatusOK, openapi.GenerateSpec(base))
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd == "http" || fwd == "https" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}
