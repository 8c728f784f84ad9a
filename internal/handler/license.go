package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/licensor/internal/license"
)

const maxHistoryLimit = 1000

// LicenseHandler exposes license.Engine operations over HTTP. Every answer is
// the operation's response object; the HTTP code is derived from its status.
type LicenseHandler struct {
	engine *license.Engine
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(engine *license.Engine) *LicenseHandler {
	return &LicenseHandler{engine: engine}
}

// Activate binds a license to a hardware ID.
// POST /api/v1/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req license.ActivateRequest
	if !decodeRequest(w, r, license.OpActivate, &req) {
		return
	}
	writeResult(w, license.OpActivate, h.engine.Activate(r.Context(), req))
}

// Sync reconciles a client's cached revision with the server.
// POST /api/v1/license/sync
func (h *LicenseHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req license.SyncRequest
	if !decodeRequest(w, r, license.OpSync, &req) {
		return
	}
	writeResult(w, license.OpSync, h.engine.Sync(r.Context(), req))
}

// Renew extends a license's validity.
// POST /api/v1/license/renew
func (h *LicenseHandler) Renew(w http.ResponseWriter, r *http.Request) {
	var req license.RenewRequest
	if !decodeRequest(w, r, license.OpRenew, &req) {
		return
	}
	writeResult(w, license.OpRenew, h.engine.Renew(r.Context(), req))
}

// Upgrade changes a license's edition.
// POST /api/v1/license/upgrade
func (h *LicenseHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	var req license.UpgradeRequest
	if !decodeRequest(w, r, license.OpUpgrade, &req) {
		return
	}
	writeResult(w, license.OpUpgrade, h.engine.Upgrade(r.Context(), req))
}

// Create issues a single license.
// POST /api/v1/system/license
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req license.CreateRequest
	if !decodeRequest(w, r, license.OpCreate, &req) {
		return
	}
	res := h.engine.Create(r.Context(), req)
	if res.Status == license.StatusOK {
		w.Header().Set("Location", "/api/v1/system/license/"+res.License.Key)
	}
	writeResult(w, license.OpCreate, res)
}

// BulkGenerate issues a batch of licenses with generated keys.
// POST /api/v1/system/license/bulk
func (h *LicenseHandler) BulkGenerate(w http.ResponseWriter, r *http.Request) {
	var req license.BulkGenerateRequest
	if !decodeRequest(w, r, license.OpBulkGenerate, &req) {
		return
	}
	writeResult(w, license.OpBulkGenerate, h.engine.BulkGenerate(r.Context(), req))
}

// Revoke permanently disables a license.
// POST /api/v1/system/license/revoke
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req license.RevokeRequest
	if !decodeRequest(w, r, license.OpRevoke, &req) {
		return
	}
	writeResult(w, license.OpRevoke, h.engine.Revoke(r.Context(), req))
}

// Statistics returns aggregate license counts.
// GET /api/v1/system/license/statistics
func (h *LicenseHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	writeResult(w, license.OpStatistics, h.engine.Statistics(r.Context()))
}

// Get returns one license.
// GET /api/v1/system/license/{key}
func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeResult(w, license.OpGet, h.engine.Get(r.Context(), chi.URLParam(r, "key")))
}

// List returns a page of licenses.
// GET /api/v1/system/license?offset=0&limit=100
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	req := license.ListRequest{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 0),
	}
	writeResult(w, license.OpList, h.engine.List(r.Context(), req))
}

// History returns the newest usage-log entries for a license.
// GET /api/v1/system/license/{key}/usage?limit=50
func (h *LicenseHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 0), 0, maxHistoryLimit)
	writeResult(w, license.OpHistory, h.engine.History(r.Context(), chi.URLParam(r, "key"), limit))
}
