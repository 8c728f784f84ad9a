package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faucetdb/licensor/internal/keygen"
	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/stats"
	"github.com/faucetdb/licensor/internal/store"
)

// Activate binds an unbound license to hwid, or confirms an existing binding.
// Re-activating with the bound hwid only refreshes last_seen.
func (e *Engine) Activate(ctx context.Context, req ActivateRequest) (resp ActivateResponse) {
	defer e.track(OpActivate, time.Now(), &resp.Status)

	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	req.HWID = strings.TrimSpace(req.HWID)
	if st, msg := e.validate(req); st != StatusOK {
		return ActivateResponse{Status: st, Message: msg}
	}

	o := e.apply(ctx, OpActivate, req.LicenseKey, activateTransition(req.HWID))
	e.record(ctx, model.ActionActivate, req.LicenseKey, req.HWID, o)

	resp = ActivateResponse{Status: o.status}
	if o.status == StatusOK {
		resp.Expiry = o.after.ExpiryDate()
		resp.Edition = o.after.Edition
		resp.ServerRevision = o.after.ServerRevision
		resp.LicenseStatus = o.after.Status(e.clock())
	}
	return resp
}

// Sync reports how a client's cached revision relates to the authority's.
// It never changes the revision; a revoked license is reported with full
// fields so the client can lock itself.
func (e *Engine) Sync(ctx context.Context, req SyncRequest) (resp SyncResponse) {
	defer e.track(OpSync, time.Now(), &resp.Status)

	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	req.HWID = strings.TrimSpace(req.HWID)
	if st, msg := e.validate(req); st != StatusOK {
		return SyncResponse{Status: st, Message: msg}
	}

	o := e.apply(ctx, OpSync, req.LicenseKey, syncTransition(req.HWID, *req.LocalRevision))
	e.record(ctx, model.ActionSync, req.LicenseKey, req.HWID, o)

	resp = SyncResponse{Status: o.status}
	switch o.status {
	case StatusNoChange, StatusUpdate, StatusRevoked:
		resp.Expiry = o.after.ExpiryDate()
		resp.Edition = o.after.Edition
		resp.ServerRevision = o.after.ServerRevision
		resp.LicenseStatus = o.after.Status(e.clock())
	case StatusError:
		if o.after != nil {
			resp.ServerRevision = o.after.ServerRevision
		}
	}
	return resp
}

// Renew extends the expiry baseline by extension_days (365 by default).
// Expired licenses may be renewed; revoked ones may not.
func (e *Engine) Renew(ctx context.Context, req RenewRequest) (resp RenewResponse) {
	defer e.track(OpRenew, time.Now(), &resp.Status)

	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	if st, msg := e.validate(req); st != StatusOK {
		return RenewResponse{Status: st, Message: msg}
	}
	if !e.authorize(ctx, OpRenew) {
		return RenewResponse{Status: StatusForbidden}
	}

	days := DefaultExtensionDays
	if req.ExtensionDays != nil {
		days = *req.ExtensionDays
	}

	o := e.apply(ctx, OpRenew, req.LicenseKey, renewTransition(days))
	e.record(ctx, model.ActionRenew, req.LicenseKey, "", o)

	resp = RenewResponse{Status: o.status}
	if o.status == StatusOK {
		resp.NewExpiry = o.after.ExpiryDate()
		resp.ServerRevision = o.after.ServerRevision
	}
	return resp
}

// Upgrade changes the edition of a non-revoked license.
func (e *Engine) Upgrade(ctx context.Context, req UpgradeRequest) (resp UpgradeResponse) {
	defer e.track(OpUpgrade, time.Now(), &resp.Status)

	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	if st, msg := e.validate(req); st != StatusOK {
		return UpgradeResponse{Status: st, Message: msg}
	}
	if !e.authorize(ctx, OpUpgrade) {
		return UpgradeResponse{Status: StatusForbidden}
	}
	edition, _ := model.ParseEdition(req.NewEdition)

	o := e.apply(ctx, OpUpgrade, req.LicenseKey, upgradeTransition(edition))
	e.record(ctx, model.ActionUpgrade, req.LicenseKey, "", o)

	resp = UpgradeResponse{Status: o.status}
	if o.status == StatusOK {
		resp.Edition = o.after.Edition
		resp.ServerRevision = o.after.ServerRevision
	}
	return resp
}

// Revoke permanently disables a license. Revoking twice is a no-op success.
func (e *Engine) Revoke(ctx context.Context, req RevokeRequest) (resp RevokeResponse) {
	defer e.track(OpRevoke, time.Now(), &resp.Status)

	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	if st, msg := e.validate(req); st != StatusOK {
		return RevokeResponse{Status: st, Message: msg}
	}
	if !e.authorize(ctx, OpRevoke) {
		return RevokeResponse{Status: StatusForbidden}
	}

	o := e.apply(ctx, OpRevoke, req.LicenseKey, revokeTransition(strings.TrimSpace(req.Reason)))
	e.record(ctx, model.ActionRevoke, req.LicenseKey, "", o)
	return RevokeResponse{Status: o.status}
}

// Create issues a single unbound license at revision 1. An empty key is
// generated.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (resp CreateResponse) {
	defer e.track(OpCreate, time.Now(), &resp.Status)

	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	if st, msg := e.validate(req); st != StatusOK {
		return CreateResponse{Status: st, Message: msg}
	}
	if !e.authorize(ctx, OpCreate) {
		return CreateResponse{Status: StatusForbidden}
	}
	edition, _ := model.ParseEdition(req.Edition)

	key := req.LicenseKey
	if key == "" {
		keys, err := e.keys.Generate(ctx, e.store, 1, "")
		if err != nil {
			e.logger.Error("generate license key", "error", err)
			e.record(ctx, model.ActionCreate, batchAuditKey, "", outcome{status: StatusError, detail: "key generation failed"})
			return CreateResponse{Status: StatusError}
		}
		key = keys[0]
	}

	now := e.clock()
	l := newLicense(key, req.ExpiryDays, edition, now)
	l.OwnerEmail = strings.TrimSpace(req.UserEmail)
	l.Notes = req.Notes

	err := e.retry(ctx, func() error { return e.store.Insert(ctx, l) }, isPermanent)
	o := outcome{status: StatusOK, after: l}
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		o = outcome{status: StatusDuplicateKey}
	case err != nil:
		e.logger.Error("insert license", "license_key", key, "error", err)
		o = outcome{status: StatusError}
	}
	e.record(ctx, model.ActionCreate, key, "", o)

	resp = CreateResponse{Status: o.status}
	if o.status == StatusOK {
		summary := l.Summarize(now)
		resp.License = &summary
	}
	return resp
}

// BulkGenerate issues count licenses atomically: either every key is
// persisted or none is.
func (e *Engine) BulkGenerate(ctx context.Context, req BulkGenerateRequest) (resp BulkGenerateResponse) {
	defer e.track(OpBulkGenerate, time.Now(), &resp.Status)

	if st, msg := e.validate(req); st != StatusOK {
		return BulkGenerateResponse{Status: st, Message: msg}
	}
	if req.Count > e.maxBulk {
		return BulkGenerateResponse{Status: StatusInvalidRequest, Message: fmt.Sprintf("count must be at most %d", e.maxBulk)}
	}
	prefix, err := keygen.NormalizePrefix(req.KeyPrefix)
	if err != nil {
		return BulkGenerateResponse{Status: StatusInvalidRequest, Message: err.Error()}
	}
	if !e.authorize(ctx, OpBulkGenerate) {
		return BulkGenerateResponse{Status: StatusForbidden}
	}
	edition, _ := model.ParseEdition(req.Edition)

	fail := func(st Status, detail string) BulkGenerateResponse {
		e.record(ctx, model.ActionCreate, batchAuditKey, "", outcome{status: st, detail: detail})
		return BulkGenerateResponse{Status: st}
	}

	keys, err := e.keys.Generate(ctx, e.store, req.Count, prefix)
	if err != nil {
		e.logger.Error("generate license keys", "count", req.Count, "error", err)
		return fail(StatusError, fmt.Sprintf("bulk of %d: key generation failed", req.Count))
	}

	now := e.clock()
	batch := make([]*model.License, len(keys))
	for i, k := range keys {
		batch[i] = newLicense(k, req.ExpiryDays, edition, now)
	}

	err = e.retry(ctx, func() error { return e.store.InsertBatch(ctx, batch) }, isPermanent)
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		return fail(StatusDuplicateKey, fmt.Sprintf("bulk of %d: duplicate key", req.Count))
	case err != nil:
		e.logger.Error("insert license batch", "count", req.Count, "error", err)
		return fail(StatusError, fmt.Sprintf("bulk of %d: insert failed", req.Count))
	}

	for _, l := range batch {
		e.record(ctx, model.ActionCreate, l.Key, "", outcome{status: StatusOK, after: l, detail: "bulk"})
	}
	return BulkGenerateResponse{Status: StatusOK, Keys: keys}
}

// Statistics aggregates counts across every license.
func (e *Engine) Statistics(ctx context.Context) (resp StatisticsResponse) {
	defer e.track(OpStatistics, time.Now(), &resp.Status)

	if !e.authorize(ctx, OpStatistics) {
		return StatisticsResponse{Status: StatusForbidden}
	}
	s, err := stats.Compute(ctx, e.store, e.clock())
	if err != nil {
		e.logger.Error("compute statistics", "error", err)
		return StatisticsResponse{Status: StatusError}
	}
	return StatisticsResponse{Status: StatusOK, Statistics: &s}
}

// Get returns one license with its derived status.
func (e *Engine) Get(ctx context.Context, key string) (resp GetResponse) {
	defer e.track(OpGet, time.Now(), &resp.Status)

	if !e.authorize(ctx, OpGet) {
		return GetResponse{Status: StatusForbidden}
	}
	l, err := e.store.Get(ctx, strings.TrimSpace(key))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return GetResponse{Status: StatusInvalidKey}
	case err != nil:
		e.logger.Error("get license", "license_key", key, "error", err)
		return GetResponse{Status: StatusError}
	}
	summary := l.Summarize(e.clock())
	return GetResponse{Status: StatusOK, License: &summary}
}

// List returns a page of licenses ordered by key.
func (e *Engine) List(ctx context.Context, req ListRequest) (resp ListResponse) {
	defer e.track(OpList, time.Now(), &resp.Status)

	if st, msg := e.validate(req); st != StatusOK {
		return ListResponse{Status: st, Message: msg}
	}
	if !e.authorize(ctx, OpList) {
		return ListResponse{Status: StatusForbidden}
	}
	if req.Limit == 0 {
		req.Limit = 100
	}

	ls, total, err := e.store.List(ctx, req.Offset, req.Limit)
	if err != nil {
		e.logger.Error("list licenses", "error", err)
		return ListResponse{Status: StatusError}
	}
	now := e.clock()
	out := make([]model.LicenseSummary, len(ls))
	for i, l := range ls {
		out[i] = l.Summarize(now)
	}
	return ListResponse{
		Status:   StatusOK,
		Licenses: out,
		Meta:     &model.ResponseMeta{Count: len(out), Total: &total, Limit: req.Limit, Offset: req.Offset},
	}
}

// History returns the newest usage-log entries for key.
func (e *Engine) History(ctx context.Context, key string, limit int) (resp HistoryResponse) {
	defer e.track(OpHistory, time.Now(), &resp.Status)

	if !e.authorize(ctx, OpHistory) {
		return HistoryResponse{Status: StatusForbidden}
	}
	if e.history == nil {
		return HistoryResponse{Status: StatusError, Message: "usage history is not available for this store"}
	}
	key = strings.TrimSpace(key)
	ok, err := e.store.Exists(ctx, key)
	if err != nil {
		e.logger.Error("check license key", "license_key", key, "error", err)
		return HistoryResponse{Status: StatusError}
	}
	if !ok {
		return HistoryResponse{Status: StatusInvalidKey}
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	entries, err := e.history.ListUsage(ctx, key, limit)
	if err != nil {
		e.logger.Error("list usage", "license_key", key, "error", err)
		return HistoryResponse{Status: StatusError}
	}
	return HistoryResponse{Status: StatusOK, Entries: entries}
}

// batchAuditKey stands in for the license key on entries that record a
// failure before any key was assigned.
const batchAuditKey = "*"

func newLicense(key string, expiryDays int, edition model.Edition, now time.Time) *model.License {
	return &model.License{
		Key:            key,
		CreatedAt:      now,
		ExpiryDays:     expiryDays,
		Edition:        edition,
		State:          model.StateActive,
		ServerRevision: 1,
		UpdatedAt:      now,
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, store.ErrDuplicateKey) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
