package license

import "github.com/faucetdb/licensor/internal/model"

// Result is implemented by every response type so transports can map the
// outcome without knowing the operation.
type Result interface {
	Outcome() Status
}

// ActivateRequest binds a license to a device, or confirms an existing binding.
type ActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=128"`
	HWID       string `json:"hwid" validate:"required,max=255"`
}

// ActivateResponse carries the license state after activation. Expiry is a
// yyyy-MM-dd date.
type ActivateResponse struct {
	Status         Status              `json:"status"`
	Message        string              `json:"message,omitempty"`
	Expiry         string              `json:"expiry,omitempty"`
	Edition        model.Edition       `json:"edition,omitempty"`
	ServerRevision int64               `json:"server_revision,omitempty"`
	LicenseStatus  model.LicenseStatus `json:"license_status,omitempty"`
}

func (r ActivateResponse) Outcome() Status { return r.Status }

// RenewRequest extends a license's validity.
type RenewRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=128"`
	// ExtensionDays defaults to DefaultExtensionDays when omitted.
	ExtensionDays *int `json:"extension_days,omitempty" validate:"omitempty,min=1,max=36500"`
}

// RenewResponse reports the new expiry date and revision.
type RenewResponse struct {
	Status         Status `json:"status"`
	Message        string `json:"message,omitempty"`
	NewExpiry      string `json:"new_expiry,omitempty"`
	ServerRevision int64  `json:"server_revision,omitempty"`
}

func (r RenewResponse) Outcome() Status { return r.Status }

// UpgradeRequest moves a license to another edition.
type UpgradeRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=128"`
	NewEdition string `json:"new_edition" validate:"edition"`
}

// UpgradeResponse reports the edition now in effect.
type UpgradeResponse struct {
	Status         Status        `json:"status"`
	Message        string        `json:"message,omitempty"`
	Edition        model.Edition `json:"edition,omitempty"`
	ServerRevision int64         `json:"server_revision,omitempty"`
}

func (r UpgradeResponse) Outcome() Status { return r.Status }

// SyncRequest is a client's periodic check-in. LocalRevision is the
// server_revision the client last saw.
type SyncRequest struct {
	LicenseKey    string `json:"license_key" validate:"required,max=128"`
	HWID          string `json:"hwid" validate:"required,max=255"`
	LocalRevision *int64 `json:"local_revision" validate:"required,min=0"`
}

// SyncResponse is NO_CHANGE when the client is current. On UPDATE it carries
// the fields the client must refresh.
type SyncResponse struct {
	Status         Status              `json:"status"`
	Message        string              `json:"message,omitempty"`
	Expiry         string              `json:"expiry,omitempty"`
	Edition        model.Edition       `json:"edition,omitempty"`
	ServerRevision int64               `json:"server_revision,omitempty"`
	LicenseStatus  model.LicenseStatus `json:"license_status,omitempty"`
}

func (r SyncResponse) Outcome() Status { return r.Status }

// CreateRequest issues a single unbound license.
type CreateRequest struct {
	// LicenseKey is generated when empty.
	LicenseKey string `json:"license_key" validate:"omitempty,max=128"`
	ExpiryDays int    `json:"expiry_days" validate:"required,min=1,max=36500"`
	Edition    string `json:"edition" validate:"edition"`
	UserEmail  string `json:"user_email,omitempty" validate:"omitempty,email,max=255"`
	Notes      string `json:"notes,omitempty" validate:"max=4000"`
}

type CreateResponse struct {
	Status  Status                `json:"status"`
	Message string                `json:"message,omitempty"`
	License *model.LicenseSummary `json:"license,omitempty"`
}

func (r CreateResponse) Outcome() Status { return r.Status }

// RevokeRequest permanently disables a license.
type RevokeRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=128"`
	Reason     string `json:"reason,omitempty" validate:"max=1000"`
}

type RevokeResponse struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r RevokeResponse) Outcome() Status { return r.Status }

// BulkGenerateRequest issues Count unbound licenses in one all-or-nothing batch.
type BulkGenerateRequest struct {
	Count      int    `json:"count" validate:"required,min=1"`
	ExpiryDays int    `json:"expiry_days" validate:"required,min=1,max=36500"`
	Edition    string `json:"edition" validate:"edition"`
	KeyPrefix  string `json:"key_prefix,omitempty" validate:"omitempty,max=16,alphanum"`
}

// BulkGenerateResponse lists the generated keys.
type BulkGenerateResponse struct {
	Status  Status   `json:"status"`
	Message string   `json:"message,omitempty"`
	Keys    []string `json:"keys,omitempty"`
}

func (r BulkGenerateResponse) Outcome() Status { return r.Status }

// StatisticsResponse embeds the population summary.
type StatisticsResponse struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	*model.Statistics
}

func (r StatisticsResponse) Outcome() Status { return r.Status }

type GetResponse struct {
	Status  Status                `json:"status"`
	Message string                `json:"message,omitempty"`
	License *model.LicenseSummary `json:"license,omitempty"`
}

func (r GetResponse) Outcome() Status { return r.Status }

// ListRequest pages through licenses ordered by key. Zero Limit means the
// engine default.
type ListRequest struct {
	Offset int `json:"offset" validate:"min=0"`
	Limit  int `json:"limit" validate:"min=0,max=1000"`
}

type ListResponse struct {
	Status   Status                 `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Licenses []model.LicenseSummary `json:"licenses,omitempty"`
	Meta     *model.ResponseMeta    `json:"meta,omitempty"`
}

func (r ListResponse) Outcome() Status { return r.Status }

// HistoryResponse holds usage-log entries, newest first.
type HistoryResponse struct {
	Status  Status                `json:"status"`
	Message string                `json:"message,omitempty"`
	Entries []model.UsageLogEntry `json:"entries,omitempty"`
}

func (r HistoryResponse) Outcome() Status { return r.Status }
