package model

import "time"

// Action names the operation an audit entry records.
type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionActivate Action = "ACTIVATE"
	ActionRenew    Action = "RENEW"
	ActionUpgrade  Action = "UPGRADE"
	ActionRevoke   Action = "REVOKE"
	ActionSync     Action = "SYNC"
)

// Actor identifies who or what made a request.
type Actor struct {
	Identity  string `json:"identity,omitempty" db:"actor" bson:"actor,omitempty"`
	IP        string `json:"ip,omitempty" db:"ip" bson:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty" db:"user_agent" bson:"user_agent,omitempty"`
}

// UsageLogEntry is one append-only audit record. Every state-changing
// attempt produces exactly one, whatever its outcome.
type UsageLogEntry struct {
	ID             string    `json:"id" db:"id" bson:"_id"`
	LicenseKey     string    `json:"license_key" db:"license_key" bson:"license_key"`
	Action         Action    `json:"action" db:"action" bson:"action"`
	Outcome        string    `json:"outcome" db:"outcome" bson:"outcome"`
	HWID           string    `json:"hwid,omitempty" db:"hwid" bson:"hwid,omitempty"`
	EditionBefore  Edition   `json:"edition_before,omitempty" db:"edition_before" bson:"edition_before,omitempty"`
	EditionAfter   Edition   `json:"edition_after,omitempty" db:"edition_after" bson:"edition_after,omitempty"`
	ExpiryBefore   string    `json:"expiry_before,omitempty" db:"expiry_before" bson:"expiry_before,omitempty"`
	ExpiryAfter    string    `json:"expiry_after,omitempty" db:"expiry_after" bson:"expiry_after,omitempty"`
	RevisionBefore int64     `json:"revision_before" db:"revision_before" bson:"revision_before"`
	RevisionAfter  int64     `json:"revision_after" db:"revision_after" bson:"revision_after"`
	Actor          Actor     `json:"actor" bson:"actor_ctx"`
	Detail         string    `json:"detail,omitempty" db:"detail" bson:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at" db:"created_at" bson:"created_at"`
}

// Before fills the *Before fields from l. A nil license leaves them empty.
func (e *UsageLogEntry) Before(l *License) {
	if l == nil {
		return
	}
	e.EditionBefore = l.Edition
	e.ExpiryBefore = l.ExpiryDate()
	e.RevisionBefore = l.ServerRevision
}

// After fills the *After fields from l. A nil license leaves them empty.
func (e *UsageLogEntry) After(l *License) {
	if l == nil {
		return
	}
	e.EditionAfter = l.Edition
	e.ExpiryAfter = l.ExpiryDate()
	e.RevisionAfter = l.ServerRevision
}
