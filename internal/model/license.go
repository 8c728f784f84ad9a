package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for every date the API returns.
const DateLayout = "2006-01-02"

// Edition is the feature tier a license grants.
type Edition string

const (
	EditionBasic      Edition = "BASIC"
	EditionPro        Edition = "PRO"
	EditionEnterprise Edition = "ENTERPRISE"
)

// Editions lists every valid edition in ascending tier order.
var Editions = []Edition{EditionBasic, EditionPro, EditionEnterprise}

// Valid reports whether e is one of the known editions.
func (e Edition) Valid() bool {
	switch e {
	case EditionBasic, EditionPro, EditionEnterprise:
		return true
	}
	return false
}

// ParseEdition accepts an edition name in any letter case.
func ParseEdition(s string) (Edition, error) {
	e := Edition(strings.ToUpper(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("unknown edition %q", s)
	}
	return e, nil
}

// State is the persisted lifecycle state of a license. Expiry is never
// stored; see License.Status.
type State string

const (
	StateActive  State = "ACTIVE"
	StateRevoked State = "REVOKED"
)

// LicenseStatus is the status reported to clients, with EXPIRED derived
// from the clock at read time.
type LicenseStatus string

const (
	LicenseActive  LicenseStatus = "ACTIVE"
	LicenseExpired LicenseStatus = "EXPIRED"
	LicenseRevoked LicenseStatus = "REVOKED"
)

// License is a single issued license key and its hardware binding.
// ServerRevision starts at 1 and is bumped by exactly one on every accepted
// mutation (first bind, renew, upgrade, revoke).
type License struct {
	Key            string     `json:"license_key" db:"license_key" bson:"_id"`
	HWID           string     `json:"hwid,omitempty" db:"hwid" bson:"hwid"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at" bson:"created_at"`
	ExpiryDays     int        `json:"expiry_days" db:"expiry_days" bson:"expiry_days"`
	Edition        Edition    `json:"edition" db:"edition" bson:"edition"`
	State          State      `json:"state" db:"state" bson:"state"`
	ServerRevision int64      `json:"server_revision" db:"server_revision" bson:"server_revision"`
	LastSeen       *time.Time `json:"last_seen,omitempty" db:"last_seen" bson:"last_seen,omitempty"`
	OwnerEmail     string     `json:"user_email,omitempty" db:"owner_email" bson:"owner_email,omitempty"`
	Notes          string     `json:"notes,omitempty" db:"notes" bson:"notes,omitempty"`
	RevokeReason   string     `json:"revoke_reason,omitempty" db:"revoke_reason" bson:"revoke_reason,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty" db:"revoked_at" bson:"revoked_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// Bound reports whether a device has been bound to the license.
func (l *License) Bound() bool {
	return l.HWID != ""
}

// ExpiresAt returns created_at + expiry_days.
func (l *License) ExpiresAt() time.Time {
	return l.CreatedAt.AddDate(0, 0, l.ExpiryDays)
}

// IsExpired reports whether now is strictly past the expiry instant.
func (l *License) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt())
}

// Status derives the client-facing status. Revocation wins over expiry.
func (l *License) Status(now time.Time) LicenseStatus {
	if l.State == StateRevoked {
		return LicenseRevoked
	}
	if l.IsExpired(now) {
		return LicenseExpired
	}
	return LicenseActive
}

// ExpiryDate formats the expiry as a yyyy-MM-dd date in UTC.
func (l *License) ExpiryDate() string {
	return l.ExpiresAt().UTC().Format(DateLayout)
}

// Clone returns a deep copy so callers can compute a successor record
// without touching the one they read.
func (l *License) Clone() *License {
	c := *l
	if l.LastSeen != nil {
		t := *l.LastSeen
		c.LastSeen = &t
	}
	if l.RevokedAt != nil {
		t := *l.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

// LicenseSummary is the admin view of a license, with derived fields filled in.
type LicenseSummary struct {
	Key            string        `json:"license_key"`
	HWID           string        `json:"hwid,omitempty"`
	Edition        Edition       `json:"edition"`
	ExpiryDays     int           `json:"expiry_days"`
	CreatedAt      string        `json:"created_at"`
	Expiry         string        `json:"expiry"`
	LicenseStatus  LicenseStatus `json:"license_status"`
	ServerRevision int64         `json:"server_revision"`
	LastSeen       *time.Time    `json:"last_seen,omitempty"`
	OwnerEmail     string        `json:"user_email,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	RevokeReason   string        `json:"revoke_reason,omitempty"`
}

// Summarize builds the admin view of l as seen at now.
func (l *License) Summarize(now time.Time) LicenseSummary {
	return LicenseSummary{
		Key:            l.Key,
		HWID:           l.HWID,
		Edition:        l.Edition,
		ExpiryDays:     l.ExpiryDays,
		CreatedAt:      l.CreatedAt.UTC().Format(DateLayout),
		Expiry:         l.ExpiryDate(),
		LicenseStatus:  l.Status(now),
		ServerRevision: l.ServerRevision,
		LastSeen:       l.LastSeen,
		OwnerEmail:     l.OwnerEmail,
		Notes:          l.Notes,
		RevokeReason:   l.RevokeReason,
	}
}
