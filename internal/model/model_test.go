package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseEdition(t *testing.T) {
	tests := []struct {
		in      string
		want    Edition
		wantErr bool
	}{
		{"BASIC", EditionBasic, false},
		{"pro", EditionPro, false},
		{" Enterprise ", EditionEnterprise, false},
		{"GOLD", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEdition(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEdition(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEdition(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLicenseExpiry(t *testing.T) {
	created := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	l := License{Key: "K", CreatedAt: created, ExpiryDays: 1, State: StateActive}

	if got := l.ExpiryDate(); got != "2025-01-16" {
		t.Errorf("ExpiryDate = %q, want %q", got, "2025-01-16")
	}
	if l.IsExpired(created.Add(24 * time.Hour)) {
		t.Error("license should not be expired exactly at the expiry instant")
	}
	if !l.IsExpired(created.Add(48 * time.Hour)) {
		t.Error("license should be expired two days after creation")
	}
}

func TestLicenseStatus(t *testing.T) {
	created := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	later := created.AddDate(0, 0, 10)

	active := License{CreatedAt: created, ExpiryDays: 365, State: StateActive}
	if got := active.Status(later); got != LicenseActive {
		t.Errorf("Status = %q, want %q", got, LicenseActive)
	}

	expired := License{CreatedAt: created, ExpiryDays: 1, State: StateActive}
	if got := expired.Status(later); got != LicenseExpired {
		t.Errorf("Status = %q, want %q", got, LicenseExpired)
	}

	revoked := License{CreatedAt: created, ExpiryDays: 1, State: StateRevoked}
	if got := revoked.Status(later); got != LicenseRevoked {
		t.Errorf("Status = %q, want %q (revocation wins over expiry)", got, LicenseRevoked)
	}
}

func TestLicenseClone(t *testing.T) {
	seen := time.Now()
	l := &License{Key: "K", LastSeen: &seen}
	c := l.Clone()
	*c.LastSeen = seen.Add(time.Hour)
	if !l.LastSeen.Equal(seen) {
		t.Error("mutating the clone's LastSeen changed the original")
	}
}

func TestUsageLogEntryBeforeAfter(t *testing.T) {
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	before := &License{CreatedAt: created, ExpiryDays: 30, Edition: EditionBasic, ServerRevision: 2}
	after := before.Clone()
	after.ExpiryDays = 60
	after.ServerRevision = 3

	var e UsageLogEntry
	e.Before(before)
	e.After(after)
	e.Before(nil)

	if e.ExpiryBefore != "2025-03-31" {
		t.Errorf("ExpiryBefore = %q, want %q", e.ExpiryBefore, "2025-03-31")
	}
	if e.ExpiryAfter != "2025-04-30" {
		t.Errorf("ExpiryAfter = %q, want %q", e.ExpiryAfter, "2025-04-30")
	}
	if e.RevisionBefore != 2 || e.RevisionAfter != 3 {
		t.Errorf("revisions = %d -> %d, want 2 -> 3", e.RevisionBefore, e.RevisionAfter)
	}
}

func TestRoleAllows(t *testing.T) {
	r := Role{IsActive: true, Operations: []string{"statistics", "get"}}
	if !r.Allows("statistics") {
		t.Error("expected statistics to be allowed")
	}
	if r.Allows("revoke") {
		t.Error("expected revoke to be denied")
	}

	all := Role{IsActive: true, Operations: []string{OperationAll}}
	if !all.Allows("revoke") {
		t.Error("wildcard role should allow revoke")
	}

	all.IsActive = false
	if all.Allows("revoke") {
		t.Error("inactive role should allow nothing")
	}
}

func TestAdminPasswordHashNotInJSON(t *testing.T) {
	admin := Admin{
		ID:           1,
		Email:        "admin@example.com",
		PasswordHash: "$2a$10$somehash",
		Name:         "Admin User",
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	b, err := json.Marshal(admin)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if _, ok := m["password_hash"]; ok {
		t.Error("password_hash should NOT appear in JSON output")
	}
	if _, ok := m["email"]; !ok {
		t.Error("email should be present in JSON output")
	}
}

func TestAPIKeyKeyHashNotInJSON(t *testing.T) {
	apiKey := APIKey{ID: 1, KeyHash: "sha256hashvalue", KeyPrefix: "lic_abcd", Label: "ci", RoleID: 1, IsActive: true}

	b, err := json.Marshal(apiKey)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if _, ok := m["key_hash"]; ok {
		t.Error("key_hash should NOT appear in JSON output")
	}
	if m["key_prefix"] != "lic_abcd" {
		t.Errorf("key_prefix = %v, want %q", m["key_prefix"], "lic_abcd")
	}
}

func TestNewStatisticsHasEveryEdition(t *testing.T) {
	s := NewStatistics()
	for _, e := range Editions {
		if _, ok := s.ByEdition[e]; !ok {
			t.Errorf("ByEdition missing %q", e)
		}
	}
}
