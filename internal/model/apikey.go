package model

import "time"

// APIKey authenticates a machine caller against a role. Only the SHA-256 hash
// and a short prefix of the raw key are persisted.
type APIKey struct {
	ID        int64      `json:"id" db:"id"`
	KeyHash   string     `json:"-" db:"key_hash"`
	KeyPrefix string     `json:"key_prefix" db:"key_prefix"`
	Label     string     `json:"label" db:"label"`
	RoleID    int64      `json:"role_id" db:"role_id"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedBy string     `json:"created_by,omitempty" db:"created_by"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty" db:"last_used"`
}
