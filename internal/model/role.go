package model

import "time"

// OperationAll grants every admin operation when present in a role.
const OperationAll = "*"

// Role groups the admin operations an API key may invoke. API keys are bound
// to exactly one role.
type Role struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	Operations  []string  `json:"operations" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Allows reports whether the role grants op.
func (r *Role) Allows(op string) bool {
	if !r.IsActive {
		return false
	}
	for _, o := range r.Operations {
		if o == OperationAll || o == op {
			return true
		}
	}
	return false
}
