package service

import (
	"context"
	"log/slog"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/license"
)

// Authorizer grants admins every operation and API-key callers whatever their
// role lists. Anonymous callers get nothing.
type Authorizer struct {
	store  *config.Store
	logger *slog.Logger
}

var _ license.Authorizer = (*Authorizer)(nil)

func NewAuthorizer(store *config.Store, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{store: store, logger: logger}
}

// IsAuthorized implements license.Authorizer.
func (a *Authorizer) IsAuthorized(ctx context.Context, caller license.Caller, op license.Operation) bool {
	if caller.Admin {
		return true
	}
	if caller.RoleID == 0 {
		return false
	}

	role, err := a.store.GetRole(ctx, caller.RoleID)
	if err != nil {
		a.logger.Warn("role lookup failed",
			"role_id", caller.RoleID,
			"operation", op,
			"error", err,
		)
		return false
	}
	return role.Allows(string(op))
}
