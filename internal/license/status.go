package license

// Status is the closed set of outcomes every operation reports.
type Status string

const (
	StatusOK             Status = "OK"
	StatusInvalidKey     Status = "INVALID_KEY"
	StatusRevoked        Status = "REVOKED"
	StatusExpired        Status = "LICENSE_EXPIRED"
	StatusHWMismatch     Status = "HW_MISMATCH"
	StatusInvalidEdition Status = "INVALID_EDITION"
	StatusDuplicateKey   Status = "DUPLICATE_KEY"
	StatusNoChange       Status = "NO_CHANGE"
	StatusUpdate         Status = "UPDATE"
	StatusError          Status = "ERROR"
	StatusInvalidRequest Status = "INVALID_REQUEST"
	StatusForbidden      Status = "FORBIDDEN"
)

// Statuses lists every status value.
var Statuses = []Status{
	StatusOK, StatusInvalidKey, StatusRevoked, StatusExpired, StatusHWMismatch,
	StatusInvalidEdition, StatusDuplicateKey, StatusNoChange, StatusUpdate,
	StatusError, StatusInvalidRequest, StatusForbidden,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Operation names an engine entry point. Admin operations are subject to
// authorization; Activate and Sync are client operations and are not.
type Operation string

const (
	OpActivate     Operation = "activate"
	OpSync         Operation = "sync"
	OpRenew        Operation = "renew"
	OpUpgrade      Operation = "upgrade"
	OpRevoke       Operation = "revoke"
	OpCreate       Operation = "create"
	OpBulkGenerate Operation = "bulk_generate"
	OpStatistics   Operation = "statistics"
	OpGet          Operation = "get"
	OpList         Operation = "list"
	OpHistory      Operation = "history"
)

// AdminOperations lists every operation that requires authorization.
var AdminOperations = []Operation{
	OpRenew, OpUpgrade, OpRevoke, OpCreate, OpBulkGenerate,
	OpStatistics, OpGet, OpList, OpHistory,
}

// IsAdmin reports whether op requires authorization.
func (op Operation) IsAdmin() bool {
	for _, a := range AdminOperations {
		if op == a {
			return true
		}
	}
	return false
}
