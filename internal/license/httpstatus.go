package license

import "net/http"

// HTTPStatus maps an outcome to the HTTP status code the REST transport
// answers with. A revoked license is a normal Sync answer; for every other
// operation it is a refusal.
func HTTPStatus(op Operation, s Status) int {
	switch s {
	case StatusOK, StatusNoChange, StatusUpdate:
		return http.StatusOK
	case StatusRevoked:
		if op == OpSync {
			return http.StatusOK
		}
		return http.StatusForbidden
	case StatusInvalidKey:
		return http.StatusNotFound
	case StatusExpired, StatusForbidden:
		return http.StatusForbidden
	case StatusHWMismatch, StatusDuplicateKey:
		return http.StatusConflict
	case StatusInvalidEdition, StatusInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
