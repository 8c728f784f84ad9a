package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/model"
	"github.com/faucetdb/licensor/internal/server/middleware"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeResult writes a license operation response. The HTTP code follows the
// outcome status and the status is mirrored in the X-License-Status header.
func writeResult(w http.ResponseWriter, op license.Operation, res license.Result) {
	status := res.Outcome()
	w.Header().Set(middleware.LicenseStatusHeader, string(status))
	writeJSON(w, license.HTTPStatus(op, status), res)
}

// invalidRequest is the body for license requests that never reached the
// engine because they could not be decoded.
type invalidRequest struct {
	Status  license.Status `json:"status"`
	Message string         `json:"message"`
}

func (r invalidRequest) Outcome() license.Status { return r.Status }

// decodeRequest reads a license request body. On failure it writes an
// INVALID_REQUEST response and returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, op license.Operation, v interface{}) bool {
	if err := readJSON(r, v); err != nil {
		msg := "invalid JSON body: " + err.Error()
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = "request body too large"
		}
		writeResult(w, op, invalidRequest{Status: license.StatusInvalidRequest, Message: msg})
		return false
	}
	return true
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure. Unknown fields are rejected.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// classifyDBError maps config store errors to appropriate HTTP status codes.
// Returns (httpStatus, cleanMessage).
func classifyDBError(err error, fallbackMsg string) (int, string) {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "unique constraint"):
		return http.StatusConflict, fallbackMsg + ": already exists"
	case strings.Contains(lower, "foreign key"):
		return http.StatusBadRequest, fallbackMsg + ": referenced record does not exist"
	default:
		return http.StatusInternalServerError, fallbackMsg + ": " + msg
	}
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
