package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-logic-sync/internal/protocol"
)

// Error is the body of every non-2xx response except command results,
// which keep the command_result shape on failure.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes. Authentication failures always use ErrCodeUnauthorized with
// the same message so callers cannot tell the causes apart.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
)

// commandStatus maps a rejected command's reason to its HTTP status.
var commandStatus = map[protocol.Reason]int{
	protocol.ReasonUnauthorized:  http.StatusUnauthorized,
	protocol.ReasonNotExposed:    http.StatusForbidden,
	protocol.ReasonReadOnly:      http.StatusForbidden,
	protocol.ReasonInvalidChange: http.StatusBadRequest,
	protocol.ReasonTimeout:       http.StatusGatewayTimeout,
}

// statusForResult returns 200 for a successful command, the mapped status
// for a known rejection and 502 for host failures.
func statusForResult(result protocol.CommandResult) int {
	if result.Success {
		return http.StatusOK
	}
	if status, ok := commandStatus[result.Reason]; ok {
		return status
	}
	return http.StatusBadGateway
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // peer may have gone away
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
