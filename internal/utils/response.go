package utils

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeMissingToken = "missing_token"
	CodeInvalidToken = "invalid_token"
	CodeNotFound     = "not_found"
	CodeStoreError   = "store_error"
	CodeShuttingDown = "shutting_down"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes a JSON response with status code
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// JSONError writes an error message with no code.
func JSONError(w http.ResponseWriter, status int, message string) {
	JSONErrorCode(w, status, "", message)
}

// JSONErrorCode writes message along with a stable code clients can branch on.
func JSONErrorCode(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{Error: message, Code: code})
}
