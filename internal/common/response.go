// Package common carries the small HTTP plumbing shared by every handler
// package: response envelopes, error codes, pagination and request helpers.
package common

import (
	"encoding/json"
	"net/http"
)

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the wire shape of every error the API returns. Code is a
// stable machine-readable identifier; Message is for humans.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON encodes v onto w with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError writes the canonical error envelope.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, errorEnvelope{Error: ErrorBody{Code: code, Message: message, Details: details}})
}
