// Package httputil provides common HTTP utilities for service handlers.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/HZeroxium/fleet-control/infrastructure/errors"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
)

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

// WriteError maps an error through the taxonomy to an HTTP response, adding
// Retry-After when the error carries a hint.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperrors.Internal("internal server error", err)
	}
	if svcErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(svcErr.RetryAfter))
	}
	resp := ErrorResponse{
		Code:    string(svcErr.Code),
		Message: svcErr.Message,
		Details: svcErr.Details,
	}
	if r != nil {
		resp.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, svcErr.HTTPStatus, resp)
}

// DecodeJSON decodes the request body into dst, writing a 400 on failure.
// Returns false when decoding failed and a response was already written.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		WriteError(w, r, apperrors.InvalidFormat("body", "json"))
		return false
	}
	return true
}
