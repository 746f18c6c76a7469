// Package httputil holds the JSON response envelope shared by every API
// handler.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// Response is the standard API envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Error is the envelope's error payload.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries list metadata.
type Meta struct {
	Total int `json:"total"`
}

// JSON writes data inside the envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// JSONWithMeta writes a list response with its metadata.
func JSONWithMeta(w http.ResponseWriter, status int, data any, meta *Meta) {
	write(w, status, Response{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// JSONError writes an error response.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	write(w, status, Response{
		Success: false,
		Error:   &Error{Code: code, Message: message},
	})
}

// ErrorFromDomain maps a domain error to its HTTP response: missing stored
// objects become 404, step contract violations 400, everything else 500.
func ErrorFromDomain(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case domain.KindOf(err) == domain.ErrKindInvalidStep:
		JSONError(w, http.StatusBadRequest, "INVALID_STEP", domain.FailureReason(err))
	default:
		JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
