// Package http provides the JSON API over the ledger services.
//
// This file maps the error taxonomy onto status codes and writes the
// response envelopes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"papelflow/internal/core"
	"papelflow/internal/log"
)

type apiError struct {
	Status        string `json:"status"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Field         string `json:"field,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Stage         string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{Status: "error", Code: code, Message: message})
}

// statusFor maps a service error to its status code and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, core.ErrPartialFailure):
		return http.StatusInternalServerError, "PENDING_REPAIR"
	case errors.Is(err, core.ErrTransient):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeServiceError logs err at a level fitting its class and writes the
// mapped response. Unclassified errors never leak their message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code := statusFor(err)
	body := apiError{Status: "error", Code: code, Message: err.Error()}

	var ve *core.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	var pf *core.PartialFailure
	if errors.As(err, &pf) {
		body.TransactionID = pf.TransactionID
		body.Stage = pf.Stage
	}

	logger := log.FromContext(ctx)
	switch {
	case status >= 500:
		logger.ErrorContext(ctx, "Request failed",
			log.FieldOperation, operation,
			log.FieldError, err,
			log.FieldErrorKind, core.ErrorKind(err))
	default:
		logger.DebugContext(ctx, "Request rejected",
			log.FieldOperation, operation,
			log.FieldError, err,
			log.FieldErrorKind, core.ErrorKind(err))
	}
	if code == "INTERNAL_ERROR" {
		body.Message = "internal server error"
	}
	writeJSON(w, status, body)
}
