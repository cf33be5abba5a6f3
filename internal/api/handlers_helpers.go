// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/safevision/internal/apperr"
	"github.com/tomtom215/safevision/internal/arming"
	"github.com/tomtom215/safevision/internal/history"
	"github.com/tomtom215/safevision/internal/logging"
	"github.com/tomtom215/safevision/internal/models"
	"github.com/tomtom215/safevision/internal/session"
	"github.com/tomtom215/safevision/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 * 1024

// sanitizeLogValue removes control characters from strings to prevent log injection.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", generateETag(data))

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondData wraps data in a success envelope.
func respondData(w http.ResponseWriter, status int, data interface{}, start time.Time) {
	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// generateETag creates a simple ETag from data using FNV-1a hash
func generateETag(data []byte) string {
	hash := uint32(2166136261)
	for _, b := range data {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return strconv.FormatUint(uint64(hash), 16)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	respondAPIError(w, status, &models.APIError{Code: code, Message: message}, err)
}

func respondAPIError(w http.ResponseWriter, status int, apiErr *models.APIError, err error) {
	if err != nil {
		logging.Error().Str("code", sanitizeLogValue(apiErr.Code)).Str("error", sanitizeLogValue(err.Error())).Msg("API Error")
	}

	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now()},
		Error:    apiErr,
	})
}

// respondFailure maps a core error to a status and code.
func respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	log := logging.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Str("code", code).Str("error", sanitizeLogValue(err.Error())).Str("path", r.URL.Path).Msg("request failed")
	} else {
		log.Debug().Str("code", code).Str("error", sanitizeLogValue(err.Error())).Str("path", r.URL.Path).Msg("request rejected")
	}
	respondAPIError(w, status, &models.APIError{Code: code, Message: message}, nil)
}

func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized, apperr.AuthExpired.String(), apperr.DefaultMessage(apperr.AuthExpired)
	case errors.Is(err, session.ErrLoggingOut):
		return http.StatusConflict, "LOGGING_OUT", "Logout in progress"
	case errors.Is(err, arming.ErrBusy):
		return http.StatusConflict, "BUSY", "Another arming operation is in progress"
	case errors.Is(err, arming.ErrNotArmed):
		return http.StatusConflict, "NOT_ARMED", "The device is not armed"
	case errors.Is(err, history.ErrDisposed):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "History is shutting down"
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Kind.HTTPStatus(), e.Kind.String(), e.UserMessage()
	}
	return http.StatusInternalServerError, apperr.Unknown.String(), apperr.UserMessage(err)
}

// decodeJSON reads a bounded JSON body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON", nil)
		return false
	}
	if apiErr := validateRequest(v); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr, nil)
		return false
	}
	return true
}

// validateRequest validates a struct using go-playground/validator.
func validateRequest(v interface{}) *models.APIError {
	validationErr := validation.ValidateStruct(v)
	if validationErr == nil {
		return nil
	}
	return validationErr.ToAPIError()
}

// getIntParam extracts an integer query parameter with a default value
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}
