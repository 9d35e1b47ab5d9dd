package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/scoring"
	"leadscore-engine/internal/training"
)

// Envelope is the uniform response shape. Every endpoint returns it,
// success and failure alike.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError carries a machine-readable code alongside the message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable error codes.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeModelUnavailable = "MODEL_UNAVAILABLE"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeInternal         = "INTERNAL_ERROR"
)

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(Envelope{
		Success:   false,
		Error:     &APIError{Code: code, Message: err.Error()},
		Timestamp: time.Now(),
	}); encErr != nil {
		log.Error().Err(encErr).Msg("failed to encode error response")
	}
}

// classify maps an error to its HTTP status and wire code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, scoring.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, scoring.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, scoring.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, scoring.ErrModelUnavailable):
		return http.StatusServiceUnavailable, CodeModelUnavailable
	case errors.Is(err, training.ErrInsufficientData):
		return http.StatusUnprocessableEntity, CodeInsufficientData
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
