// Package handler exposes the scheduling engine over JSON HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/timeline/internal/schederr"
	"github.com/dukerupert/timeline/internal/websocket"
)

const maxBodyBytes = 1 << 20

// Broadcaster pushes change notifications to one owner's clients.
type Broadcaster interface {
	Broadcast(ownerID string, msg websocket.Message)
}

type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Field   string   `json:"field,omitempty"`
	IDs     []string `json:"ids,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind schederr.Kind) int {
	switch kind {
	case schederr.KindNotFound:
		return http.StatusNotFound
	case schederr.KindForbidden:
		return http.StatusForbidden
	case schederr.KindValidation:
		return http.StatusBadRequest
	case schederr.KindCircularDependency, schederr.KindMaxNestingExceeded, schederr.KindNestingLevelExceeded:
		return http.StatusUnprocessableEntity
	case schederr.KindRecurrenceExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Scheduling errors keep their kind, field and ids;
// anything else is logged and reported as a bare internal error.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	e, ok := schederr.As(err)
	if !ok || statusFor(e.Kind) == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "internal", Message: "internal error"})
		return
	}
	writeJSON(w, statusFor(e.Kind), errorResponse{
		Code:    string(e.Kind),
		Message: e.Message,
		Field:   e.Field,
		IDs:     e.IDs,
	})
}

// decodeJSON reads a single JSON object into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return schederr.Validation("body", "request body is required")
		case errors.As(err, &maxErr):
			return schederr.Validation("body", "request body is too large")
		default:
			return schederr.Validation("body", fmt.Sprintf("invalid JSON: %v", err))
		}
	}
	if dec.More() {
		return schederr.Validation("body", "request body must hold a single JSON object")
	}
	return nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, schederr.Validation(name, name+" is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, schederr.Validation(name, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, schederr.Validation(name, name+" must be an integer")
	}
	return n, nil
}

func broadcast(b Broadcaster, ownerID, action, id string, extra map[string]any) {
	if b != nil {
		b.Broadcast(ownerID, websocket.NewMessage("ticket", action, id, extra))
	}
}
