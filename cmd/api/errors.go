package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/PaulBabatuyi/fieldsync/internal/auth"
	"github.com/PaulBabatuyi/fieldsync/internal/data"
)

const maxBodyBytes = 1 << 20

// apiError is an error with an HTTP status and a client-facing message.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string { return fmt.Sprintf("%d: %s", e.Status, e.Message) }

func errBadRequest(format string, args ...any) error {
	return &apiError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func errUnprocessable(format string, args ...any) error {
	return &apiError{Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf(format, args...)}
}

func errUnauthorized(msg string) error {
	return &apiError{Status: http.StatusUnauthorized, Message: msg}
}

func errForbidden(msg string) error {
	return &apiError{Status: http.StatusForbidden, Message: msg}
}

func errNotFound(what string) error {
	return &apiError{Status: http.StatusNotFound, Message: what + " not found"}
}

// errorResponse is the JSON error body. detail repeats message for clients
// written against the previous API.
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: message,
		Detail:  message,
	})
}

// fail maps err onto the error taxonomy. Unknown errors are logged and
// reported as a bare 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		writeError(w, ae.Status, ae.Message)
	case errors.Is(err, data.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, data.ErrDuplicate):
		writeError(w, http.StatusBadRequest, "Email already registered")
	case errors.Is(err, auth.ErrSessionSuperseded):
		writeError(w, http.StatusUnauthorized, "Session expired. You have logged in on another device.")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Invalid authentication credentials")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Incorrect email or password")
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// apiHandler is a handler that reports failure by returning an error.
type apiHandler func(w http.ResponseWriter, r *http.Request) error

func (h apiHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		fail(w, r, err)
	}
}

// decodeJSON reads the request body into v. Malformed JSON is a 400; with
// strict set, a field outside v's schema is a 422.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errBadRequest("request body is empty")
		}
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return errUnprocessable("%s", strings.TrimPrefix(err.Error(), "json: "))
		}
		return errBadRequest("invalid request body: %v", err)
	}
	return nil
}

// named turns a store ErrNotFound into a 404 naming the resource.
func named(err error, what string) error {
	if errors.Is(err, data.ErrNotFound) {
		return errNotFound(what)
	}
	return err
}
