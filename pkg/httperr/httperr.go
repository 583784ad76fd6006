package httperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error is a request-terminating failure carrying the HTTP status and the
// short message surfaced to the caller. Details, when set, are included in
// the error envelope.
type Error struct {
	Status  int
	Message string
	Details any
}

func (e *Error) Error() string {
	return e.Message
}

// New creates an Error with the given status and message.
func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// WithDetails returns a copy of the error carrying caller-visible details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Status: e.Status, Message: e.Message, Details: details}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

func TooManyRequests(message string) *Error {
	return New(http.StatusTooManyRequests, message)
}

func Internal(message string) *Error {
	return New(http.StatusInternalServerError, message)
}

type errorBody struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type envelope struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Write renders err as the single JSON error envelope. Non-Error values map
// to a generic 500 so internal details never leak to the caller.
func Write(w http.ResponseWriter, err error) {
	var he *Error
	if !errors.As(err, &he) {
		he = Internal("Internal server error")
	}
	WriteJSON(w, he.Status, envelope{OK: false, Error: errorBody{Message: he.Message, Details: he.Details}})
}
