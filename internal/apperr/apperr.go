// Package apperr defines the API error taxonomy and its JSON envelope:
//
//	{"error": {"code": "...", "message": "...", "details": ...}}
package apperr

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Error codes surfaced to clients.
const (
	CodeInvalidInput           = "INVALID_INPUT"
	CodeNotFound               = "NOT_FOUND"
	CodeBalanceNotFound        = "BALANCE_NOT_FOUND"
	CodeMarketPriceNotFound    = "MARKET_PRICE_NOT_FOUND"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeNotImplemented         = "NOT_IMPLEMENTED"
	CodeIdempotencyKeyRequired = "IDEMPOTENCY_KEY_REQUIRED"
	CodeIdempotencyKeyReused   = "IDEMPOTENCY_KEY_REUSED"
	CodeIdempotencyInProgress  = "IDEMPOTENCY_IN_PROGRESS"
	CodeInvalidStatus          = "INVALID_STATUS"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeEmailTaken             = "EMAIL_TAKEN"
	CodeInternal               = "INTERNAL_ERROR"
)

// Error is an error that maps to an HTTP status and a stable code.
type Error struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, apperr.NotFound("")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New builds an error with an explicit status.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

func InvalidInput(message string) *Error {
	return New(http.StatusBadRequest, CodeInvalidInput, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func NotImplemented(message string) *Error {
	return New(http.StatusNotImplemented, CodeNotImplemented, message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, CodeForbidden, message)
}

// Internal is the only error body ever sent for unexpected failures.
var Internal = New(http.StatusInternalServerError, CodeInternal, "internal server error")

// From classifies err. Anything that is not an *Error collapses to Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal
}

type envelope struct {
	Error body `json:"error"`
}

type body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Body returns the JSON envelope for e.
func Body(e *Error) []byte {
	data, _ := json.Marshal(envelope{Error: body{Code: e.Code, Message: e.Message, Details: e.Details}})
	return data
}

// Write sends err as a JSON error envelope. Unclassified errors are logged
// and sent as INTERNAL_ERROR without their text.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	e := From(err)
	if e == Internal {
		slog.Error("internal error", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	WriteRaw(w, e.Status, Body(e))
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode response", "err", err)
		WriteRaw(w, Internal.Status, Body(Internal))
		return
	}
	WriteRaw(w, status, data)
}

// WriteRaw writes an already-encoded JSON body.
func WriteRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
