package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for the support-chat taxonomy.
const (
	CodeValidation  = "VALIDATION_FAILED"
	CodeAuth        = "AUTH_REQUIRED"
	CodeForbidden   = "FORBIDDEN"
	CodeNotFound    = "NOT_FOUND"
	CodePersistence = "PERSISTENCE_FAILED"
	CodeTransport   = "TRANSPORT_FAILED"
	CodeInternal    = "INTERNAL_ERROR"
)

// DomainError standardizes application errors as kind + human-readable reason.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewValidationError flags input rejected before any network call.
func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

// NewAuthError flags a missing or unusable identity.
func NewAuthError(message string) error {
	return NewDomainError(CodeAuth, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

// NewPersistenceError wraps a failed insert/update/delete. Callers roll back
// the specific optimistic change and never retry automatically.
func NewPersistenceError(op string, err error) error {
	return &DomainError{
		Code:       CodePersistence,
		Message:    fmt.Sprintf("%s failed", op),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// NewTransportError wraps channel subscription/delivery failures.
func NewTransportError(message string, err error) error {
	return &DomainError{
		Code:       CodeTransport,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError converts generic errors to the DomainError envelope.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

// HasCode reports whether err carries the given taxonomy code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
