package serviceerr

import (
	"errors"
	"net/http"
)

// Code identifies a failure of the session lifecycle.
type Code string

const (
	CodeMissingArtifact       Code = "missing_artifact"
	CodeExchangeFailed        Code = "exchange_failed"
	CodeLogoutTransportFailed Code = "logout_transport_failed"
	CodeValidationFailed      Code = "validation_failed"
	CodeInvalidRequest        Code = "invalid_request"
	CodeInvalidCSRFToken      Code = "invalid_csrf_token"
	CodeInvalidState          Code = "invalid_state"
	CodeFingerprintMismatch   Code = "fingerprint_mismatch"
	CodeNotFound              Code = "not_found"
	CodeUnknown               Code = "unknown"
)

// Login error markers carried in the `error` query parameter of the login route.
const (
	LoginErrorNoCode     = "no_code"
	LoginErrorAuthFailed = "auth_failed"
)

type Error struct {
	Err         Code
	Description string
}

var (
	ErrMissingArtifact       = &Error{Err: CodeMissingArtifact, Description: "no authorization code or id token received"}
	ErrExchangeFailed        = &Error{Err: CodeExchangeFailed, Description: "authorization exchange failed"}
	ErrLogoutTransportFailed = &Error{Err: CodeLogoutTransportFailed, Description: "backend logout failed"}
	ErrValidationFailed      = &Error{Err: CodeValidationFailed, Description: "stored session could not be validated"}
	ErrInvalidRequest        = &Error{Err: CodeInvalidRequest}
	ErrInvalidCSRFToken      = &Error{Err: CodeInvalidCSRFToken, Description: "invalid csrf token"}
	ErrInvalidState          = &Error{Err: CodeInvalidState, Description: "unknown or expired state"}
	ErrFingerprintMismatch   = &Error{Err: CodeFingerprintMismatch, Description: "sign in was started by another browser"}
	ErrNotFound              = &Error{Err: CodeNotFound, Description: "not found"}
	ErrUnknown               = &Error{Err: CodeUnknown, Description: "unknown error"}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// Is reports a match on the error code, so wrapped copies with a different
// description still satisfy errors.Is against the predefined values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return e.Err == t.Err
}

// WithDescription returns a copy of the error carrying the given description.
func (e *Error) WithDescription(description string) *Error {
	return &Error{Err: e.Err, Description: description}
}

// LoginErrorParam returns the marker the login view uses to explain why the
// user was sent back to it.
func (e *Error) LoginErrorParam() string {
	if e.Err == CodeMissingArtifact {
		return LoginErrorNoCode
	}

	return LoginErrorAuthFailed
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeMissingArtifact, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeExchangeFailed, CodeValidationFailed:
		return http.StatusUnauthorized
	case CodeInvalidCSRFToken, CodeInvalidState, CodeFingerprintMismatch:
		return http.StatusForbidden
	case CodeLogoutTransportFailed:
		return http.StatusBadGateway
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// From extracts an *Error from err, falling back to ErrUnknown.
func From(err error) *Error {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr
	}

	return ErrUnknown
}
