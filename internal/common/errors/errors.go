// Package errors classifies broker failures. Every layer returns *AppError
// so handlers and the CLI can map a failure to a status without string
// matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrTypeConnection ErrorType = "connection"
	ErrTypeValidation ErrorType = "validation"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeAuth       ErrorType = "authentication"
	// ErrTypeNotFound covers absent, disabled and already consumed records alike.
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal is a store or infrastructure failure; the caller may retry.
	ErrTypeInternal ErrorType = "internal"
	ErrTypeTimeout  ErrorType = "timeout"

	ErrTypeOwnershipMismatch  ErrorType = "ownership_mismatch"
	ErrTypeExchangeFailed     ErrorType = "exchange_failed"
	ErrTypeVerificationFailed ErrorType = "verification_failed"
	// ErrTypeInvalidated means the refresh token is gone and the owner must re-authenticate.
	ErrTypeInvalidated ErrorType = "invalidated"
	// ErrTypeRefreshRejected means a refresh just failed and invalidated the credential.
	ErrTypeRefreshRejected ErrorType = "refresh_rejected"
)

// statusByType is the HTTP status each type is reported with. Unlisted
// types, and errors that are not AppErrors, are 500.
var statusByType = map[ErrorType]int{
	ErrTypeValidation:         http.StatusBadRequest,
	ErrTypeAuth:               http.StatusUnauthorized,
	ErrTypeOwnershipMismatch:  http.StatusForbidden,
	ErrTypeNotFound:           http.StatusNotFound,
	ErrTypeInvalidated:        http.StatusConflict,
	ErrTypeRefreshRejected:    http.StatusConflict,
	ErrTypeExchangeFailed:     http.StatusBadGateway,
	ErrTypeVerificationFailed: http.StatusBadGateway,
	ErrTypeConnection:         http.StatusServiceUnavailable,
	ErrTypeTimeout:            http.StatusGatewayTimeout,
}

type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	// CredentialID names the credential an invalidation concerns, 0 otherwise.
	CredentialID int64 `json:"credential_id,omitempty"`
	Cause        error `json:"-"`
}

func newError(t ErrorType, cause error, format string, args ...interface{}) *AppError {
	return &AppError{Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error renders "type: message [code]: cause".
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode attaches a machine-readable detail and returns e.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func ConnectionError(msg string, cause error) *AppError {
	return newError(ErrTypeConnection, cause, "%s", msg)
}

func ValidationError(msg string) *AppError {
	return newError(ErrTypeValidation, nil, "%s", msg)
}

func ConfigError(msg string) *AppError {
	return newError(ErrTypeConfig, nil, "%s", msg)
}

func AuthError(msg string) *AppError {
	return newError(ErrTypeAuth, nil, "%s", msg)
}

func NotFoundError(resource string) *AppError {
	return newError(ErrTypeNotFound, nil, "%s not found", resource)
}

func InternalError(msg string, cause error) *AppError {
	return newError(ErrTypeInternal, cause, "%s", msg)
}

func TimeoutError(operation string) *AppError {
	return newError(ErrTypeTimeout, nil, "timeout during %s", operation)
}

func OwnershipMismatchError(msg string) *AppError {
	return newError(ErrTypeOwnershipMismatch, nil, "%s", msg)
}

func ExchangeFailedError(cause error) *AppError {
	return newError(ErrTypeExchangeFailed, cause, "authorization code exchange failed")
}

func VerificationFailedError(cause error) *AppError {
	return newError(ErrTypeVerificationFailed, cause, "identity verification failed")
}

func InvalidatedError(credentialID int64) *AppError {
	e := newError(ErrTypeInvalidated, nil, "credential %d has no valid refresh token", credentialID)
	e.CredentialID = credentialID
	return e
}

func RefreshRejectedError(credentialID int64, cause error) *AppError {
	e := newError(ErrTypeRefreshRejected, cause, "failed to refresh credential %d", credentialID)
	e.CredentialID = credentialID
	return e
}

// As returns the outermost AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if err == nil || !stderrors.As(err, &appErr) {
		return nil, false
	}
	return appErr, true
}

func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errType
}

// GetType is "" for nil and ErrTypeInternal for errors that are not AppErrors.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Type
	}
	return ErrTypeInternal
}

// HTTPStatus maps an error to the status handlers report; nil is 200.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if status, ok := statusByType[GetType(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
