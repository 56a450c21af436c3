package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{"plain", NotFoundError("credential 7"), "not_found: credential 7 not found"},
		{"with code", InvalidatedError(7).WithCode("REAUTH"), "invalidated: credential 7 has no valid refresh token [REAUTH]"},
		{"with cause", ExchangeFailedError(errors.New("invalid_grant")), "exchange_failed: authorization code exchange failed: invalid_grant"},
		{"literal percent", ValidationError("scope 100% invalid"), "validation: scope 100% invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDomainConstructors(t *testing.T) {
	cause := errors.New("provider said no")

	tests := []struct {
		name       string
		err        *AppError
		wantType   ErrorType
		wantMsg    string
		wantCause  error
		credential int64
	}{
		{"ownership mismatch", OwnershipMismatchError("credential 3 belongs to another principal"), ErrTypeOwnershipMismatch, "credential 3 belongs to another principal", nil, 0},
		{"exchange failed", ExchangeFailedError(cause), ErrTypeExchangeFailed, "authorization code exchange failed", cause, 0},
		{"verification failed", VerificationFailedError(cause), ErrTypeVerificationFailed, "identity verification failed", cause, 0},
		{"invalidated", InvalidatedError(9), ErrTypeInvalidated, "credential 9 has no valid refresh token", nil, 9},
		{"refresh rejected", RefreshRejectedError(9, cause), ErrTypeRefreshRejected, "failed to refresh credential 9", cause, 9},
		{"not found", NotFoundError("credential 5"), ErrTypeNotFound, "credential 5 not found", nil, 0},
		{"timeout", TimeoutError("token refresh"), ErrTypeTimeout, "timeout during token refresh", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", tt.err.Type, tt.wantType)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %v, want %v", tt.err.Message, tt.wantMsg)
			}
			if tt.err.Cause != tt.wantCause {
				t.Errorf("Cause = %v, want %v", tt.err.Cause, tt.wantCause)
			}
			if tt.err.CredentialID != tt.credential {
				t.Errorf("CredentialID = %d, want %d", tt.err.CredentialID, tt.credential)
			}
		})
	}
}

func TestIsTypeAndGetType(t *testing.T) {
	wrapped := fmt.Errorf("refresh: %w", RefreshRejectedError(1, nil))

	if !IsType(wrapped, ErrTypeRefreshRejected) {
		t.Error("IsType should see through fmt wrapping")
	}
	if IsType(InvalidatedError(1), ErrTypeRefreshRejected) {
		t.Error("IsType matched the wrong type")
	}
	if IsType(nil, ErrTypeNotFound) || IsType(errors.New("plain"), ErrTypeNotFound) {
		t.Error("IsType matched a non-AppError")
	}

	if got := GetType(wrapped); got != ErrTypeRefreshRejected {
		t.Errorf("GetType(wrapped) = %v", got)
	}
	if got := GetType(errors.New("plain")); got != ErrTypeInternal {
		t.Errorf("GetType(plain) = %v, want internal", got)
	}
	if got := GetType(nil); got != "" {
		t.Errorf("GetType(nil) = %q, want empty", got)
	}

	appErr, ok := As(wrapped)
	if !ok || appErr.CredentialID != 1 {
		t.Errorf("As(wrapped) = %v, %v", appErr, ok)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ValidationError("scopes required"), http.StatusBadRequest},
		{AuthError("missing bearer token"), http.StatusUnauthorized},
		{NotFoundError("credential 1"), http.StatusNotFound},
		{OwnershipMismatchError("nope"), http.StatusForbidden},
		{InvalidatedError(1), http.StatusConflict},
		{RefreshRejectedError(1, nil), http.StatusConflict},
		{ExchangeFailedError(nil), http.StatusBadGateway},
		{VerificationFailedError(nil), http.StatusBadGateway},
		{TimeoutError("exchange"), http.StatusGatewayTimeout},
		{ConnectionError("redis down", nil), http.StatusServiceUnavailable},
		{InternalError("store", nil), http.StatusInternalServerError},
		{ConfigError("bad"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestErrorChaining(t *testing.T) {
	original := errors.New("connection reset")
	wrapped := InternalError("failed to update credential", original)

	if !errors.Is(wrapped, original) {
		t.Error("errors.Is should reach the cause")
	}
	var appErr *AppError
	if !errors.As(wrapped, &appErr) || appErr.Type != ErrTypeInternal {
		t.Errorf("errors.As = %v", appErr)
	}
}
