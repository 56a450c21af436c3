package testutil

import "errors"

// Common test errors
var (
	ErrTestFailure     = errors.New("test failure")
	ErrStoreDown       = errors.New("store unavailable")
	ErrProviderRefused = errors.New("invalid_grant")
)
