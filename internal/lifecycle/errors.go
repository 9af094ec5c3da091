// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"errors"

	"github.com/mase1981/uc-intg-emby/internal/emby"
)

var (
	// ErrNotConfigured is returned when initialization runs without usable settings.
	ErrNotConfigured = errors.New("lifecycle: integration not configured")
	// ErrConnectionFailed wraps a failed connection test.
	ErrConnectionFailed = errors.New("lifecycle: connection test failed")
)

// classifySetupError maps a connection test error to a setup result.
func classifySetupError(err error) SetupResult {
	switch {
	case err == nil:
		return SetupComplete
	case errors.Is(err, ErrNotConfigured):
		return SetupInvalidInput
	case errors.Is(err, emby.ErrUnauthorized):
		return SetupAuthorizationError
	default:
		return SetupConnectionRefused
	}
}
