// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"github.com/pkg/errors"

	"github.com/clipbrd/clipbrd/internal/models"
	"github.com/clipbrd/clipbrd/internal/security"
)

var (
	ErrNotFound = errors.New("license not found")
	ErrExpired  = errors.New("license has expired")
	// ErrIntegrity is returned when an envelope or signature fails to
	// authenticate. Treat it as possible tampering.
	ErrIntegrity = security.ErrIntegrity
	// ErrMalformedLicense marks a row whose cryptographic fields cannot be
	// used. It triggers repair and is never shown to end callers.
	ErrMalformedLicense = errors.New("malformed license record")
	ErrInternal         = errors.New("internal error")
	ErrInvalidInput     = errors.New("invalid input")
	// ErrNoActiveSubscription and ErrAccountInactive refuse self-service
	// issuance.
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrAccountInactive      = errors.New("account is deactivated")
)

// IsRetryable reports whether err came from a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, models.ErrStoreUnavailable)
}
