// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package security

import "errors"

var (
	// ErrConfiguration is returned when the master secret is missing or unusable.
	// It is fatal: the server must not start without a key.
	ErrConfiguration = errors.New("security: master secret not configured")

	// ErrIntegrity means ciphertext, IV or auth tag failed authentication.
	// Callers treat it as tampered data.
	ErrIntegrity = errors.New("security: integrity check failed")
)
