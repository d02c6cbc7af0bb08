// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SecureToken returns length bytes from crypto/rand, hex encoded.
func SecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid token length %d", length)
	}

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
