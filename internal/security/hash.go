// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package security

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// HashParams controls the PBKDF2 derivation used for stored license keys.
type HashParams struct {
	Iterations int
	SaltLength int
	KeyLength  int
}

// DefaultHashParams returns the parameters every stored key is hashed with.
func DefaultHashParams() HashParams {
	return HashParams{
		Iterations: 100000,
		SaltLength: 64,
		KeyLength:  32,
	}
}

// Hash derives a salted PBKDF2-SHA512 digest of plaintext.
// Format: <salt hex>:<hash hex>
func Hash(plaintext string) (string, error) {
	params := DefaultHashParams()

	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := pbkdf2.Key([]byte(plaintext), salt, params.Iterations, params.KeyLength, sha512.New)

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash), nil
}

// VerifyHash reports whether plaintext matches a record produced by Hash.
// Malformed records never match.
func VerifyHash(plaintext, record string) bool {
	salt, hash, err := decodeHashRecord(record)
	if err != nil {
		return false
	}

	params := DefaultHashParams()
	other := pbkdf2.Key([]byte(plaintext), salt, params.Iterations, len(hash), sha512.New)

	return subtle.ConstantTimeCompare(hash, other) == 1
}

// IsHashRecord reports whether record has the shape Hash produces.
func IsHashRecord(record string) bool {
	_, _, err := decodeHashRecord(record)
	return err == nil
}

func decodeHashRecord(record string) ([]byte, []byte, error) {
	saltHex, hashHex, ok := strings.Cut(record, ":")
	if !ok {
		return nil, nil, fmt.Errorf("invalid hash format")
	}

	params := DefaultHashParams()

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	if len(salt) != params.SaltLength {
		return nil, nil, fmt.Errorf("unexpected salt length %d", len(salt))
	}

	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode hash: %w", err)
	}
	if len(hash) != params.KeyLength {
		return nil, nil, fmt.Errorf("unexpected hash length %d", len(hash))
	}

	return salt, hash, nil
}
