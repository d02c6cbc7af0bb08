// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package security holds the cryptographic building blocks for license keys:
// PBKDF2 hashing for stored keys, AES-GCM envelopes for provenance data and
// HMAC signatures binding a key to its metadata.
package security

// Suite bundles the keyed primitives derived from one master secret.
type Suite struct {
	*Cipher
	*Signer
}

// NewSuite builds the cipher and signer. It fails with ErrConfiguration when
// the secret is absent; there is no fallback key.
func NewSuite(masterSecret string) (*Suite, error) {
	c, err := NewCipher(masterSecret)
	if err != nil {
		return nil, err
	}
	s, err := NewSigner(masterSecret)
	if err != nil {
		return nil, err
	}
	return &Suite{Cipher: c, Signer: s}, nil
}
