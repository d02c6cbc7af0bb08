// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	minSecretLength = 32

	keyDerivationIterations = 100000
	envelopeKeySalt         = "clipbrd/license-envelope/v1"
)

// Envelope is an AES-256-GCM sealed payload. All fields are hex encoded.
type Envelope struct {
	IV         string
	Ciphertext string
	AuthTag    string
}

// Cipher seals and opens license provenance envelopes.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the envelope key from the master secret.
func NewCipher(masterSecret string) (*Cipher, error) {
	key, err := deriveKey(masterSecret, envelopeKeySalt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	return &Cipher{aead: gcm}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext []byte) (*Envelope, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - c.aead.Overhead()

	return &Envelope{
		IV:         hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(sealed[:tagStart]),
		AuthTag:    hex.EncodeToString(sealed[tagStart:]),
	}, nil
}

// Decrypt opens an envelope. Any decoding or authentication failure
// returns ErrIntegrity.
func (c *Cipher) Decrypt(ciphertextHex, ivHex, authTagHex string) ([]byte, error) {
	nonce, err := hex.DecodeString(ivHex)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return nil, ErrIntegrity
	}

	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, ErrIntegrity
	}

	tag, err := hex.DecodeString(authTagHex)
	if err != nil || len(tag) != c.aead.Overhead() {
		return nil, ErrIntegrity
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}

	return plaintext, nil
}

func deriveKey(masterSecret, salt string) ([]byte, error) {
	if len(masterSecret) < minSecretLength {
		return nil, ErrConfiguration
	}
	return pbkdf2.Key([]byte(masterSecret), []byte(salt), keyDerivationIterations, 32, sha256.New), nil
}
