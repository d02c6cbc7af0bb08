// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

const (
	signatureKeySalt = "clipbrd/license-signature/v1"
	lookupKeySalt    = "clipbrd/license-lookup/v1"
)

// SignedFields is the set of license fields bound together by a signature.
// Field order in the struct is the canonical serialization order.
type SignedFields struct {
	Key            string     `json:"key"`
	UserID         string     `json:"userId"`
	SubscriptionID string     `json:"subscriptionId"`
	ExpiresAt      *time.Time `json:"-"`
}

type canonicalFields struct {
	Key            string  `json:"key"`
	UserID         string  `json:"userId"`
	SubscriptionID string  `json:"subscriptionId"`
	ExpiresAt      *string `json:"expiresAt"`
}

// canonical serializes fields with expiry in UTC at second precision so the
// value survives a round trip through the store.
func (f SignedFields) canonical() []byte {
	c := canonicalFields{
		Key:            f.Key,
		UserID:         f.UserID,
		SubscriptionID: f.SubscriptionID,
	}
	if f.ExpiresAt != nil {
		s := f.ExpiresAt.UTC().Format(time.RFC3339)
		c.ExpiresAt = &s
	}

	// Marshal of a struct of strings cannot fail.
	b, _ := json.Marshal(c)
	return b
}

// Signer produces HMAC-SHA256 signatures over SignedFields.
type Signer struct {
	signKey   []byte
	lookupKey []byte
}

// NewSigner derives signing and lookup keys from the master secret.
func NewSigner(masterSecret string) (*Signer, error) {
	signKey, err := deriveKey(masterSecret, signatureKeySalt)
	if err != nil {
		return nil, err
	}
	lookupKey, err := deriveKey(masterSecret, lookupKeySalt)
	if err != nil {
		return nil, err
	}
	return &Signer{signKey: signKey, lookupKey: lookupKey}, nil
}

// Sign returns the hex HMAC of the canonical form of fields.
func (s *Signer) Sign(fields SignedFields) string {
	mac := hmac.New(sha256.New, s.signKey)
	mac.Write(fields.canonical())
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares in constant time.
func (s *Signer) Verify(fields SignedFields, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.signKey)
	mac.Write(fields.canonical())
	return hmac.Equal(mac.Sum(nil), got)
}

// LookupDigest is a deterministic keyed digest of a license key, stored as a
// non-secret index so verification does not have to hash-compare every row.
func (s *Signer) LookupDigest(value string) string {
	mac := hmac.New(sha256.New, s.lookupKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
