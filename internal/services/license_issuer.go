// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/licensekey"
	"github.com/clipbrd/clipbrd/internal/models"
	"github.com/clipbrd/clipbrd/internal/security"
)

// IssuedLicense carries the plaintext key next to the stored row. Key is
// only populated by Issue and Repair.
type IssuedLicense struct {
	License *models.License
	Key     string
	// Existing is true when Issue returned a license that was already active.
	Existing bool
}

// provenance is the JSON sealed into a license's envelope.
type provenance struct {
	UserID         string    `json:"userId"`
	SubscriptionID string    `json:"subscriptionId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// LicenseIssuer mints licenses and rewrites their cryptographic fields.
type LicenseIssuer struct {
	store LicenseStore
	suite *security.Suite
	keys  *licensekey.Generator
	locks *keyedMutex
	now   func() time.Time
	hash  func(string) (string, error)
	newID func() string
}

func NewLicenseIssuer(store LicenseStore, suite *security.Suite) *LicenseIssuer {
	return &LicenseIssuer{
		store: store,
		suite: suite,
		keys:  licensekey.NewGenerator(),
		locks: newKeyedMutex(),
		now:   time.Now,
		hash:  security.Hash,
		newID: uuid.NewString,
	}
}

// Issue returns the active license for the pair, creating one if none exists.
func (s *LicenseIssuer) Issue(ctx context.Context, userID, subscriptionID string, expiresAt *time.Time) (*IssuedLicense, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.Wrap(ErrInvalidInput, "user id and subscription id are required")
	}

	unlock := s.locks.Lock(userID + "\x00" + subscriptionID)
	defer unlock()

	existing, err := s.store.FindActiveByUserAndSubscription(ctx, userID, subscriptionID)
	switch {
	case err == nil:
		log.Debug().
			Str("licenseId", existing.ID).
			Str("userId", userID).
			Str("subscriptionId", subscriptionID).
			Msg("Active license already exists, returning it")
		return &IssuedLicense{License: existing, Key: existing.DisplayKey, Existing: true}, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, errors.Wrap(err, "failed to look up active license")
	}

	key, fields, err := s.mint(userID, subscriptionID, expiresAt)
	if err != nil {
		return nil, err
	}

	license := &models.License{
		ID:             s.newID(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Status:         models.LicenseStatusActive,
	}
	fields.applyTo(license)

	stored, err := s.store.Insert(ctx, license)
	if errors.Is(err, models.ErrConstraintViolation) {
		// Another process won the race for this pair.
		winner, findErr := s.store.FindActiveByUserAndSubscription(ctx, userID, subscriptionID)
		if findErr != nil {
			return nil, errors.Wrap(err, "failed to insert license")
		}
		return &IssuedLicense{License: winner, Key: winner.DisplayKey, Existing: true}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert license")
	}

	log.Info().
		Str("licenseId", stored.ID).
		Str("userId", userID).
		Str("subscriptionId", subscriptionID).
		Str("licenseKey", maskLicenseKey(key)).
		Msg("License issued")

	return &IssuedLicense{License: stored, Key: key}, nil
}

// Repair regenerates every cryptographic field of an existing row in place.
// It is the self-heal path for malformed rows, not a way to issue.
func (s *LicenseIssuer) Repair(ctx context.Context, license *models.License, userID, subscriptionID string, expiresAt *time.Time) (*IssuedLicense, error) {
	if license == nil || license.ID == "" {
		return nil, errors.Wrap(ErrInvalidInput, "license to repair is required")
	}

	key, fields, err := s.mint(userID, subscriptionID, expiresAt)
	if err != nil {
		return nil, err
	}

	update := fields.update()
	if fields.ExpiresAt == nil {
		update.ClearExpiry = true
	}

	repaired, err := s.store.UpdateFields(ctx, license.ID, update)
	if err != nil {
		return nil, errors.Wrap(err, "failed to repair license")
	}

	log.Warn().
		Str("licenseId", license.ID).
		Str("userId", userID).
		Str("subscriptionId", subscriptionID).
		Msg("Repaired malformed license")

	return &IssuedLicense{License: repaired, Key: key}, nil
}

// UpdateExpiry moves a license's expiry and re-signs it with the stored
// display key. Rows without a display key cannot be re-signed and report
// ErrMalformedLicense.
func (s *LicenseIssuer) UpdateExpiry(ctx context.Context, license *models.License, expiresAt *time.Time) (*models.License, error) {
	if license.DisplayKey == "" {
		return nil, errors.Wrapf(ErrMalformedLicense, "license %s has no display key", license.ID)
	}

	expiresAt = normalizeExpiry(expiresAt)
	signature := s.suite.Sign(security.SignedFields{
		Key:            license.DisplayKey,
		UserID:         license.UserID,
		SubscriptionID: license.SubscriptionID,
		ExpiresAt:      expiresAt,
	})

	update := models.LicenseUpdate{Signature: &signature, ExpiresAt: expiresAt}
	if expiresAt == nil {
		update.ClearExpiry = true
	}

	updated, err := s.store.UpdateFields(ctx, license.ID, update)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update license expiry")
	}
	return updated, nil
}

// mintedFields is everything steps one to four of issuance produce.
type mintedFields struct {
	Hash          string
	DisplayKey    string
	LookupHint    string
	EncryptedData string
	IV            string
	AuthTag       string
	Signature     string
	ExpiresAt     *time.Time
}

func (f *mintedFields) applyTo(license *models.License) {
	license.Key = f.Hash
	license.DisplayKey = f.DisplayKey
	license.LookupHint = f.LookupHint
	license.EncryptedData = f.EncryptedData
	license.IV = f.IV
	license.AuthTag = f.AuthTag
	license.Signature = f.Signature
	license.ExpiresAt = f.ExpiresAt
}

func (f *mintedFields) update() models.LicenseUpdate {
	return models.LicenseUpdate{
		Key:           &f.Hash,
		DisplayKey:    &f.DisplayKey,
		LookupHint:    &f.LookupHint,
		EncryptedData: &f.EncryptedData,
		IV:            &f.IV,
		AuthTag:       &f.AuthTag,
		Signature:     &f.Signature,
		ExpiresAt:     f.ExpiresAt,
	}
}

func (s *LicenseIssuer) mint(userID, subscriptionID string, expiresAt *time.Time) (string, *mintedFields, error) {
	key, err := s.keys.Generate()
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to generate license key")
	}

	hash, err := s.hash(key)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to hash license key")
	}

	payload, err := json.Marshal(provenance{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to encode license envelope")
	}

	envelope, err := s.suite.Encrypt(payload)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to encrypt license envelope")
	}

	expiresAt = normalizeExpiry(expiresAt)
	signature := s.suite.Sign(security.SignedFields{
		Key:            key,
		UserID:         userID,
		SubscriptionID: subscriptionID,
		ExpiresAt:      expiresAt,
	})

	return key, &mintedFields{
		Hash:          hash,
		DisplayKey:    key,
		LookupHint:    s.suite.LookupDigest(key),
		EncryptedData: envelope.Ciphertext,
		IV:            envelope.IV,
		AuthTag:       envelope.AuthTag,
		Signature:     signature,
		ExpiresAt:     expiresAt,
	}, nil
}

// normalizeExpiry truncates to whole seconds in UTC, the precision the
// signature covers.
func normalizeExpiry(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	n := t.UTC().Truncate(time.Second)
	return &n
}

// Helper function to mask license keys in logs
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}
