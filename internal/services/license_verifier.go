// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/licensekey"
	"github.com/clipbrd/clipbrd/internal/models"
	"github.com/clipbrd/clipbrd/internal/security"
)

// Outcome is the stage at which verification settled.
type Outcome string

const (
	OutcomeNotFound Outcome = "not_found"
	OutcomeExpired  Outcome = "expired"
	OutcomeTampered Outcome = "tampered"
	OutcomeValid    Outcome = "valid"
)

const (
	MessageInvalidKey       = "Invalid license key"
	MessageExpired          = "License has expired"
	MessageInvalidSignature = "License signature is invalid"
	MessageValid            = "License is valid"
)

type VerifyResult struct {
	IsValid   bool
	ExpiresAt *time.Time
	Message   string
	Outcome   Outcome
	// LicenseID and UserID are set once a stored license matched.
	LicenseID string
	UserID    string
}

type VerifierOptions struct {
	// GenericMessages reports every negative result as "Invalid license key".
	// Outcome still carries the real stage.
	GenericMessages bool
}

type LicenseVerifier struct {
	licenses LicenseStore
	usage    UsageStore
	suite    *security.Suite
	opts     VerifierOptions
	now      func() time.Time
}

func NewLicenseVerifier(licenses LicenseStore, usage UsageStore, suite *security.Suite, opts VerifierOptions) *LicenseVerifier {
	return &LicenseVerifier{
		licenses: licenses,
		usage:    usage,
		suite:    suite,
		opts:     opts,
		now:      time.Now,
	}
}

// Verify checks a presented key. Negative verdicts come back as a result
// with a nil error; an error means the check could not be completed and
// wraps ErrInternal or ErrInvalidInput.
func (s *LicenseVerifier) Verify(ctx context.Context, presentedKey string) (*VerifyResult, error) {
	presentedKey = strings.TrimSpace(presentedKey)
	if presentedKey == "" {
		return nil, errors.Wrap(ErrInvalidInput, "license key is required")
	}

	if !licensekey.LooksValid(presentedKey) {
		return s.negative(OutcomeNotFound, nil), nil
	}

	license, err := s.findMatching(ctx, presentedKey)
	if errors.Is(err, ErrNotFound) {
		return s.negative(OutcomeNotFound, nil), nil
	}
	if err != nil {
		log.Error().Err(err).Str("licenseKey", maskLicenseKey(presentedKey)).Msg("Failed to look up license")
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	now := s.now()
	if license.IsExpired(now) {
		return s.negative(OutcomeExpired, license), nil
	}

	plaintext, err := s.suite.Decrypt(license.EncryptedData, license.IV, license.AuthTag)
	if err != nil {
		log.Error().
			Err(err).
			Str("licenseId", license.ID).
			Str("userId", license.UserID).
			Msg("License envelope failed authentication")
		return s.negative(OutcomeTampered, license), nil
	}

	var envelope provenance
	if err := json.Unmarshal(plaintext, &envelope); err != nil {
		log.Error().Err(err).Str("licenseId", license.ID).Msg("License envelope is not valid json")
		return s.negative(OutcomeTampered, license), nil
	}

	signed := security.SignedFields{
		Key:            presentedKey,
		UserID:         envelope.UserID,
		SubscriptionID: license.SubscriptionID,
		ExpiresAt:      license.ExpiresAt,
	}
	if !s.suite.Verify(signed, license.Signature) {
		log.Error().
			Str("licenseId", license.ID).
			Str("userId", license.UserID).
			Msg("License signature mismatch")
		return s.negative(OutcomeTampered, license), nil
	}

	s.recordUsage(ctx, license, now)

	return &VerifyResult{
		IsValid:   true,
		ExpiresAt: license.ExpiresAt,
		Message:   MessageValid,
		Outcome:   OutcomeValid,
		LicenseID: license.ID,
		UserID:    license.UserID,
	}, nil
}

// findMatching looks up candidates by lookup digest and falls back to rows
// stored without one.
func (s *LicenseVerifier) findMatching(ctx context.Context, presentedKey string) (*models.License, error) {
	candidates, err := s.licenses.FindActiveByLookupHint(ctx, s.suite.LookupDigest(presentedKey))
	if err != nil {
		return nil, err
	}
	if license := matchHash(candidates, presentedKey); license != nil {
		return license, nil
	}

	legacy, err := s.licenses.FindActiveWithoutLookupHint(ctx)
	if err != nil {
		return nil, err
	}
	if license := matchHash(legacy, presentedKey); license != nil {
		return license, nil
	}

	return nil, ErrNotFound
}

func matchHash(candidates []*models.License, presentedKey string) *models.License {
	for _, license := range candidates {
		if IsMalformed(license) {
			continue
		}
		if security.VerifyHash(presentedKey, license.Key) {
			return license
		}
	}
	return nil
}

func (s *LicenseVerifier) recordUsage(ctx context.Context, license *models.License, at time.Time) {
	err := s.usage.Record(context.WithoutCancel(ctx), &models.LicenseUsage{
		ID:            uuid.NewString(),
		LicenseID:     license.ID,
		UserID:        license.UserID,
		Requests:      1,
		LastRequestAt: at,
		CreatedAt:     at,
	})
	if err != nil {
		log.Warn().Err(err).Str("licenseId", license.ID).Msg("Failed to record license usage")
	}
}

func (s *LicenseVerifier) negative(outcome Outcome, license *models.License) *VerifyResult {
	result := &VerifyResult{Outcome: outcome}

	switch outcome {
	case OutcomeExpired:
		result.Message = MessageExpired
	case OutcomeTampered:
		result.Message = MessageInvalidSignature
	default:
		result.Message = MessageInvalidKey
	}
	if s.opts.GenericMessages {
		result.Message = MessageInvalidKey
	}

	if license != nil {
		result.LicenseID = license.ID
		result.UserID = license.UserID
	}

	return result
}
