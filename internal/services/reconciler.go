// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/licensekey"
	"github.com/clipbrd/clipbrd/internal/models"
	"github.com/clipbrd/clipbrd/internal/security"
)

type SubscriptionEventType string

const (
	SubscriptionCreated SubscriptionEventType = "created"
	SubscriptionUpdated SubscriptionEventType = "updated"
	SubscriptionDeleted SubscriptionEventType = "deleted"
)

// SubscriptionEvent is a billing update in transport-neutral form.
type SubscriptionEvent struct {
	Type              SubscriptionEventType `validate:"required,oneof=created updated deleted"`
	UserID            string                `validate:"required"`
	SubscriptionID    string                `validate:"required"`
	CustomerID        string
	Status            string `validate:"required_unless=Type deleted"`
	CurrentPeriodEnd  int64  `validate:"required_if=Status active,required_if=Status trialing,gte=0"`
	CancelAtPeriodEnd bool
}

// PeriodEnd converts CurrentPeriodEnd (epoch seconds) to a time, nil when unset.
func (e SubscriptionEvent) PeriodEnd() *time.Time {
	if e.CurrentPeriodEnd <= 0 {
		return nil
	}
	t := time.Unix(e.CurrentPeriodEnd, 0).UTC()
	return &t
}

var placeholderKeys = map[string]struct{}{
	"placeholder": {},
	"pending":     {},
	"null":        {},
}

// IsMalformed reports whether a license's cryptographic fields are unusable.
// Verification is never attempted against such a row; reconciliation
// repairs it instead.
func IsMalformed(license *models.License) bool {
	if license == nil {
		return true
	}

	key := strings.TrimSpace(license.Key)
	if key == "" || len(key) < licensekey.MinLength {
		return true
	}
	if _, ok := placeholderKeys[strings.ToLower(key)]; ok {
		return true
	}
	if !security.IsHashRecord(key) {
		return true
	}

	return license.EncryptedData == "" || license.IV == "" || license.AuthTag == "" || license.Signature == ""
}

// Reconciler keeps licenses in step with subscription state.
type Reconciler struct {
	licenses LicenseStore
	profiles ProfileStore
	issuer   *LicenseIssuer
	validate *validator.Validate
	now      func() time.Time
}

func NewReconciler(licenses LicenseStore, profiles ProfileStore, issuer *LicenseIssuer) *Reconciler {
	return &Reconciler{
		licenses: licenses,
		profiles: profiles,
		issuer:   issuer,
		validate: validator.New(),
		now:      time.Now,
	}
}

// HandleSubscriptionEvent records the snapshot on the profile and then
// applies the matching license transition.
func (r *Reconciler) HandleSubscriptionEvent(ctx context.Context, event SubscriptionEvent) error {
	if err := r.validate.Struct(event); err != nil {
		return errors.Wrap(ErrInvalidInput, err.Error())
	}

	logger := log.With().
		Str("event", string(event.Type)).
		Str("userId", event.UserID).
		Str("subscriptionId", event.SubscriptionID).
		Str("status", event.Status).
		Logger()

	if event.Type == SubscriptionDeleted {
		logger.Info().Msg("Subscription deleted")
		_, err := r.SubscriptionDeleted(ctx, event.UserID, event.SubscriptionID)
		return err
	}

	err := r.profiles.UpdateSubscription(ctx, event.UserID, models.SubscriptionSnapshot{
		CustomerID:        event.CustomerID,
		SubscriptionID:    event.SubscriptionID,
		Status:            event.Status,
		CurrentPeriodEnd:  event.PeriodEnd(),
		CancelAtPeriodEnd: event.CancelAtPeriodEnd,
	})
	if err != nil {
		return errors.Wrap(err, "failed to update subscription snapshot")
	}

	switch {
	case isActiveStatus(event.Status):
		logger.Info().Msg("Subscription active, reconciling license")
		_, err := r.SubscriptionActivated(ctx, event.UserID, event.SubscriptionID, event.PeriodEnd())
		return err
	case event.Status == "canceled" || event.Status == "unpaid":
		logger.Info().Msg("Subscription ended, revoking licenses")
		_, err := r.SubscriptionCanceledOrUnpaid(ctx, event.SubscriptionID)
		return err
	default:
		logger.Debug().Msg("Subscription status needs no license change")
		return nil
	}
}

// SubscriptionActivated makes sure the pair has one usable active license
// expiring on endDate's calendar day. An active subscription always has a
// period end, so a nil endDate is rejected rather than read as "never".
func (r *Reconciler) SubscriptionActivated(ctx context.Context, userID, subscriptionID string, endDate *time.Time) (*models.License, error) {
	if endDate == nil {
		return nil, errors.Wrap(ErrInvalidInput, "subscription period end is required")
	}

	existing, err := r.licenses.FindActiveByUserAndSubscription(ctx, userID, subscriptionID)
	if errors.Is(err, models.ErrNotFound) {
		issued, err := r.issuer.Issue(ctx, userID, subscriptionID, endDate)
		if err != nil {
			return nil, err
		}
		return issued.License, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up active license")
	}

	if IsMalformed(existing) {
		repaired, err := r.issuer.Repair(ctx, existing, userID, subscriptionID, endDate)
		if err != nil {
			return nil, err
		}
		return repaired.License, nil
	}

	if SameCalendarDate(existing.ExpiresAt, endDate) {
		return existing, nil
	}

	updated, err := r.issuer.UpdateExpiry(ctx, existing, endDate)
	if errors.Is(err, ErrMalformedLicense) {
		repaired, err := r.issuer.Repair(ctx, existing, userID, subscriptionID, endDate)
		if err != nil {
			return nil, err
		}
		return repaired.License, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("licenseId", updated.ID).
		Str("subscriptionId", subscriptionID).
		Time("expiresAt", derefTime(updated.ExpiresAt)).
		Msg("License expiry updated")

	return updated, nil
}

// SubscriptionCanceledOrUnpaid revokes every active license of the
// subscription and returns how many were revoked.
func (r *Reconciler) SubscriptionCanceledOrUnpaid(ctx context.Context, subscriptionID string) (int, error) {
	active, err := r.licenses.ListActiveBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list active licenses")
	}
	return r.revokeAll(ctx, active)
}

// SubscriptionDeleted revokes like a cancellation and clears the profile's
// subscription snapshot if it still points at subscriptionID.
func (r *Reconciler) SubscriptionDeleted(ctx context.Context, userID, subscriptionID string) (int, error) {
	revoked, err := r.SubscriptionCanceledOrUnpaid(ctx, subscriptionID)
	if err != nil {
		return revoked, err
	}

	if err := r.profiles.ClearSubscription(ctx, userID, subscriptionID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return revoked, errors.Wrap(err, "failed to clear subscription snapshot")
	}

	return revoked, nil
}

// ProvisionLicense hands a signed-in user the license of their current
// subscription, issuing it on first request. The subscription and expiry come
// from the billing snapshot on the profile, never from the caller.
func (r *Reconciler) ProvisionLicense(ctx context.Context, userID, subscriptionID string) (*IssuedLicense, error) {
	profile, err := r.profiles.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load profile")
	}

	if profile.Status != models.ProfileStatusActive {
		return nil, ErrAccountInactive
	}
	if !isActiveStatus(profile.SubscriptionStatus) ||
		profile.SubscriptionID == nil ||
		*profile.SubscriptionID != subscriptionID ||
		profile.CurrentPeriodEnd == nil {
		return nil, ErrNoActiveSubscription
	}

	existing := true
	if _, err := r.licenses.FindActiveByUserAndSubscription(ctx, userID, subscriptionID); errors.Is(err, models.ErrNotFound) {
		existing = false
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to look up active license")
	}

	license, err := r.SubscriptionActivated(ctx, userID, subscriptionID, profile.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}

	return &IssuedLicense{License: license, Key: license.DisplayKey, Existing: existing}, nil
}

// AccountDeactivated revokes all of a user's active licenses and marks the
// profile inactive.
func (r *Reconciler) AccountDeactivated(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errors.Wrap(ErrInvalidInput, "user id is required")
	}

	active, err := r.licenses.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list active licenses")
	}

	revoked, err := r.revokeAll(ctx, active)
	if err != nil {
		return revoked, err
	}

	if err := r.profiles.Deactivate(ctx, userID, r.now()); err != nil && !errors.Is(err, models.ErrNotFound) {
		return revoked, errors.Wrap(err, "failed to deactivate profile")
	}

	log.Info().Str("userId", userID).Int("revoked", revoked).Msg("Account deactivated")
	return revoked, nil
}

// RepairMalformed sweeps active licenses and repairs malformed rows.
func (r *Reconciler) RepairMalformed(ctx context.Context) (int, error) {
	active, err := r.licenses.FindAllActive(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list active licenses")
	}

	repaired := 0
	for _, license := range active {
		if !IsMalformed(license) {
			continue
		}
		if _, err := r.issuer.Repair(ctx, license, license.UserID, license.SubscriptionID, license.ExpiresAt); err != nil {
			return repaired, err
		}
		repaired++
	}

	if repaired > 0 {
		log.Info().Int("repaired", repaired).Int("scanned", len(active)).Msg("Repaired malformed licenses")
	}
	return repaired, nil
}

// SweepDuplicates revokes all but the newest active license of every
// (user, subscription) pair that has more than one.
func (r *Reconciler) SweepDuplicates(ctx context.Context) (int, error) {
	active, err := r.licenses.FindAllActive(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list active licenses")
	}

	newest := make(map[string]*models.License)
	var stale []*models.License
	for _, license := range active {
		pair := license.UserID + "\x00" + license.SubscriptionID
		current, ok := newest[pair]
		switch {
		case !ok:
			newest[pair] = license
		case license.CreatedAt.After(current.CreatedAt):
			stale = append(stale, current)
			newest[pair] = license
		default:
			stale = append(stale, license)
		}
	}

	revoked, err := r.revokeAll(ctx, stale)
	if revoked > 0 {
		log.Warn().Int("revoked", revoked).Msg("Revoked duplicate active licenses")
	}
	return revoked, err
}

func (r *Reconciler) revokeAll(ctx context.Context, licenses []*models.License) (int, error) {
	status := models.LicenseStatusRevoked
	now := r.now()

	revoked := 0
	for _, license := range licenses {
		_, err := r.licenses.UpdateFields(ctx, license.ID, models.LicenseUpdate{
			Status:    &status,
			RevokedAt: &now,
		})
		if err != nil {
			return revoked, errors.Wrapf(err, "failed to revoke license %s", license.ID)
		}
		revoked++

		log.Info().
			Str("licenseId", license.ID).
			Str("userId", license.UserID).
			Str("subscriptionId", license.SubscriptionID).
			Msg("License revoked")
	}
	return revoked, nil
}

func isActiveStatus(status string) bool {
	return status == "active" || status == "trialing"
}

// SameCalendarDate compares two optional times by UTC date. Two nil times
// are equal; nil and non-nil are not.
func SameCalendarDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
