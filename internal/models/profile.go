// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	ProfileStatusActive   = "active"
	ProfileStatusInactive = "inactive"

	SubscriptionStatusInactive = "inactive"
)

// Profile is the dashboard's per-user record, including the latest
// subscription snapshot received from billing.
type Profile struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	CustomerID         *string    `json:"customerId,omitempty"`
	SubscriptionID     *string    `json:"subscriptionId,omitempty"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd"`
	Status             string     `json:"status"`
	DeactivatedAt      *time.Time `json:"deactivatedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// SubscriptionSnapshot is what billing tells us about a user's subscription.
type SubscriptionSnapshot struct {
	CustomerID        string
	SubscriptionID    string
	Status            string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

const profileColumns = `id, email, customer_id, subscription_id, subscription_status,
	current_period_end, cancel_at_period_end, status, deactivated_at, created_at, updated_at`

type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func scanProfile(row rowScanner) (*Profile, error) {
	profile := &Profile{}
	err := row.Scan(
		&profile.ID,
		&profile.Email,
		&profile.CustomerID,
		&profile.SubscriptionID,
		&profile.SubscriptionStatus,
		&profile.CurrentPeriodEnd,
		&profile.CancelAtPeriodEnd,
		&profile.Status,
		&profile.DeactivatedAt,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *ProfileStore) Get(ctx context.Context, userID string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`

	profile, err := scanProfile(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, ClassifyError(err)
	}
	return profile, nil
}

func (s *ProfileStore) GetByCustomerID(ctx context.Context, customerID string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE customer_id = ? ORDER BY updated_at DESC LIMIT 1`

	profile, err := scanProfile(s.db.QueryRowContext(ctx, query, customerID))
	if err != nil {
		return nil, ClassifyError(err)
	}
	return profile, nil
}

// UserIDForCustomer resolves the user owning a billing customer.
func (s *ProfileStore) UserIDForCustomer(ctx context.Context, customerID string) (string, error) {
	profile, err := s.GetByCustomerID(ctx, customerID)
	if err != nil {
		return "", err
	}
	return profile.ID, nil
}

// SetCustomerID records a billing customer found outside a webhook.
func (s *ProfileStore) SetCustomerID(ctx context.Context, userID, customerID string) error {
	query := `UPDATE profiles SET customer_id = ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, query, customerID, time.Now().UTC(), userID)
}

// Ensure creates the profile if it does not exist yet and refreshes the
// email when one is given.
func (s *ProfileStore) Ensure(ctx context.Context, userID, email string) (*Profile, error) {
	query := `
		INSERT INTO profiles (id, email, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE profiles.email END,
			updated_at = excluded.updated_at
		RETURNING ` + profileColumns

	now := time.Now().UTC()
	profile, err := scanProfile(s.db.QueryRowContext(ctx, query, userID, email, now, now))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", ClassifyError(err))
	}
	return profile, nil
}

// UpdateSubscription upserts the subscription snapshot for userID.
func (s *ProfileStore) UpdateSubscription(ctx context.Context, userID string, snapshot SubscriptionSnapshot) error {
	query := `
		INSERT INTO profiles (id, customer_id, subscription_id, subscription_status,
			current_period_end, cancel_at_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = COALESCE(excluded.customer_id, profiles.customer_id),
			subscription_id = excluded.subscription_id,
			subscription_status = excluded.subscription_status,
			current_period_end = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		userID,
		nullString(snapshot.CustomerID),
		nullString(snapshot.SubscriptionID),
		snapshot.Status,
		utcPtr(snapshot.CurrentPeriodEnd),
		snapshot.CancelAtPeriodEnd,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription snapshot: %w", ClassifyError(err))
	}
	return nil
}

// ClearSubscription resets the snapshot after subscriptionID is deleted. A
// profile already tracking a different subscription is left alone and
// reported as ErrNotFound.
func (s *ProfileStore) ClearSubscription(ctx context.Context, userID, subscriptionID string) error {
	query := `
		UPDATE profiles
		SET subscription_status = ?, current_period_end = NULL, subscription_id = NULL,
			cancel_at_period_end = 0, updated_at = ?
		WHERE id = ? AND subscription_id = ?
	`
	return s.execOne(ctx, query, SubscriptionStatusInactive, time.Now().UTC(), userID, subscriptionID)
}

// Deactivate marks the account inactive.
func (s *ProfileStore) Deactivate(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE profiles SET status = ?, deactivated_at = ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, query, ProfileStatusInactive, at.UTC(), time.Now().UTC(), userID)
}

func (s *ProfileStore) execOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return ClassifyError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ClassifyError(err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
