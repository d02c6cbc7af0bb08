// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type LicenseStatus string

const (
	LicenseStatusActive  LicenseStatus = "active"
	LicenseStatusRevoked LicenseStatus = "revoked"
)

// License is a stored license. Key holds the PBKDF2 record of the plaintext
// key, never the plaintext itself.
//
// DisplayKey keeps the plaintext so the owner can see their key again on the
// dashboard. Anyone with read access to the table can use it; that reduced
// security is accepted for now.
type License struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	SubscriptionID string        `json:"subscriptionId"`
	Key            string        `json:"-"`
	DisplayKey     string        `json:"displayKey"`
	LookupHint     string        `json:"-"`
	EncryptedData  string        `json:"-"`
	IV             string        `json:"-"`
	AuthTag        string        `json:"-"`
	Signature      string        `json:"-"`
	Status         LicenseStatus `json:"status"`
	ExpiresAt      *time.Time    `json:"expiresAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	RevokedAt      *time.Time    `json:"revokedAt,omitempty"`
}

// IsExpired reports whether the license has a non-null expiry before now.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// LicenseUpdate is a partial update. Nil fields are left alone.
type LicenseUpdate struct {
	Key           *string
	DisplayKey    *string
	LookupHint    *string
	EncryptedData *string
	IV            *string
	AuthTag       *string
	Signature     *string
	Status        *LicenseStatus
	ExpiresAt     *time.Time
	// ClearExpiry sets expires_at to NULL. It wins over ExpiresAt.
	ClearExpiry bool
	RevokedAt   *time.Time
}

func (u LicenseUpdate) isEmpty() bool {
	return u.Key == nil && u.DisplayKey == nil && u.LookupHint == nil &&
		u.EncryptedData == nil && u.IV == nil && u.AuthTag == nil &&
		u.Signature == nil && u.Status == nil && u.ExpiresAt == nil &&
		!u.ClearExpiry && u.RevokedAt == nil
}

const licenseColumns = `id, user_id, subscription_id, key, display_key, lookup_hint,
	encrypted_data, iv, auth_tag, signature, status, expires_at,
	created_at, updated_at, revoked_at`

type LicenseStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewLicenseStore(db *sql.DB) *LicenseStore {
	return &LicenseStore{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*License, error) {
	license := &License{}
	err := row.Scan(
		&license.ID,
		&license.UserID,
		&license.SubscriptionID,
		&license.Key,
		&license.DisplayKey,
		&license.LookupHint,
		&license.EncryptedData,
		&license.IV,
		&license.AuthTag,
		&license.Signature,
		&license.Status,
		&license.ExpiresAt,
		&license.CreatedAt,
		&license.UpdatedAt,
		&license.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	return license, nil
}

func (s *LicenseStore) queryLicenses(ctx context.Context, query string, args ...any) ([]*License, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer rows.Close()

	var licenses []*License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, ClassifyError(err)
		}
		licenses = append(licenses, license)
	}

	return licenses, ClassifyError(rows.Err())
}

// Insert stores a new license. Timestamps are filled in when zero.
func (s *LicenseStore) Insert(ctx context.Context, license *License) (*License, error) {
	now := s.now().UTC()
	if license.CreatedAt.IsZero() {
		license.CreatedAt = now
	}
	if license.UpdatedAt.IsZero() {
		license.UpdatedAt = now
	}
	if license.Status == "" {
		license.Status = LicenseStatusActive
	}

	query := `
		INSERT INTO licenses (` + licenseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + licenseColumns

	row := s.db.QueryRowContext(ctx, query,
		license.ID,
		license.UserID,
		license.SubscriptionID,
		license.Key,
		license.DisplayKey,
		license.LookupHint,
		license.EncryptedData,
		license.IV,
		license.AuthTag,
		license.Signature,
		license.Status,
		utcPtr(license.ExpiresAt),
		license.CreatedAt.UTC(),
		license.UpdatedAt.UTC(),
		utcPtr(license.RevokedAt),
	)

	stored, err := scanLicense(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert license: %w", ClassifyError(err))
	}
	return stored, nil
}

func (s *LicenseStore) GetByID(ctx context.Context, id string) (*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = ?`

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, ClassifyError(err)
	}
	return license, nil
}

// FindActiveByUserAndSubscription returns ErrNotFound when the pair has no
// active license.
func (s *LicenseStore) FindActiveByUserAndSubscription(ctx context.Context, userID, subscriptionID string) (*License, error) {
	query := `
		SELECT ` + licenseColumns + `
		FROM licenses
		WHERE user_id = ? AND subscription_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, userID, subscriptionID, LicenseStatusActive))
	if err != nil {
		return nil, ClassifyError(err)
	}
	return license, nil
}

func (s *LicenseStore) FindAllActive(ctx context.Context) ([]*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE status = ? ORDER BY created_at DESC`
	return s.queryLicenses(ctx, query, LicenseStatusActive)
}

// FindActiveByLookupHint narrows the verification search to rows sharing a
// lookup digest. Rows written before the digest existed carry an empty hint
// and are returned by FindActiveWithoutLookupHint.
func (s *LicenseStore) FindActiveByLookupHint(ctx context.Context, hint string) ([]*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE status = ? AND lookup_hint = ?`
	return s.queryLicenses(ctx, query, LicenseStatusActive, hint)
}

func (s *LicenseStore) FindActiveWithoutLookupHint(ctx context.Context) ([]*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE status = ? AND lookup_hint = ''`
	return s.queryLicenses(ctx, query, LicenseStatusActive)
}

func (s *LicenseStore) ListByUser(ctx context.Context, userID string) ([]*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE user_id = ? ORDER BY created_at DESC`
	return s.queryLicenses(ctx, query, userID)
}

func (s *LicenseStore) ListActiveByUser(ctx context.Context, userID string) ([]*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE user_id = ? AND status = ? ORDER BY created_at DESC`
	return s.queryLicenses(ctx, query, userID, LicenseStatusActive)
}

func (s *LicenseStore) ListActiveBySubscription(ctx context.Context, subscriptionID string) ([]*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE subscription_id = ? AND status = ? ORDER BY created_at DESC`
	return s.queryLicenses(ctx, query, subscriptionID, LicenseStatusActive)
}

// UpdateFields applies a partial update and returns the stored row.
// updated_at is always bumped.
func (s *LicenseStore) UpdateFields(ctx context.Context, id string, update LicenseUpdate) (*License, error) {
	if update.isEmpty() {
		return s.GetByID(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if update.Key != nil {
		set("key", *update.Key)
	}
	if update.DisplayKey != nil {
		set("display_key", *update.DisplayKey)
	}
	if update.LookupHint != nil {
		set("lookup_hint", *update.LookupHint)
	}
	if update.EncryptedData != nil {
		set("encrypted_data", *update.EncryptedData)
	}
	if update.IV != nil {
		set("iv", *update.IV)
	}
	if update.AuthTag != nil {
		set("auth_tag", *update.AuthTag)
	}
	if update.Signature != nil {
		set("signature", *update.Signature)
	}
	if update.Status != nil {
		set("status", *update.Status)
	}
	if update.ClearExpiry {
		set("expires_at", nil)
	} else if update.ExpiresAt != nil {
		set("expires_at", update.ExpiresAt.UTC())
	}
	if update.RevokedAt != nil {
		set("revoked_at", update.RevokedAt.UTC())
	}
	set("updated_at", s.now().UTC())

	query := `UPDATE licenses SET ` + strings.Join(sets, ", ") + ` WHERE id = ? RETURNING ` + licenseColumns
	args = append(args, id)

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update license %s: %w", id, ClassifyError(err))
	}
	return license, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// LicenseStats is a point-in-time count of stored licenses.
type LicenseStats struct {
	Active  int
	Revoked int
	// ActiveExpired counts active rows whose expiry has passed.
	ActiveExpired int
}

func (s *LicenseStore) Stats(ctx context.Context) (*LicenseStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'revoked' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'active' AND expires_at IS NOT NULL
				AND julianday(expires_at) < julianday('now') THEN 1 ELSE 0 END), 0)
		FROM licenses
	`

	stats := &LicenseStats{}
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.Active, &stats.Revoked, &stats.ActiveExpired); err != nil {
		return nil, ClassifyError(err)
	}
	return stats, nil
}
