// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipbrd/clipbrd/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db.Conn()
}

func newTestLicense(id, userID, subscriptionID string) *License {
	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	return &License{
		ID:             id,
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Key:            "salt:hash",
		DisplayKey:     "CLPB-TEST-" + id,
		LookupHint:     "hint-" + id,
		EncryptedData:  "cipher",
		IV:             "iv",
		AuthTag:        "tag",
		Signature:      "sig",
		ExpiresAt:      &expires,
	}
}

func TestLicenseStore_InsertAndFind(t *testing.T) {
	ctx := t.Context()
	store := NewLicenseStore(setupTestDB(t))

	inserted, err := store.Insert(ctx, newTestLicense("lic-1", "user-1", "sub_1"))
	require.NoError(t, err)
	assert.Equal(t, LicenseStatusActive, inserted.Status)
	require.NotNil(t, inserted.ExpiresAt)
	assert.True(t, inserted.ExpiresAt.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Nil(t, inserted.RevokedAt)

	found, err := store.FindActiveByUserAndSubscription(ctx, "user-1", "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "lic-1", found.ID)
	assert.Equal(t, "CLPB-TEST-lic-1", found.DisplayKey)

	_, err = store.FindActiveByUserAndSubscription(ctx, "user-1", "sub_other")
	assert.ErrorIs(t, err, ErrNotFound)

	byHint, err := store.FindActiveByLookupHint(ctx, "hint-lic-1")
	require.NoError(t, err)
	require.Len(t, byHint, 1)
	assert.Equal(t, "lic-1", byHint[0].ID)
}

func TestLicenseStore_ActivePairIsUnique(t *testing.T) {
	ctx := t.Context()
	store := NewLicenseStore(setupTestDB(t))

	_, err := store.Insert(ctx, newTestLicense("lic-1", "user-1", "sub_1"))
	require.NoError(t, err)

	_, err = store.Insert(ctx, newTestLicense("lic-2", "user-1", "sub_1"))
	assert.ErrorIs(t, err, ErrConstraintViolation)

	revoked := LicenseStatusRevoked
	now := time.Now()
	_, err = store.UpdateFields(ctx, "lic-1", LicenseUpdate{Status: &revoked, RevokedAt: &now})
	require.NoError(t, err)

	_, err = store.Insert(ctx, newTestLicense("lic-2", "user-1", "sub_1"))
	assert.NoError(t, err, "a new active license is allowed once the old one is revoked")
}

func TestLicenseStore_UpdateFields(t *testing.T) {
	ctx := t.Context()
	store := NewLicenseStore(setupTestDB(t))

	original, err := store.Insert(ctx, newTestLicense("lic-1", "user-1", "sub_1"))
	require.NoError(t, err)

	newExpiry := time.Date(2031, 6, 1, 0, 0, 0, 0, time.UTC)
	signature := "new-sig"
	updated, err := store.UpdateFields(ctx, "lic-1", LicenseUpdate{ExpiresAt: &newExpiry, Signature: &signature})
	require.NoError(t, err)
	assert.True(t, updated.ExpiresAt.Equal(newExpiry))
	assert.Equal(t, "new-sig", updated.Signature)
	assert.Equal(t, original.Key, updated.Key)
	assert.False(t, updated.UpdatedAt.Before(original.UpdatedAt))

	cleared, err := store.UpdateFields(ctx, "lic-1", LicenseUpdate{ClearExpiry: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.ExpiresAt)

	_, err = store.UpdateFields(ctx, "missing", LicenseUpdate{Signature: &signature})
	assert.ErrorIs(t, err, ErrNotFound)

	bad := LicenseStatus("expired")
	_, err = store.UpdateFields(ctx, "lic-1", LicenseUpdate{Status: &bad})
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestLicenseStore_Listing(t *testing.T) {
	ctx := t.Context()
	store := NewLicenseStore(setupTestDB(t))

	for i, pair := range [][2]string{{"user-1", "sub_1"}, {"user-1", "sub_2"}, {"user-2", "sub_3"}} {
		license := newTestLicense(fmt.Sprintf("lic-%d", i), pair[0], pair[1])
		license.CreatedAt = time.Date(2025, 1, i+1, 0, 0, 0, 0, time.UTC)
		_, err := store.Insert(ctx, license)
		require.NoError(t, err)
	}

	unhinted := newTestLicense("lic-legacy", "user-3", "sub_4")
	unhinted.LookupHint = ""
	_, err := store.Insert(ctx, unhinted)
	require.NoError(t, err)

	revoked := LicenseStatusRevoked
	_, err = store.UpdateFields(ctx, "lic-0", LicenseUpdate{Status: &revoked})
	require.NoError(t, err)

	all, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "lic-1", all[0].ID, "newest first")

	active, err := store.ListActiveByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "lic-1", active[0].ID)

	bySub, err := store.ListActiveBySubscription(ctx, "sub_3")
	require.NoError(t, err)
	require.Len(t, bySub, 1)

	allActive, err := store.FindAllActive(ctx)
	require.NoError(t, err)
	assert.Len(t, allActive, 3)

	legacy, err := store.FindActiveWithoutLookupHint(ctx)
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	assert.Equal(t, "lic-legacy", legacy[0].ID)
}

func TestLicense_IsExpired(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.False(t, (&License{}).IsExpired(now))
	assert.True(t, (&License{ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&License{ExpiresAt: &future}).IsExpired(now))
}

func TestLicenseUsageStore_DailyStats(t *testing.T) {
	ctx := t.Context()
	db := setupTestDB(t)

	_, err := NewLicenseStore(db).Insert(ctx, newTestLicense("lic-1", "user-1", "sub_1"))
	require.NoError(t, err)

	usage := NewLicenseUsageStore(db)
	times := []time.Time{
		time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC),
		time.Date(2025, 3, 2, 0, 1, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	for i, at := range times {
		err := usage.Record(ctx, &LicenseUsage{
			ID:            fmt.Sprintf("u-%d", i),
			LicenseID:     "lic-1",
			UserID:        "user-1",
			LastRequestAt: at,
		})
		require.NoError(t, err)
	}

	stats, err := usage.DailyStats(ctx, "user-1", time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []DailyUsage{
		{Date: "2025-03-01", Requests: 2},
		{Date: "2025-03-02", Requests: 1},
	}, stats)

	empty, err := usage.DailyStats(ctx, "user-2", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	err = usage.Record(ctx, &LicenseUsage{ID: "orphan", LicenseID: "missing", UserID: "user-1", LastRequestAt: time.Now()})
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestProfileStore(t *testing.T) {
	ctx := t.Context()
	store := NewProfileStore(setupTestDB(t))

	_, err := store.Get(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	profile, err := store.Ensure(ctx, "user-1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, ProfileStatusActive, profile.Status)
	assert.Equal(t, SubscriptionStatusInactive, profile.SubscriptionStatus)

	periodEnd := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	err = store.UpdateSubscription(ctx, "user-1", SubscriptionSnapshot{
		CustomerID:        "cus_1",
		SubscriptionID:    "sub_1",
		Status:            "active",
		CurrentPeriodEnd:  &periodEnd,
		CancelAtPeriodEnd: true,
	})
	require.NoError(t, err)

	profile, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", profile.Email)
	require.NotNil(t, profile.CustomerID)
	assert.Equal(t, "cus_1", *profile.CustomerID)
	require.NotNil(t, profile.SubscriptionID)
	assert.Equal(t, "sub_1", *profile.SubscriptionID)
	assert.True(t, profile.CancelAtPeriodEnd)
	require.NotNil(t, profile.CurrentPeriodEnd)
	assert.True(t, profile.CurrentPeriodEnd.Equal(periodEnd))

	assert.ErrorIs(t, store.ClearSubscription(ctx, "user-1", "sub_old"), ErrNotFound, "a stale subscription id leaves the snapshot alone")
	profile, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, profile.SubscriptionID)
	assert.Equal(t, "sub_1", *profile.SubscriptionID)

	require.NoError(t, store.ClearSubscription(ctx, "user-1", "sub_1"))
	profile, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, profile.SubscriptionID)
	assert.Nil(t, profile.CurrentPeriodEnd)
	assert.Equal(t, SubscriptionStatusInactive, profile.SubscriptionStatus)
	require.NotNil(t, profile.CustomerID, "customer id survives subscription deletion")

	deactivatedAt := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Deactivate(ctx, "user-1", deactivatedAt))
	profile, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ProfileStatusInactive, profile.Status)
	require.NotNil(t, profile.DeactivatedAt)

	assert.ErrorIs(t, store.Deactivate(ctx, "nobody", deactivatedAt), ErrNotFound)
}

func TestClientAPIKeyStore(t *testing.T) {
	ctx := t.Context()
	store := NewClientAPIKeyStore(setupTestDB(t))

	rawKey, key, err := store.Create(ctx, "desktop-macos")
	require.NoError(t, err)
	assert.Len(t, rawKey, 64)
	assert.Equal(t, HashAPIKey(rawKey), key.KeyHash)

	validated, err := store.ValidateKey(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "desktop-macos", validated.ClientName)
	assert.Nil(t, validated.LastUsedAt)

	require.NoError(t, store.UpdateLastUsed(ctx, key.KeyHash))
	validated, err = store.ValidateKey(ctx, rawKey)
	require.NoError(t, err)
	assert.NotNil(t, validated.LastUsedAt)

	_, err = store.ValidateKey(ctx, "wrong")
	assert.ErrorIs(t, err, ErrClientAPIKeyNotFound)

	keys, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, store.Delete(ctx, key.ID))
	assert.ErrorIs(t, store.Delete(ctx, key.ID), ErrClientAPIKeyNotFound)
}

func TestClassifyError(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
	assert.ErrorIs(t, ClassifyError(sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, ClassifyError(sql.ErrConnDone), ErrStoreUnavailable)

	other := errors.New("boom")
	assert.Equal(t, other, ClassifyError(other))

	db := setupTestDB(t)
	require.NoError(t, db.Close())
	_, err := NewLicenseStore(db).FindAllActive(t.Context())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestProfileStore_CustomerLookup(t *testing.T) {
	ctx := t.Context()
	store := NewProfileStore(setupTestDB(t))

	_, err := store.Ensure(ctx, "user-1", "")
	require.NoError(t, err)

	_, err = store.UserIDForCustomer(ctx, "cus_1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetCustomerID(ctx, "user-1", "cus_1"))

	userID, err := store.UserIDForCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	assert.ErrorIs(t, store.SetCustomerID(ctx, "nobody", "cus_2"), ErrNotFound)
}

func TestLicenseStore_Stats(t *testing.T) {
	ctx := t.Context()
	store := NewLicenseStore(setupTestDB(t))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &LicenseStats{}, stats)

	_, err = store.Insert(ctx, newTestLicense("lic-1", "user-1", "sub_1"))
	require.NoError(t, err)

	expired := newTestLicense("lic-2", "user-2", "sub_2")
	past := time.Now().Add(-48 * time.Hour)
	expired.ExpiresAt = &past
	_, err = store.Insert(ctx, expired)
	require.NoError(t, err)

	revokedLicense := newTestLicense("lic-3", "user-3", "sub_3")
	revokedLicense.Status = LicenseStatusRevoked
	_, err = store.Insert(ctx, revokedLicense)
	require.NoError(t, err)

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &LicenseStats{Active: 2, Revoked: 1, ActiveExpired: 1}, stats)
}
