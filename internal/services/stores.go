// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"time"

	"github.com/clipbrd/clipbrd/internal/models"
)

// LicenseStore is the persistence seam for licenses. Implementations return
// models.ErrNotFound, models.ErrStoreUnavailable or
// models.ErrConstraintViolation so callers can tell the cases apart.
type LicenseStore interface {
	Insert(ctx context.Context, license *models.License) (*models.License, error)
	FindActiveByUserAndSubscription(ctx context.Context, userID, subscriptionID string) (*models.License, error)
	FindAllActive(ctx context.Context) ([]*models.License, error)
	FindActiveByLookupHint(ctx context.Context, hint string) ([]*models.License, error)
	FindActiveWithoutLookupHint(ctx context.Context) ([]*models.License, error)
	UpdateFields(ctx context.Context, id string, update models.LicenseUpdate) (*models.License, error)
	ListByUser(ctx context.Context, userID string) ([]*models.License, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*models.License, error)
	ListActiveBySubscription(ctx context.Context, subscriptionID string) ([]*models.License, error)
}

type UsageStore interface {
	Record(ctx context.Context, usage *models.LicenseUsage) error
	DailyStats(ctx context.Context, userID string, since time.Time) ([]models.DailyUsage, error)
}

type ProfileStore interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	UpdateSubscription(ctx context.Context, userID string, snapshot models.SubscriptionSnapshot) error
	ClearSubscription(ctx context.Context, userID, subscriptionID string) error
	Deactivate(ctx context.Context, userID string, at time.Time) error
}

var (
	_ LicenseStore = (*models.LicenseStore)(nil)
	_ UsageStore   = (*models.LicenseUsageStore)(nil)
	_ ProfileStore = (*models.ProfileStore)(nil)
)
