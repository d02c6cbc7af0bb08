// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LicenseUsage is one row of the append-only usage log.
type LicenseUsage struct {
	ID            string    `json:"id"`
	LicenseID     string    `json:"licenseId"`
	UserID        string    `json:"userId"`
	Requests      int       `json:"requests"`
	LastRequestAt time.Time `json:"lastRequestAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// DailyUsage aggregates usage rows by UTC calendar date.
type DailyUsage struct {
	Date     string `json:"date"`
	Requests int    `json:"requests"`
}

type LicenseUsageStore struct {
	db *sql.DB
}

func NewLicenseUsageStore(db *sql.DB) *LicenseUsageStore {
	return &LicenseUsageStore{db: db}
}

func (s *LicenseUsageStore) Record(ctx context.Context, usage *LicenseUsage) error {
	if usage.Requests == 0 {
		usage.Requests = 1
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = usage.LastRequestAt
	}

	query := `
		INSERT INTO license_usage (id, license_id, user_id, requests, last_request_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.LicenseID,
		usage.UserID,
		usage.Requests,
		usage.LastRequestAt.UTC(),
		usage.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record license usage: %w", ClassifyError(err))
	}
	return nil
}

// DailyStats sums requests per day for userID from since onwards, oldest
// day first.
func (s *LicenseUsageStore) DailyStats(ctx context.Context, userID string, since time.Time) ([]DailyUsage, error) {
	query := `
		SELECT date(created_at) AS day, SUM(requests)
		FROM license_usage
		WHERE user_id = ? AND julianday(created_at) >= julianday(?)
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, since.UTC())
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer rows.Close()

	stats := []DailyUsage{}
	for rows.Next() {
		var day DailyUsage
		if err := rows.Scan(&day.Date, &day.Requests); err != nil {
			return nil, ClassifyError(err)
		}
		stats = append(stats, day)
	}

	return stats, ClassifyError(rows.Err())
}
