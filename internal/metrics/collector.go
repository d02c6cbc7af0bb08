// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/models"
)

// LicenseCounter reports aggregate license counts.
type LicenseCounter interface {
	Stats(ctx context.Context) (*models.LicenseStats, error)
}

type LicenseCollector struct {
	licenses LicenseCounter

	licensesDesc      *prometheus.Desc
	activeExpiredDesc *prometheus.Desc
	scrapeErrorsDesc  *prometheus.Desc
}

func NewLicenseCollector(licenses LicenseCounter) *LicenseCollector {
	return &LicenseCollector{
		licenses: licenses,

		licensesDesc: prometheus.NewDesc(
			"clipbrd_licenses",
			"Number of stored licenses by status",
			[]string{"status"},
			nil,
		),
		activeExpiredDesc: prometheus.NewDesc(
			"clipbrd_licenses_active_expired",
			"Number of active licenses whose expiry has passed",
			nil,
			nil,
		),
		scrapeErrorsDesc: prometheus.NewDesc(
			"clipbrd_license_scrape_errors",
			"Set to 1 when license counts could not be read during this scrape",
			[]string{"type"},
			nil,
		),
	}
}

func (c *LicenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.licensesDesc
	ch <- c.activeExpiredDesc
	ch <- c.scrapeErrorsDesc
}

func (c *LicenseCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if c.licenses == nil {
		log.Debug().Msg("License store is nil, skipping metrics collection")
		return
	}

	stats, err := c.licenses.Stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get license counts for metrics")
		ch <- prometheus.MustNewConstMetric(c.scrapeErrorsDesc, prometheus.GaugeValue, 1, "license_counts")
		return
	}

	ch <- prometheus.MustNewConstMetric(c.licensesDesc, prometheus.GaugeValue, float64(stats.Active), string(models.LicenseStatusActive))
	ch <- prometheus.MustNewConstMetric(c.licensesDesc, prometheus.GaugeValue, float64(stats.Revoked), string(models.LicenseStatusRevoked))
	ch <- prometheus.MustNewConstMetric(c.activeExpiredDesc, prometheus.GaugeValue, float64(stats.ActiveExpired))
}
