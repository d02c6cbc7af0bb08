// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry         *prometheus.Registry
	licenseCollector *LicenseCollector

	verifications    *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	webhookRequests  *prometheus.CounterVec
	webhookDurations *prometheus.HistogramVec
}

// NewManager builds a registry private to this manager. licenses may be nil.
func NewManager(licenses LicenseCounter) *Manager {
	registry := prometheus.NewRegistry()

	licenseCollector := NewLicenseCollector(licenses)

	m := &Manager{
		registry:         registry,
		licenseCollector: licenseCollector,
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipbrd_license_verifications_total",
			Help: "License verification requests by outcome",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipbrd_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"limiter"}),
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipbrd_stripe_webhooks_total",
			Help: "Stripe webhook deliveries by event type and response status",
		}, []string{"type", "status"}),
		webhookDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clipbrd_stripe_webhook_duration_seconds",
			Help:    "Time spent handling Stripe webhook deliveries",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}

	registry.MustRegister(
		licenseCollector,
		m.verifications,
		m.rateLimited,
		m.webhookRequests,
		m.webhookDurations,
	)

	log.Info().Msg("Metrics manager initialized with license collector")

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// ObserveVerify counts one verification. Outcome is one of the verifier's
// outcome labels, or "error" for requests that failed internally.
func (m *Manager) ObserveVerify(outcome string) {
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Manager) ObserveRateLimited(limiter string) {
	m.rateLimited.WithLabelValues(limiter).Inc()
}

func (m *Manager) ObserveWebhook(eventType string, status int, duration time.Duration) {
	m.webhookRequests.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
	m.webhookDurations.WithLabelValues(eventType).Observe(duration.Seconds())
}
