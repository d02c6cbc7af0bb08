// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/metrics"
)

// MetricsHandler serves the license server's registry. When a token is
// configured scrapers must present it as a bearer token, since the license
// gauges expose customer counts.
type MetricsHandler struct {
	handler http.Handler
	token   []byte
}

func NewMetricsHandler(manager *metrics.Manager, token string) *MetricsHandler {
	registry := manager.GetRegistry()

	// A failing license count query still leaves the counters scrapeable.
	handler := promhttp.InstrumentMetricHandler(registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:          promErrorLogger{},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	}))

	return &MetricsHandler{
		handler: handler,
		token:   []byte(strings.TrimSpace(token)),
	}
}

func (h *MetricsHandler) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	if len(h.token) > 0 && !h.authorized(r) {
		log.Warn().Str("remoteAddr", r.RemoteAddr).Msg("Rejected metrics scrape without valid token")
		w.Header().Set("WWW-Authenticate", `Bearer realm="metrics"`)
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	h.handler.ServeHTTP(w, r)
}

func (h *MetricsHandler) authorized(r *http.Request) bool {
	presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), h.token) == 1
}

// promErrorLogger routes promhttp gather errors into zerolog.
type promErrorLogger struct{}

func (promErrorLogger) Println(v ...any) {
	log.Error().Msgf("Metrics gather failed: %v", v)
}
