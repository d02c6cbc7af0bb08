// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clipbrd/clipbrd/internal/api/handlers"
	apimiddleware "github.com/clipbrd/clipbrd/internal/api/middleware"
	"github.com/clipbrd/clipbrd/internal/auth"
	"github.com/clipbrd/clipbrd/internal/config"
	"github.com/clipbrd/clipbrd/internal/database"
	"github.com/clipbrd/clipbrd/internal/metrics"
	"github.com/clipbrd/clipbrd/internal/models"
	"github.com/clipbrd/clipbrd/internal/ratelimit"
	"github.com/clipbrd/clipbrd/internal/services"
	"github.com/clipbrd/clipbrd/internal/stripe"
	"github.com/clipbrd/clipbrd/internal/web/swagger"
)

// Dependencies holds all the dependencies needed for the API
type Dependencies struct {
	Config            *config.AppConfig
	DB                *database.DB
	AuthService       *auth.Service
	ClientAPIKeyStore *models.ClientAPIKeyStore
	LicenseStore      *models.LicenseStore
	UsageStore        *models.LicenseUsageStore
	ProfileStore      *models.ProfileStore
	Verifier          *services.LicenseVerifier
	Reconciler        *services.Reconciler
	Releases          *services.ReleaseService
	Billing           *stripe.Client
	Webhook           *stripe.WebhookHandler
	VerifyLimiter     *ratelimit.Limiter
	FailedLimiter     *ratelimit.Limiter
	MetricsManager    *metrics.Manager
	Swagger           *swagger.Handler
}

// NewRouter creates and configures the main application router
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimiddleware.HTTPLogger)
	r.Use(middleware.Recoverer)

	var observer handlers.VerifyObserver
	if deps.MetricsManager != nil {
		observer = deps.MetricsManager
	}

	licenseHandler := handlers.NewLicenseHandler(deps.Verifier, limiter(deps.VerifyLimiter), limiter(deps.FailedLimiter), observer)
	dashboardHandler := handlers.NewDashboardHandler(deps.LicenseStore, deps.Reconciler, deps.UsageStore, deps.ProfileStore, deps.Reconciler, deps.AuthService)
	billingHandler := handlers.NewBillingHandler(deps.Billing, deps.ProfileStore)
	authHandler := handlers.NewAuthHandler(deps.AuthService, deps.ProfileStore)
	releasesHandler := handlers.NewReleasesHandler(deps.Releases)

	var pinger handlers.Pinger
	if deps.DB != nil {
		pinger = deps.DB
	}
	healthHandler := handlers.NewHealthHandler(pinger)

	r.Route("/api", func(r chi.Router) {
		// Desktop client verification
		r.With(apimiddleware.SecurityHeaders, apimiddleware.ClientAPIKey(deps.ClientAPIKeyStore)).
			Post("/license/verify", licenseHandler.Verify)

		if deps.Webhook != nil {
			r.Method(http.MethodPost, "/webhook/stripe", deps.Webhook)
		}

		r.Get("/releases/latest", releasesHandler.Latest)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/session", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.With(apimiddleware.RequireSession(deps.AuthService)).Get("/me", authHandler.Me)
		})

		// Dashboard routes
		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireSession(deps.AuthService))

			r.Get("/license/list", dashboardHandler.ListLicenses)
			r.Post("/licenses/generate", dashboardHandler.GenerateLicense)

			r.Route("/account", func(r chi.Router) {
				r.Get("/subscription", dashboardHandler.Subscription)
				r.Get("/usage", dashboardHandler.Usage)
				r.Post("/deactivate", dashboardHandler.Deactivate)
			})

			r.Route("/stripe", func(r chi.Router) {
				r.Post("/create-portal", billingHandler.CreatePortal)
				r.Post("/customer-portal", billingHandler.CustomerPortal)
			})
		})
	})

	if deps.Swagger != nil {
		deps.Swagger.RegisterRoutes(r)
	}

	r.Get("/health", healthHandler.Health)

	if deps.MetricsManager != nil && (deps.Config == nil || deps.Config.Config.MetricsEnabled) {
		metricsToken := ""
		if deps.Config != nil {
			metricsToken = deps.Config.Config.MetricsToken
		}
		r.Get("/metrics", handlers.NewMetricsHandler(deps.MetricsManager, metricsToken).ServeMetrics)
	}

	baseURL := ""
	if deps.Config != nil {
		baseURL = strings.TrimSuffix(deps.Config.Config.BaseURL, "/")
	}
	if baseURL == "" {
		return r
	}

	root := chi.NewRouter()
	root.Mount(baseURL, r)
	return root
}

// limiter keeps a nil *ratelimit.Limiter from becoming a non-nil interface.
func limiter(l *ratelimit.Limiter) handlers.RateLimiter {
	if l == nil {
		return nil
	}
	return l
}
