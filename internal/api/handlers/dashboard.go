// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/models"
	"github.com/clipbrd/clipbrd/internal/services"
)

type LicenseLister interface {
	ListByUser(ctx context.Context, userID string) ([]*models.License, error)
}

// LicenseProvisioner issues a user's license from their billing snapshot.
type LicenseProvisioner interface {
	ProvisionLicense(ctx context.Context, userID, subscriptionID string) (*services.IssuedLicense, error)
}

type UsageReporter interface {
	DailyStats(ctx context.Context, userID string, since time.Time) ([]models.DailyUsage, error)
}

type ProfileReader interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
}

type AccountDeactivator interface {
	AccountDeactivated(ctx context.Context, userID string) (int, error)
}

// SessionEnder clears the caller's dashboard session.
type SessionEnder interface {
	Logout(w http.ResponseWriter, r *http.Request) error
}

type DashboardHandler struct {
	licenses    LicenseLister
	provisioner LicenseProvisioner
	usage       UsageReporter
	profiles    ProfileReader
	accounts    AccountDeactivator
	sessions    SessionEnder
}

func NewDashboardHandler(licenses LicenseLister, provisioner LicenseProvisioner, usage UsageReporter, profiles ProfileReader, accounts AccountDeactivator, sessions SessionEnder) *DashboardHandler {
	return &DashboardHandler{
		licenses:    licenses,
		provisioner: provisioner,
		usage:       usage,
		profiles:    profiles,
		accounts:    accounts,
		sessions:    sessions,
	}
}

// ListLicenses handles GET /api/license/list
func (h *DashboardHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionUser(w, r)
	if !ok {
		return
	}

	licenses, err := h.licenses.ListByUser(r.Context(), session.UserID)
	if err != nil {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to list licenses")
		RespondError(w, http.StatusInternalServerError, "Error fetching licenses")
		return
	}
	if licenses == nil {
		licenses = []*models.License{}
	}

	RespondJSON(w, http.StatusOK, map[string]any{"licenses": licenses})
}

type GenerateLicenseRequest struct {
	UserID         string `json:"userId" validate:"required"`
	SubscriptionID string `json:"subscriptionId" validate:"required"`
}

// GenerateLicense handles POST /api/licenses/generate. Only the caller's
// current active subscription qualifies; its period end is the expiry.
func (h *DashboardHandler) GenerateLicense(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionUser(w, r)
	if !ok {
		return
	}

	var req GenerateLicenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if isValidationError(err) {
			RespondError(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID != session.UserID {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	issued, err := h.provisioner.ProvisionLicense(r.Context(), req.UserID, req.SubscriptionID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAccountInactive):
			RespondError(w, http.StatusForbidden, "Account is deactivated")
			return
		case errors.Is(err, services.ErrNoActiveSubscription):
			RespondError(w, http.StatusForbidden, "No active subscription")
			return
		case errors.Is(err, services.ErrInvalidInput):
			RespondError(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		log.Error().Err(err).Str("userId", req.UserID).Msg("Failed to generate license")
		RespondError(w, http.StatusInternalServerError, "Error generating license")
		return
	}

	status := http.StatusCreated
	if issued.Existing {
		status = http.StatusOK
	}
	RespondJSON(w, status, map[string]any{"license": issued.License})
}

type SubscriptionResponse struct {
	Status            string     `json:"status"`
	SubscriptionID    *string    `json:"subscriptionId,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	HasBillingAccount bool       `json:"hasBillingAccount"`
}

// Subscription handles GET /api/account/subscription
func (h *DashboardHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionUser(w, r)
	if !ok {
		return
	}

	profile, err := h.profiles.Get(r.Context(), session.UserID)
	if errors.Is(err, models.ErrNotFound) {
		RespondJSON(w, http.StatusOK, SubscriptionResponse{Status: models.SubscriptionStatusInactive})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to load profile")
		RespondError(w, http.StatusInternalServerError, "Error fetching subscription")
		return
	}

	RespondJSON(w, http.StatusOK, SubscriptionResponse{
		Status:            profile.SubscriptionStatus,
		SubscriptionID:    profile.SubscriptionID,
		CurrentPeriodEnd:  profile.CurrentPeriodEnd,
		CancelAtPeriodEnd: profile.CancelAtPeriodEnd,
		HasBillingAccount: profile.CustomerID != nil && *profile.CustomerID != "",
	})
}

type UsageResponse struct {
	Days  int                 `json:"days"`
	Total int                 `json:"total"`
	Daily []models.DailyUsage `json:"daily"`
}

// Usage handles GET /api/account/usage?days=N
func (h *DashboardHandler) Usage(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionUser(w, r)
	if !ok {
		return
	}

	days := queryInt(r, "days", 30, 1, 365)
	since := time.Now().UTC().AddDate(0, 0, -days)

	daily, err := h.usage.DailyStats(r.Context(), session.UserID, since)
	if err != nil {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to load usage")
		RespondError(w, http.StatusInternalServerError, "Error fetching usage")
		return
	}
	if daily == nil {
		daily = []models.DailyUsage{}
	}

	total := 0
	for _, d := range daily {
		total += d.Requests
	}

	RespondJSON(w, http.StatusOK, UsageResponse{Days: days, Total: total, Daily: daily})
}

// Deactivate handles POST /api/account/deactivate
func (h *DashboardHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionUser(w, r)
	if !ok {
		return
	}

	revoked, err := h.accounts.AccountDeactivated(r.Context(), session.UserID)
	if err != nil {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to deactivate account")
		RespondError(w, http.StatusInternalServerError, "Failed to deactivate account")
		return
	}

	if err := h.sessions.Logout(w, r); err != nil {
		log.Warn().Err(err).Str("userId", session.UserID).Msg("Failed to clear session after deactivation")
	}

	log.Info().Str("userId", session.UserID).Int("revoked", revoked).Msg("Account deactivated")
	RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
