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
	"github.com/clipbrd/clipbrd/internal/stripe"
)

type BillingClient interface {
	IsConfigured() bool
	ActiveSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error)
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
}

type BillingProfiles interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	SetCustomerID(ctx context.Context, userID, customerID string) error
	UpdateSubscription(ctx context.Context, userID string, snapshot models.SubscriptionSnapshot) error
}

type BillingHandler struct {
	billing  BillingClient
	profiles BillingProfiles
}

func NewBillingHandler(billing BillingClient, profiles BillingProfiles) *BillingHandler {
	return &BillingHandler{
		billing:  billing,
		profiles: profiles,
	}
}

// CreatePortal handles POST /api/stripe/create-portal
func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionUser(w, r)
	if !ok {
		return
	}
	if h.billing == nil || !h.billing.IsConfigured() {
		RespondError(w, http.StatusServiceUnavailable, "Billing is not configured")
		return
	}

	ctx := r.Context()
	profile, err := h.profiles.Get(ctx, session.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to load profile")
		RespondError(w, http.StatusInternalServerError, "Error fetching user profile")
		return
	}

	customerID := ""
	if profile != nil && profile.CustomerID != nil {
		customerID = *profile.CustomerID
	}

	if customerID == "" && session.Email != "" {
		found, err := h.billing.FindCustomerByEmail(ctx, session.Email)
		switch {
		case err == nil:
			customerID = found
			if profile != nil {
				if err := h.profiles.SetCustomerID(ctx, session.UserID, customerID); err != nil {
					log.Warn().Err(err).Str("userId", session.UserID).Msg("Failed to store customer id")
				}
			}
		case errors.Is(err, stripe.ErrCustomerNotFound):
		default:
			log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to search Stripe customer")
		}
	}

	if customerID == "" {
		RespondError(w, http.StatusBadRequest, "You don't have a billing account yet. Make a purchase first.")
		return
	}

	url, err := h.billing.CreatePortalSession(ctx, customerID)
	if err != nil {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to create portal session")
		RespondError(w, http.StatusInternalServerError, "Error creating billing portal session")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"url": url})
}

type CustomerPortalRequest struct {
	UserID string `json:"userId"`
}

type CustomerSubscription struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// CustomerPortal handles POST /api/stripe/customer-portal. It refreshes the
// stored snapshot from the customer's active Stripe subscription.
func (h *BillingHandler) CustomerPortal(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionUser(w, r)
	if !ok {
		return
	}

	var req CustomerPortalRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID != "" && req.UserID != session.UserID {
		RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if h.billing == nil || !h.billing.IsConfigured() {
		RespondError(w, http.StatusServiceUnavailable, "Billing is not configured")
		return
	}

	ctx := r.Context()
	profile, err := h.profiles.Get(ctx, session.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to load profile")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if profile == nil || profile.CustomerID == nil || *profile.CustomerID == "" {
		RespondError(w, http.StatusNotFound, "No customer ID found")
		return
	}

	sub, err := h.billing.ActiveSubscription(ctx, *profile.CustomerID)
	if errors.Is(err, stripe.ErrNoActiveSubscription) {
		RespondError(w, http.StatusNotFound, "No active subscription found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to fetch Stripe subscription")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	periodEnd := sub.PeriodEnd()
	var end *time.Time
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		end = &t
	}

	if err := h.profiles.UpdateSubscription(ctx, session.UserID, models.SubscriptionSnapshot{
		CustomerID:        *profile.CustomerID,
		SubscriptionID:    sub.ID,
		Status:            sub.Status,
		CurrentPeriodEnd:  end,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}); err != nil {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to update subscription snapshot")
	}

	RespondJSON(w, http.StatusOK, map[string]CustomerSubscription{
		"subscription": {
			ID:                sub.ID,
			Status:            sub.Status,
			CurrentPeriodEnd:  periodEnd,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		},
	})
}
