// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/clipbrd/clipbrd/internal/services"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// SubscriptionHandler receives subscription changes in transport-neutral form.
type SubscriptionHandler interface {
	HandleSubscriptionEvent(ctx context.Context, event services.SubscriptionEvent) error
}

// SubscriptionFetcher loads a subscription referenced by a checkout session.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
}

// CustomerResolver maps a Stripe customer to a user id when the
// subscription carries no userId metadata.
type CustomerResolver interface {
	UserIDForCustomer(ctx context.Context, customerID string) (string, error)
}

// WebhookObserver records webhook outcomes, typically as metrics.
type WebhookObserver interface {
	ObserveWebhook(eventType string, status int, duration time.Duration)
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret        string
	subscriptions SubscriptionHandler
	fetcher       SubscriptionFetcher
	customers     CustomerResolver
	observer      WebhookObserver
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler. customers and
// observer may be nil.
func NewWebhookHandler(secret string, subscriptions SubscriptionHandler, fetcher SubscriptionFetcher, customers CustomerResolver, observer WebhookObserver) *WebhookHandler {
	return &WebhookHandler{
		secret:        secret,
		subscriptions: subscriptions,
		fetcher:       fetcher,
		customers:     customers,
		observer:      observer,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		if h.observer != nil {
			h.observer.ObserveWebhook(eventType, status, time.Since(start))
		}
	}()

	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Stripe webhook signature verification failed")
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "Invalid signature"})
		return
	}
	eventType = string(event.Type)

	if err := h.handleEvent(r.Context(), &event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidInput) {
			// Retrying an event we cannot interpret will not help.
			status = http.StatusBadRequest
		}
		writeJSON(w, status, webhookErrorResponse{Error: "Webhook processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.handleCheckout(ctx, session)

	case "customer.subscription.created":
		return h.dispatchSubscription(ctx, event, services.SubscriptionCreated)

	case "customer.subscription.updated":
		return h.dispatchSubscription(ctx, event, services.SubscriptionUpdated)

	case "customer.subscription.deleted":
		return h.dispatchSubscription(ctx, event, services.SubscriptionDeleted)

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

func (h *WebhookHandler) handleCheckout(ctx context.Context, session CheckoutSession) error {
	if session.Mode != "" && session.Mode != "subscription" {
		log.Info().Str("session_id", session.ID).Str("mode", session.Mode).Msg("Ignoring non-subscription checkout")
		return nil
	}

	userID := strings.TrimSpace(session.ClientReferenceID)
	if userID == "" {
		return fmt.Errorf("%w: checkout session %s has no client_reference_id", services.ErrInvalidInput, session.ID)
	}
	if session.Subscription == "" {
		return fmt.Errorf("%w: checkout session %s has no subscription", services.ErrInvalidInput, session.ID)
	}
	if h.fetcher == nil {
		return ErrNotConfigured
	}

	sub, err := h.fetcher.GetSubscription(ctx, session.Subscription)
	if err != nil {
		return err
	}
	if sub.Customer == "" {
		sub.Customer = session.Customer
	}

	return h.subscriptions.HandleSubscriptionEvent(ctx, sub.toEvent(services.SubscriptionCreated, userID))
}

func (h *WebhookHandler) dispatchSubscription(ctx context.Context, event *stripelib.Event, eventType services.SubscriptionEventType) error {
	var sub Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	userID, err := h.resolveUserID(ctx, &sub)
	if err != nil {
		return err
	}

	return h.subscriptions.HandleSubscriptionEvent(ctx, sub.toEvent(eventType, userID))
}

func (h *WebhookHandler) resolveUserID(ctx context.Context, sub *Subscription) (string, error) {
	if userID := strings.TrimSpace(sub.Metadata["userId"]); userID != "" {
		return userID, nil
	}

	if h.customers != nil && sub.Customer != "" {
		userID, err := h.customers.UserIDForCustomer(ctx, sub.Customer)
		if err == nil && userID != "" {
			return userID, nil
		}
		if err != nil {
			log.Debug().Err(err).Str("customer", sub.Customer).Msg("No user found for Stripe customer")
		}
	}

	return "", fmt.Errorf("%w: no user id in subscription %s metadata", services.ErrInvalidInput, sub.ID)
}

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionItem struct {
	CurrentPeriodEnd int64 `json:"current_period_end"`
}

// Subscription is a minimal representation of a Stripe subscription.
type Subscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	// CurrentPeriodEnd is only sent by API versions before 2025-03-31;
	// newer versions carry it per item.
	CurrentPeriodEnd int64 `json:"current_period_end"`
	Items            struct {
		Data []subscriptionItem `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// PeriodEnd returns the current period end in epoch seconds, 0 when unknown.
func (s *Subscription) PeriodEnd() int64 {
	if s.CurrentPeriodEnd > 0 {
		return s.CurrentPeriodEnd
	}
	var end int64
	for _, item := range s.Items.Data {
		end = max(end, item.CurrentPeriodEnd)
	}
	return end
}

func (s *Subscription) toEvent(eventType services.SubscriptionEventType, userID string) services.SubscriptionEvent {
	return services.SubscriptionEvent{
		Type:              eventType,
		UserID:            userID,
		SubscriptionID:    s.ID,
		CustomerID:        s.Customer,
		Status:            s.Status,
		CurrentPeriodEnd:  s.PeriodEnd(),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("stripe: encode webhook response")
	}
}
