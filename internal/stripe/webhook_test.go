// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stripe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/clipbrd/clipbrd/internal/services"
)

const testWebhookSecret = "whsec_test_secret"

type recordingHandler struct {
	events []services.SubscriptionEvent
	err    error
}

func (h *recordingHandler) HandleSubscriptionEvent(_ context.Context, event services.SubscriptionEvent) error {
	h.events = append(h.events, event)
	return h.err
}

type stubFetcher struct {
	subs map[string]*Subscription
}

func (f *stubFetcher) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", id)
	}
	return sub, nil
}

type stubCustomers map[string]string

func (c stubCustomers) UserIDForCustomer(_ context.Context, customerID string) (string, error) {
	if userID, ok := c[customerID]; ok {
		return userID, nil
	}
	return "", errors.New("not found")
}

type recordingObserver struct {
	eventType string
	status    int
}

func (o *recordingObserver) ObserveWebhook(eventType string, status int, _ time.Duration) {
	o.eventType = eventType
	o.status = status
}

func eventPayload(eventType, object string) string {
	return fmt.Sprintf(`{"id":"evt_test","object":"event","api_version":"2025-07-30.basil","type":%q,"data":{"object":%s}}`, eventType, object)
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestWebhook_SubscriptionUpdated(t *testing.T) {
	handler := &recordingHandler{}
	observer := &recordingObserver{}
	h := NewWebhookHandler(testWebhookSecret, handler, nil, nil, observer)

	payload := eventPayload("customer.subscription.updated", `{
		"id": "sub_1",
		"object": "subscription",
		"customer": "cus_1",
		"status": "active",
		"cancel_at_period_end": true,
		"items": {"object": "list", "data": [{"id": "si_1", "current_period_end": 1900000000}]},
		"metadata": {"userId": "user-1"}
	}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	require.Len(t, handler.events, 1)
	assert.Equal(t, services.SubscriptionEvent{
		Type:              services.SubscriptionUpdated,
		UserID:            "user-1",
		SubscriptionID:    "sub_1",
		CustomerID:        "cus_1",
		Status:            "active",
		CurrentPeriodEnd:  1900000000,
		CancelAtPeriodEnd: true,
	}, handler.events[0])
	assert.Equal(t, "customer.subscription.updated", observer.eventType)
	assert.Equal(t, http.StatusOK, observer.status)
}

func TestWebhook_SubscriptionDeletedResolvesCustomer(t *testing.T) {
	handler := &recordingHandler{}
	h := NewWebhookHandler(testWebhookSecret, handler, nil, stubCustomers{"cus_9": "user-9"}, nil)

	payload := eventPayload("customer.subscription.deleted", `{
		"id": "sub_9", "object": "subscription", "customer": "cus_9", "status": "canceled",
		"current_period_end": 1800000000, "metadata": {}
	}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, handler.events, 1)
	assert.Equal(t, services.SubscriptionDeleted, handler.events[0].Type)
	assert.Equal(t, "user-9", handler.events[0].UserID)
	assert.Equal(t, int64(1800000000), handler.events[0].CurrentPeriodEnd)
}

func TestWebhook_MissingUserIsBadRequest(t *testing.T) {
	handler := &recordingHandler{}
	h := NewWebhookHandler(testWebhookSecret, handler, nil, nil, nil)

	payload := eventPayload("customer.subscription.updated", `{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, handler.events)
}

func TestWebhook_CheckoutCompleted(t *testing.T) {
	handler := &recordingHandler{}
	fetcher := &stubFetcher{subs: map[string]*Subscription{
		"sub_1": {ID: "sub_1", Status: "active", CurrentPeriodEnd: 1900000000},
	}}
	h := NewWebhookHandler(testWebhookSecret, handler, fetcher, nil, nil)

	payload := eventPayload("checkout.session.completed", `{
		"id": "cs_1", "object": "checkout.session", "mode": "subscription",
		"customer": "cus_1", "subscription": "sub_1", "client_reference_id": "user-1"
	}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, handler.events, 1)
	event := handler.events[0]
	assert.Equal(t, services.SubscriptionCreated, event.Type)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, "cus_1", event.CustomerID)
	assert.Equal(t, int64(1900000000), event.CurrentPeriodEnd)
}

func TestWebhook_CheckoutNonSubscriptionIgnored(t *testing.T) {
	handler := &recordingHandler{}
	h := NewWebhookHandler(testWebhookSecret, handler, &stubFetcher{}, nil, nil)

	payload := eventPayload("checkout.session.completed", `{"id":"cs_1","object":"checkout.session","mode":"payment"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, handler.events)
}

func TestWebhook_Rejections(t *testing.T) {
	payload := eventPayload("customer.subscription.updated", `{"id":"sub_1","object":"subscription","metadata":{"userId":"u"}}`)

	tests := []struct {
		name    string
		secret  string
		request func(t *testing.T) *http.Request
		status  int
	}{
		{
			name:   "wrong secret",
			secret: testWebhookSecret,
			request: func(t *testing.T) *http.Request {
				return signedWebhookRequest(t, "whsec_other", payload)
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing signature",
			secret: testWebhookSecret,
			request: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/webhook/stripe", bytes.NewReader([]byte(payload)))
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "secret not configured",
			secret: "",
			request: func(t *testing.T) *http.Request {
				return signedWebhookRequest(t, testWebhookSecret, payload)
			},
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &recordingHandler{}
			h := NewWebhookHandler(tt.secret, handler, nil, nil, nil)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.request(t))

			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, handler.events)
		})
	}
}

func TestWebhook_UnhandledEventAcknowledged(t *testing.T) {
	handler := &recordingHandler{}
	h := NewWebhookHandler(testWebhookSecret, handler, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, eventPayload("invoice.paid", `{"id":"in_1","object":"invoice"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, handler.events)
}

func TestWebhook_ProcessingFailure(t *testing.T) {
	handler := &recordingHandler{err: errors.New("store down")}
	h := NewWebhookHandler(testWebhookSecret, handler, nil, nil, nil)

	payload := eventPayload("customer.subscription.updated", `{"id":"sub_1","object":"subscription","status":"active","metadata":{"userId":"u"}}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Webhook processing failed"}`, rec.Body.String())
}

func TestSubscription_PeriodEnd(t *testing.T) {
	sub := &Subscription{}
	assert.Zero(t, sub.PeriodEnd())

	sub.Items.Data = []subscriptionItem{{CurrentPeriodEnd: 100}, {CurrentPeriodEnd: 300}, {CurrentPeriodEnd: 200}}
	assert.Equal(t, int64(300), sub.PeriodEnd())

	sub.CurrentPeriodEnd = 50
	assert.Equal(t, int64(50), sub.PeriodEnd())
}
