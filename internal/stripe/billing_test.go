// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stripe

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v82"
)

const subscriptionJSON = `{
	"id": "sub_1",
	"object": "subscription",
	"customer": "cus_1",
	"status": "active",
	"cancel_at_period_end": false,
	"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "current_period_end": 1900000000}]},
	"metadata": {"userId": "user-1"}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, &stripelib.BackendConfig{
		URL:               stripelib.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripelib.Int64(0),
		LeveledLogger:     &stripelib.LeveledLogger{Level: stripelib.LevelNull},
	})

	return NewClient("sk_test_123", "https://clipbrd.test/dashboard", &stripelib.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("  ", "", nil)
	assert.False(t, client.IsConfigured())

	_, err := client.GetSubscription(t.Context(), "sub_1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = client.CreatePortalSession(t.Context(), "cus_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_GetSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, subscriptionJSON)
	})

	sub, err := client.GetSubscription(t.Context(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "cus_1", sub.Customer)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, int64(1900000000), sub.PeriodEnd())
	assert.Equal(t, "user-1", sub.Metadata["userId"])
}

func TestClient_ActiveSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("customer") == "cus_empty" {
			io.WriteString(w, `{"object":"list","data":[],"has_more":false,"url":"/v1/subscriptions"}`)
			return
		}
		assert.Equal(t, "cus_1", r.URL.Query().Get("customer"))
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		io.WriteString(w, `{"object":"list","data":[`+subscriptionJSON+`],"has_more":false,"url":"/v1/subscriptions"}`)
	})

	sub, err := client.ActiveSubscription(t.Context(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)

	_, err = client.ActiveSubscription(t.Context(), "cus_empty")
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
}

func TestClient_FindCustomerByEmail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/customers", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("email") == "a@example.com" {
			io.WriteString(w, `{"object":"list","data":[{"id":"cus_42","object":"customer"}],"has_more":false,"url":"/v1/customers"}`)
			return
		}
		io.WriteString(w, `{"object":"list","data":[],"has_more":false,"url":"/v1/customers"}`)
	})

	id, err := client.FindCustomerByEmail(t.Context(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_42", id)

	_, err = client.FindCustomerByEmail(t.Context(), "b@example.com")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestClient_CreatePortalSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/billing_portal/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "https://clipbrd.test/dashboard", r.PostForm.Get("return_url"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"bps_1","object":"billing_portal.session","url":"https://billing.stripe.com/p/session/test"}`)
	})

	url, err := client.CreatePortalSession(t.Context(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session/test", url)
}

func TestClient_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"No such subscription"}}`)
	})

	_, err := client.GetSubscription(t.Context(), "sub_missing")
	assert.Error(t, err)
}
