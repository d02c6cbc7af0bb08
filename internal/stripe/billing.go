// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrNotConfigured        = errors.New("stripe api key not configured")
	ErrNoActiveSubscription = errors.New("no active subscription found")
	ErrCustomerNotFound     = errors.New("stripe customer not found")
)

// Client wraps the Stripe API calls the license server makes.
type Client struct {
	api       *client.API
	returnURL string
}

// NewClient builds a client for secretKey. backends may be nil to use the
// live Stripe API.
func NewClient(secretKey, portalReturnURL string, backends *stripelib.Backends) *Client {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return &Client{returnURL: portalReturnURL}
	}

	return &Client{
		api:       client.New(secretKey, backends),
		returnURL: portalReturnURL,
	}
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.api != nil
}

// GetSubscription retrieves a subscription by id.
func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	params := &stripelib.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}

	return fromStripeSubscription(sub), nil
}

// ActiveSubscription returns the customer's first active subscription.
func (c *Client) ActiveSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String(string(stripelib.SubscriptionStatusActive)),
	}
	params.Limit = stripelib.Int64(1)
	params.Context = ctx

	iter := c.api.Subscriptions.List(params)
	if iter.Next() {
		return fromStripeSubscription(iter.Subscription()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}

	return nil, ErrNoActiveSubscription
}

// FindCustomerByEmail returns the id of the first customer with email.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	params := &stripelib.CustomerListParams{
		Email: stripelib.String(email),
	}
	params.Limit = stripelib.Int64(1)
	params.Context = ctx

	iter := c.api.Customers.List(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("search customer by email: %w", err)
	}

	return "", ErrCustomerNotFound
}

// CreatePortalSession opens a billing portal session and returns its URL.
func (c *Client) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(c.returnURL),
	}
	params.Context = ctx

	session, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}

	log.Debug().Str("customerId", customerID).Msg("Created billing portal session")
	return session.URL, nil
}

func fromStripeSubscription(sub *stripelib.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.Customer = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			out.Items.Data = append(out.Items.Data, subscriptionItem{CurrentPeriodEnd: item.CurrentPeriodEnd})
		}
	}
	return out
}
