// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package licenseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

const (
	requestTimeout = 15 * time.Second
	verifyPath     = "/api/license/verify"
	maxAttempts    = 3
)

var (
	ErrNotConfigured = errors.New("license client not configured")
	ErrUnauthorized  = errors.New("client api key rejected")
)

// RateLimitError is returned when the server answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
}

// StatusError is any other non-2xx answer.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("license server returned %d: %s", e.StatusCode, e.Message)
}

// Client verifies license keys against a clipbrd license server the same
// way the desktop client does.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	retryDelay time.Duration
}

// LicenseInfo is the server's verdict on a key.
type LicenseInfo struct {
	Key       string     `json:"-"`
	Valid     bool       `json:"is_valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Message   string     `json:"message"`
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		retryDelay: 500 * time.Millisecond,
	}
}

func (c *Client) IsClientConfigured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Verify asks the server about licenseKey. Network failures and 5xx answers
// are retried; a negative verdict is a result, not an error.
func (c *Client) Verify(ctx context.Context, licenseKey string) (*LicenseInfo, error) {
	if !c.IsClientConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(map[string]string{"licenseKey": licenseKey})
	if err != nil {
		return nil, err
	}

	var info *LicenseInfo
	err = retry.Do(
		func() error {
			var err error
			info, err = c.verifyOnce(ctx, body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("licenseKey", maskLicenseKey(licenseKey)).Msg("Retrying license verification")
		}),
	)
	if err != nil {
		return nil, err
	}

	info.Key = licenseKey
	return info, nil
}

func (c *Client) verifyOnce(ctx context.Context, body []byte) (*LicenseInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var info LicenseInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("failed to decode verification response: %w", err)
		}
		return &info, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			Message:    errorMessage(raw),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	var rateLimited *RateLimitError
	if errors.As(err, &rateLimited) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode >= http.StatusInternalServerError
	}
	return true
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// maskLicenseKey masks a license key for logging (shows first 8 chars + ***)
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}
