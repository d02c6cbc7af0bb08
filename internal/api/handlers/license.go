// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/ratelimit"
	"github.com/clipbrd/clipbrd/internal/services"
)

const (
	limiterVerify = "verify"
	limiterFailed = "failed"
	outcomeError  = "error"
)

type Verifier interface {
	Verify(ctx context.Context, presentedKey string) (*services.VerifyResult, error)
}

type RateLimiter interface {
	Allow(key string) ratelimit.Decision
	Check(key string) ratelimit.Decision
}

// VerifyObserver records verification outcomes, typically as metrics.
type VerifyObserver interface {
	ObserveVerify(outcome string)
	ObserveRateLimited(limiter string)
}

type LicenseHandler struct {
	verifier      Verifier
	verifyLimiter RateLimiter
	failedLimiter RateLimiter
	observer      VerifyObserver
}

// NewLicenseHandler wires the verification endpoint. Either limiter and the
// observer may be nil.
func NewLicenseHandler(verifier Verifier, verifyLimiter, failedLimiter RateLimiter, observer VerifyObserver) *LicenseHandler {
	return &LicenseHandler{
		verifier:      verifier,
		verifyLimiter: verifyLimiter,
		failedLimiter: failedLimiter,
		observer:      observer,
	}
}

type VerifyLicenseRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,max=256"`
}

type VerifyLicenseResponse struct {
	IsValid   bool       `json:"is_valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Message   string     `json:"message"`
}

type rateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// Verify handles POST /api/license/verify
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyLicenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if isValidationError(err) {
			RespondError(w, http.StatusBadRequest, "License key is required")
			return
		}
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if h.failedLimiter != nil {
		if decision := h.failedLimiter.Check(req.LicenseKey); !decision.Allowed {
			h.rateLimited(w, limiterFailed, decision, "Too many failed attempts. Please try again later.")
			return
		}
	}

	var quota *ratelimit.Decision
	if h.verifyLimiter != nil {
		decision := h.verifyLimiter.Allow(req.LicenseKey)
		if !decision.Allowed {
			h.rateLimited(w, limiterVerify, decision, rateLimitMessage(decision))
			return
		}
		quota = &decision
	}

	result, err := h.verifier.Verify(r.Context(), req.LicenseKey)
	if err != nil {
		h.observe(outcomeError)
		if errors.Is(err, services.ErrInvalidInput) {
			RespondError(w, http.StatusBadRequest, "License key is required")
			return
		}
		log.Error().Err(err).Bool("retryable", services.IsRetryable(err)).Msg("License verification failed")
		RespondError(w, http.StatusInternalServerError, "Error verifying license")
		return
	}
	h.observe(string(result.Outcome))

	if !result.IsValid && h.failedLimiter != nil {
		if decision := h.failedLimiter.Allow(req.LicenseKey); !decision.Allowed {
			h.rateLimited(w, limiterFailed, decision, "Too many failed attempts. Please try again later.")
			return
		}
	}

	if quota != nil {
		setRateLimitHeaders(w, *quota)
	}

	RespondJSON(w, http.StatusOK, VerifyLicenseResponse{
		IsValid:   result.IsValid,
		ExpiresAt: result.ExpiresAt,
		Message:   result.Message,
	})
}

func (h *LicenseHandler) observe(outcome string) {
	if h.observer != nil {
		h.observer.ObserveVerify(outcome)
	}
}

func (h *LicenseHandler) rateLimited(w http.ResponseWriter, limiter string, decision ratelimit.Decision, message string) {
	if h.observer != nil {
		h.observer.ObserveRateLimited(limiter)
	}

	retryAfter := decision.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	setRateLimitHeaders(w, decision)

	RespondJSON(w, http.StatusTooManyRequests, rateLimitedResponse{
		Error:      message,
		RetryAfter: retryAfter,
	})
}

func setRateLimitHeaders(w http.ResponseWriter, decision ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
}

func rateLimitMessage(decision ratelimit.Decision) string {
	minutes := (decision.RetryAfterSeconds() + 59) / 60
	return fmt.Sprintf("Rate limit exceeded. Try again in %d minutes.", minutes)
}
