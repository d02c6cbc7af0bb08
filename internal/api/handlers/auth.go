// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/auth"
	"github.com/clipbrd/clipbrd/internal/models"
)

type SessionService interface {
	Login(w http.ResponseWriter, r *http.Request, token string) (*auth.Session, error)
	Logout(w http.ResponseWriter, r *http.Request) error
}

type ProfileEnsurer interface {
	Ensure(ctx context.Context, userID, email string) (*models.Profile, error)
}

type AuthHandler struct {
	sessions SessionService
	profiles ProfileEnsurer
}

func NewAuthHandler(sessions SessionService, profiles ProfileEnsurer) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		profiles: profiles,
	}
}

// LoginRequest carries the handoff token minted after identity-provider sign-in.
type LoginRequest struct {
	Token string `json:"token" validate:"required"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Login handles POST /api/auth/session
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.sessions.Login(w, r, req.Token)
	if errors.Is(err, auth.ErrInvalidHandoff) {
		RespondError(w, http.StatusUnauthorized, "Invalid or expired login token")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to save session")
		RespondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	if _, err := h.profiles.Ensure(r.Context(), session.UserID, session.Email); err != nil {
		log.Error().Err(err).Str("userId", session.UserID).Msg("Failed to create profile")
		RespondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	log.Info().Str("userId", session.UserID).Msg("Dashboard login")
	RespondJSON(w, http.StatusOK, map[string]UserResponse{
		"user": {ID: session.UserID, Email: session.Email},
	})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(w, r); err != nil {
		log.Error().Err(err).Msg("Failed to clear session")
		RespondError(w, http.StatusInternalServerError, "Failed to logout")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionUser(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, UserResponse{ID: session.UserID, Email: session.Email})
}
