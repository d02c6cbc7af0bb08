// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/auth"
	"github.com/clipbrd/clipbrd/internal/models"
)

type SessionReader interface {
	Current(r *http.Request) (*auth.Session, error)
}

// RequireSession rejects requests without a dashboard session and puts the
// session into the request context.
func RequireSession(sessions SessionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := sessions.Current(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
		})
	}
}

type ClientKeyStore interface {
	ValidateKey(ctx context.Context, rawKey string) (*models.ClientAPIKey, error)
	UpdateLastUsed(ctx context.Context, keyHash string) error
}

// ClientAPIKey validates the X-API-Key header sent by desktop clients.
func ClientAPIKey(store ClientKeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				log.Debug().Msg("Missing API key in verification request")
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}

			ctx := r.Context()
			clientAPIKey, err := store.ValidateKey(ctx, apiKey)
			if err != nil {
				if errors.Is(err, models.ErrClientAPIKeyNotFound) {
					log.Warn().
						Str("key_prefix", apiKey[:min(8, len(apiKey))]).
						Msg("Invalid client API key")
					writeError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				log.Error().Err(err).Msg("Failed to validate client API key")
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			// Update last used timestamp asynchronously to avoid slowing down the request
			go func() {
				if err := store.UpdateLastUsed(context.Background(), clientAPIKey.KeyHash); err != nil {
					log.Error().Err(err).Int("keyId", clientAPIKey.ID).Msg("Failed to update API key last used timestamp")
				}
			}()

			log.Debug().
				Str("client", clientAPIKey.ClientName).
				Str("path", r.URL.Path).
				Msg("Client API key validated successfully")

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
