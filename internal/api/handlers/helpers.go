// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/clipbrd/clipbrd/internal/auth"
)

const maxRequestBody = 64 * 1024

var validate = validator.New(validator.WithRequiredStructEnabled())

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
	})
}

var errEmptyBody = errors.New("empty request body")

// decodeJSON reads a bounded JSON body into dst and runs struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return validate.Struct(dst)
}

func isValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

// sessionUser returns the dashboard session placed in the context by
// RequireSession. Handlers behind that middleware can rely on it.
func sessionUser(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok || session.UserID == "" {
		RespondError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return session, true
}

func queryInt(r *http.Request, name string, fallback, lo, hi int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return min(max(v, lo), hi)
}
