// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/clipbrd/clipbrd/internal/services"
)

type ReleaseChecker interface {
	Check(current string) (*services.ReleaseInfo, error)
}

type ReleasesHandler struct {
	releases ReleaseChecker
}

func NewReleasesHandler(releases ReleaseChecker) *ReleasesHandler {
	return &ReleasesHandler{releases: releases}
}

// Latest handles GET /api/releases/latest?current=<semver>
func (h *ReleasesHandler) Latest(w http.ResponseWriter, r *http.Request) {
	info, err := h.releases.Check(strings.TrimSpace(r.URL.Query().Get("current")))
	if errors.Is(err, services.ErrInvalidInput) {
		RespondError(w, http.StatusBadRequest, "Invalid version")
		return
	}
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to check releases")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	RespondJSON(w, http.StatusOK, info)
}
