// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package swagger

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiYAML []byte

//go:embed index.html
var swaggerHTML string

type Handler struct {
	spec    map[string]any
	baseURL string
}

func NewHandler(baseURL string) (*Handler, error) {
	var spec map[string]any
	if err := yaml.Unmarshal(openapiYAML, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse embedded openapi spec: %w", err)
	}

	// Ensure baseURL doesn't have trailing slash
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Handler{
		spec:    spec,
		baseURL: baseURL,
	}, nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/docs", h.ServeSwaggerUI)
	r.Get("/api/openapi.json", h.ServeOpenAPISpec)
}

func (h *Handler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	// Replace URLs in the HTML with base URL aware paths
	openAPIPath := h.baseURL + "/api/openapi.json"
	html := strings.ReplaceAll(swaggerHTML, "{{OPENAPI_URL}}", openAPIPath)

	w.Write([]byte(html))
}

// GetOpenAPISpec returns the embedded YAML document.
func GetOpenAPISpec() ([]byte, error) {
	if len(openapiYAML) == 0 {
		return nil, errors.New("openapi spec not embedded")
	}
	return openapiYAML, nil
}

func (h *Handler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// Copy the document before rewriting servers
	spec := make(map[string]any, len(h.spec))
	for k, v := range h.spec {
		spec[k] = v
	}

	if h.baseURL != "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		host := r.Host

		servers := []map[string]any{
			{
				"url":         scheme + "://" + host + h.baseURL,
				"description": "Current server with base URL",
			},
		}

		// Keep existing servers as fallback
		if existingServers, ok := spec["servers"].([]any); ok {
			for _, s := range existingServers {
				if server, ok := s.(map[string]any); ok {
					servers = append(servers, server)
				}
			}
		}

		spec["servers"] = servers
	}

	if err := json.NewEncoder(w).Encode(spec); err != nil {
		log.Error().Err(err).Msg("Failed to encode openapi spec")
	}
}
