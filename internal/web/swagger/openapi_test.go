// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package swagger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOpenAPISpec(t *testing.T) {
	require.NotEmpty(t, openapiYAML, "OpenAPI spec is empty")

	var spec map[string]any
	require.NoError(t, yaml.Unmarshal(openapiYAML, &spec))

	assert.NotNil(t, spec["openapi"], "Missing 'openapi' field")
	assert.NotNil(t, spec["info"], "Missing 'info' field")

	paths, ok := spec["paths"].(map[string]any)
	require.True(t, ok, "'paths' is not a map")

	totalEndpoints := 0
	for _, pathItem := range paths {
		if methods, ok := pathItem.(map[string]any); ok {
			for method := range methods {
				if method == "get" || method == "post" || method == "put" || method == "delete" || method == "patch" {
					totalEndpoints++
				}
			}
		}
	}
	t.Logf("OpenAPI spec documents %d endpoints", totalEndpoints)

	components, ok := spec["components"].(map[string]any)
	require.True(t, ok, "Missing or invalid 'components' section")

	schemas, ok := components["schemas"].(map[string]any)
	require.True(t, ok, "Missing or invalid 'schemas' section")

	requiredSchemas := []string{
		"Error",
		"RateLimited",
		"VerifyResult",
		"License",
		"User",
		"Subscription",
		"Usage",
		"ReleaseInfo",
	}

	for _, schema := range requiredSchemas {
		assert.NotNil(t, schemas[schema], "Missing schema: %s", schema)
	}
}

// TestOpenAPISecuritySchemes validates that security schemes are properly defined
func TestOpenAPISecuritySchemes(t *testing.T) {
	var spec map[string]any
	require.NoError(t, yaml.Unmarshal(openapiYAML, &spec))

	components, ok := spec["components"].(map[string]any)
	require.True(t, ok, "Missing or invalid 'components' section")

	securitySchemes, ok := components["securitySchemes"].(map[string]any)
	require.True(t, ok, "Missing or invalid 'securitySchemes' section")

	for _, scheme := range []string{"ApiKeyAuth", "SessionAuth"} {
		assert.NotNil(t, securitySchemes[scheme], "Missing security scheme: %s", scheme)
	}
}

func TestHandler_ServeOpenAPISpec(t *testing.T) {
	h, err := NewHandler("/licensing/")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil)
	req.Host = "clipbrd.test"
	rec := httptest.NewRecorder()
	h.ServeOpenAPISpec(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	servers, ok := doc["servers"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, servers)
	first := servers[0].(map[string]any)
	assert.Equal(t, "http://clipbrd.test/licensing", first["url"])
}

func TestHandler_ServeSwaggerUI(t *testing.T) {
	h, err := NewHandler("")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeSwaggerUI(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `url: "/api/openapi.json"`)
	assert.NotContains(t, rec.Body.String(), "{{OPENAPI_URL}}")
}
