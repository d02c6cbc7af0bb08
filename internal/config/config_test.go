// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestDataDirConfiguration(t *testing.T) {
	tests := []struct {
		name           string
		configContent  string
		envVar         string
		expectedInPath string
	}{
		{
			name: "default_next_to_config",
			configContent: `
host = "localhost"
port = 8080
sessionSecret = "test-secret"`,
			expectedInPath: "clipbrd.db",
		},
		{
			name: "explicit_in_config",
			configContent: `
host = "localhost"
port = 8080
sessionSecret = "test-secret"
dataDir = "/custom/path"`,
			expectedInPath: filepath.ToSlash("/custom/path/clipbrd.db"),
		},
		{
			name: "env_var_override",
			configContent: `
host = "localhost"
port = 8080
sessionSecret = "test-secret"
dataDir = "/config/path"`,
			envVar:         "/env/override",
			expectedInPath: filepath.ToSlash("/env/override/clipbrd.db"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, t.TempDir(), tt.configContent)

			if tt.envVar != "" {
				t.Setenv(envPrefix+"DATA_DIR", tt.envVar)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)

			dbPath := filepath.ToSlash(cfg.GetDatabasePath())
			assert.Contains(t, dbPath, tt.expectedInPath)
		})
	}
}

func TestDataDirDefaultsToConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, `
host = "localhost"
port = 8080`)

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "clipbrd.db"), cfg.GetDatabasePath())
}

func TestDefaults(t *testing.T) {
	cfg, err := New(writeConfig(t, t.TempDir(), `sessionSecret = "s"`))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Config.Host)
	assert.Equal(t, 7480, cfg.Config.Port)
	assert.Equal(t, "INFO", cfg.Config.LogLevel)
	assert.Equal(t, 360, cfg.Config.RateLimits.VerifyLimit)
	assert.Equal(t, 10, cfg.Config.RateLimits.FailedLimit)
	assert.Equal(t, int64(100000), cfg.Config.RateLimits.MaxTrackedKeys)
	assert.Equal(t, 60, cfg.Config.HTTPTimeouts.ReadTimeout)
	assert.False(t, cfg.Config.GenericVerifyMessages)
	assert.True(t, cfg.Config.MetricsEnabled)

	window, err := cfg.RateLimitWindow()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, window)

	sweep, err := cfg.SweepInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, sweep)
}

func TestEnvironmentVariablePrecedence(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), `
host = "localhost"
port = 8080
encryptionKey = "from-file"

[stripe]
webhookSecret = "whsec_file"

[rateLimits]
verifyLimit = 100`)

	t.Setenv(envPrefix+"ENCRYPTION_KEY", "from-env")
	t.Setenv(envPrefix+"STRIPE__WEBHOOK_SECRET", "whsec_env")
	t.Setenv(envPrefix+"RATE_LIMITS__VERIFY_LIMIT", "42")
	t.Setenv(envPrefix+"GENERIC_VERIFY_MESSAGES", "true")

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Config.EncryptionKey)
	assert.Equal(t, "whsec_env", cfg.Config.Stripe.WebhookSecret)
	assert.Equal(t, 42, cfg.Config.RateLimits.VerifyLimit)
	assert.True(t, cfg.Config.GenericVerifyMessages)
	assert.Equal(t, 8080, cfg.Config.Port)
}

func TestEnvName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{key: "host", want: "HOST"},
		{key: "dataDir", want: "DATA_DIR"},
		{key: "stripe.secretKey", want: "STRIPE__SECRET_KEY"},
		{key: "httpTimeouts.readTimeout", want: "HTTP_TIMEOUTS__READ_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, envName(tt.key))
		})
	}
}

func TestInvalidDurations(t *testing.T) {
	cfg, err := New(writeConfig(t, t.TempDir(), `
sweepInterval = "often"

[rateLimits]
window = "0s"`))
	require.NoError(t, err)

	_, err = cfg.SweepInterval()
	assert.Error(t, err)

	_, err = cfg.RateLimitWindow()
	assert.Error(t, err)
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	cfg, err := New(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 7480, cfg.Config.Port)
}

func TestConfigDirResolution(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		setupFile      bool
		fileIsDir      bool
		expectedSuffix string
	}{
		{
			name:           "toml_file_extension",
			input:          "/path/to/custom.toml",
			expectedSuffix: "custom.toml",
		},
		{
			name:           "TOML_file_extension_uppercase",
			input:          "/path/to/CONFIG.TOML",
			expectedSuffix: "CONFIG.TOML",
		},
		{
			name:           "directory_path",
			input:          "/path/to/config",
			expectedSuffix: "config.toml",
		},
		{
			name:           "existing_file_without_toml",
			input:          "/path/to/configfile",
			setupFile:      true,
			fileIsDir:      false,
			expectedSuffix: "configfile",
		},
		{
			name:           "existing_directory",
			input:          "/path/to/configdir",
			setupFile:      true,
			fileIsDir:      true,
			expectedSuffix: "config.toml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			inputPath := filepath.Join(tmpDir, filepath.Base(tt.input))

			if tt.setupFile {
				if tt.fileIsDir {
					require.NoError(t, os.MkdirAll(inputPath, 0755))
				} else {
					require.NoError(t, os.WriteFile(inputPath, []byte("test"), 0644))
				}
			}

			c := &AppConfig{}
			result := c.resolveConfigPath(inputPath)
			assert.True(t, strings.HasSuffix(result, tt.expectedSuffix),
				"Expected result %s to end with %s", result, tt.expectedSuffix)
		})
	}
}

func TestConfigDirBehavior(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.MkdirAll(configDir, 0755))

	writeConfig(t, configDir, `
host = "0.0.0.0"
port = 9090
sessionSecret = "dir-test-secret"`)

	cfg, err := New(configDir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Config.Host)
	assert.Equal(t, 9090, cfg.Config.Port)
	assert.Equal(t, configDir, cfg.ConfigDir())
	assert.Equal(t, filepath.Join(configDir, "clipbrd.db"), cfg.GetDatabasePath())
}
