// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/clipbrd/clipbrd/internal/domain"
	"github.com/clipbrd/clipbrd/internal/security"
)

const (
	envPrefix      = "CLIPBRD__"
	appName        = "clipbrd"
	configFileName = "config.toml"
	databaseName   = "clipbrd.db"
	// 32 random bytes, hex encoded
	secretTokenBytes = 32
)

type AppConfig struct {
	Config    *domain.Config
	viper     *viper.Viper
	configDir string

	mu   sync.Mutex
	keys []string
}

// New loads configuration from configDirOrPath, which may be a directory
// holding config.toml or the path of a TOML file. Environment variables
// prefixed with CLIPBRD__ override file values.
func New(configDirOrPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &domain.Config{},
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.setDefault("host", "localhost")
	c.setDefault("port", 7480)
	c.setDefault("baseUrl", "/")
	c.setDefault("sessionSecret", "")
	c.setDefault("secureCookies", false)
	c.setDefault("encryptionKey", "")
	c.setDefault("logLevel", "INFO")
	c.setDefault("logPath", "")
	c.setDefault("dataDir", "")
	c.setDefault("genericVerifyMessages", false)
	c.setDefault("sweepInterval", "1h")
	c.setDefault("metricsEnabled", true)
	c.setDefault("metricsToken", "")

	c.setDefault("stripe.secretKey", "")
	c.setDefault("stripe.webhookSecret", "")
	c.setDefault("stripe.portalReturnUrl", "")

	c.setDefault("rateLimits.verifyLimit", 360)
	c.setDefault("rateLimits.failedLimit", 10)
	c.setDefault("rateLimits.window", "1h")
	c.setDefault("rateLimits.maxTrackedKeys", 100000)

	c.setDefault("releases.latestVersion", "1.0.0")
	c.setDefault("releases.minimumVersion", "1.0.0")
	c.setDefault("releases.downloadUrl", "")

	c.setDefault("httpTimeouts.readTimeout", 60)
	c.setDefault("httpTimeouts.writeTimeout", 120)
	c.setDefault("httpTimeouts.idleTimeout", 180)
}

func (c *AppConfig) setDefault(key string, value any) {
	c.viper.SetDefault(key, value)
	c.keys = append(c.keys, key)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.configDir = filepath.Dir(configPath)
		c.viper.SetConfigFile(configPath)
	} else {
		c.configDir = GetDefaultConfigDir()
		c.viper.SetConfigFile(filepath.Join(c.configDir, configFileName))
	}

	c.bindEnv()

	if err := c.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		log.Warn().Str("path", c.viper.ConfigFileUsed()).Msg("Config file not found, using defaults and environment")
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// bindEnv maps every known key to a CLIPBRD__UPPER_SNAKE variable, for
// example rateLimits.verifyLimit to CLIPBRD__RATE_LIMITS__VERIFY_LIMIT.
func (c *AppConfig) bindEnv() {
	for _, key := range c.keys {
		if err := c.viper.BindEnv(key, envPrefix+envName(key)); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to bind environment variable")
		}
	}
}

func envName(key string) string {
	var b strings.Builder
	for i, part := range strings.Split(key, ".") {
		if i > 0 {
			b.WriteString("__")
		}
		for j, r := range part {
			if r >= 'A' && r <= 'Z' && j > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// resolveConfigPath accepts either a config file or a directory.
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, configFileName)
}

func (c *AppConfig) watchConfig() {
	if _, err := os.Stat(c.viper.ConfigFileUsed()); err != nil {
		return
	}

	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		log.Info().Str("file", e.Name).Msg("Config file changed")

		// Only the log level is applied live; everything else needs a restart.
		c.mu.Lock()
		defer c.mu.Unlock()
		if newLevel := c.viper.GetString("logLevel"); newLevel != c.Config.LogLevel {
			c.Config.LogLevel = newLevel
			c.applyLogLevel()
		}
	})
	c.viper.WatchConfig()
}

// ApplyLogConfig configures the global zerolog logger from the loaded config.
func (c *AppConfig) ApplyLogConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if c.Config.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.Config.LogPath), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(c.Config.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writer = zerolog.MultiLevelWriter(writer, f)
	}

	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	c.applyLogLevel()
	return nil
}

func (c *AppConfig) applyLogLevel() {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Config.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("logLevel", c.Config.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Info().Str("level", level.String()).Msg("Log level set")
}

// GetDatabasePath returns dataDir/clipbrd.db, defaulting dataDir to the
// config directory.
func (c *AppConfig) GetDatabasePath() string {
	dataDir := c.Config.DataDir
	if dataDir == "" {
		dataDir = c.configDir
	}
	return filepath.Join(dataDir, databaseName)
}

func (c *AppConfig) ConfigDir() string {
	return c.configDir
}

// SweepInterval returns the parsed sweepInterval. Zero disables sweeps.
func (c *AppConfig) SweepInterval() (time.Duration, error) {
	if strings.TrimSpace(c.Config.SweepInterval) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Config.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid sweepInterval %q: %w", c.Config.SweepInterval, err)
	}
	return d, nil
}

// RateLimitWindow returns the parsed rateLimits.window.
func (c *AppConfig) RateLimitWindow() (time.Duration, error) {
	d, err := time.ParseDuration(c.Config.RateLimits.Window)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid rateLimits.window %q", c.Config.RateLimits.Window)
	}
	return d, nil
}

// GetDefaultConfigDir returns the OS specific config directory.
func GetDefaultConfigDir() string {
	// Docker images mount /config as XDG_CONFIG_HOME.
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, appName)
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", appName)
}

var defaultConfigTemplate = template.Must(template.New("config").Parse(`# config.toml - clipbrd license server

# Hostname / IP
# Default: "localhost"
host = "{{ .Host }}"

# Port
# Default: 7480
port = 7480

# Base URL
# Set a custom baseUrl to serve behind a reverse proxy path
# Default: "/"
#baseUrl = "/"

# Session secret
# Signs dashboard session cookies and login handoff tokens
sessionSecret = "{{ .SessionSecret }}"

# Set true when served over HTTPS
#secureCookies = false

# License master secret
# Every license signature and envelope is derived from this value.
# Changing it invalidates all issued licenses.
encryptionKey = "{{ .EncryptionKey }}"

# Data directory holding clipbrd.db
# Default: next to this config file
#dataDir = ""

# Log file path
# If not defined, logs to stdout
#logPath = "log/clipbrd.log"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Answer every failed verification with "Invalid license key"
#genericVerifyMessages = false

# How often malformed licenses are repaired and duplicates revoked. "0s" disables.
#sweepInterval = "1h"

# Expose /metrics
#metricsEnabled = true

# Bearer token scrapers must send to /metrics. Empty leaves it open.
#metricsToken = ""

[stripe]
#secretKey = "sk_live_..."
#webhookSecret = "whsec_..."
#portalReturnUrl = "https://clipbrdapp.com/dashboard"

[rateLimits]
# Verifications per license key per window
#verifyLimit = 360
# Failed verifications per license key per window
#failedLimit = 10
#window = "1h"
#maxTrackedKeys = 100000

[releases]
#latestVersion = "1.0.0"
#minimumVersion = "1.0.0"
#downloadUrl = ""

[httpTimeouts]
# Seconds
#readTimeout = 60
#writeTimeout = 120
#idleTimeout = 180
`))

// WriteDefaultConfig writes a commented config with freshly generated
// secrets. An existing file is left untouched.
func WriteDefaultConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		log.Info().Str("path", configPath).Msg("Config file already exists, skipping")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	sessionSecret, err := security.SecureToken(secretTokenBytes)
	if err != nil {
		return fmt.Errorf("failed to generate session secret: %w", err)
	}
	encryptionKey, err := security.SecureToken(secretTokenBytes)
	if err != nil {
		return fmt.Errorf("failed to generate encryption key: %w", err)
	}

	host := "localhost"
	if _, err := os.Stat("/.dockerenv"); err == nil {
		host = "0.0.0.0"
	}

	var buf bytes.Buffer
	if err := defaultConfigTemplate.Execute(&buf, struct {
		Host          string
		SessionSecret string
		EncryptionKey string
	}{host, sessionSecret, encryptionKey}); err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	if err := os.WriteFile(configPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	log.Info().Str("path", configPath).Msg("Created default config file")
	return nil
}
