// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config represents the application configuration
type Config struct {
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	SessionSecret string `toml:"sessionSecret" mapstructure:"sessionSecret"`
	SecureCookies bool   `toml:"secureCookies" mapstructure:"secureCookies"`
	// EncryptionKey is the master secret every license cipher, signature and
	// lookup digest is derived from. Changing it invalidates all stored licenses.
	EncryptionKey         string          `toml:"encryptionKey" mapstructure:"encryptionKey"`
	LogLevel              string          `toml:"logLevel" mapstructure:"logLevel"`
	LogPath               string          `toml:"logPath" mapstructure:"logPath"`
	DataDir               string          `toml:"dataDir" mapstructure:"dataDir"`
	GenericVerifyMessages bool            `toml:"genericVerifyMessages" mapstructure:"genericVerifyMessages"`
	SweepInterval         string          `toml:"sweepInterval" mapstructure:"sweepInterval"`
	MetricsEnabled        bool            `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsToken          string          `toml:"metricsToken" mapstructure:"metricsToken"`
	Stripe                StripeConfig    `toml:"stripe" mapstructure:"stripe"`
	RateLimits            RateLimitConfig `toml:"rateLimits" mapstructure:"rateLimits"`
	Releases              ReleaseConfig   `toml:"releases" mapstructure:"releases"`
	HTTPTimeouts          HTTPTimeouts    `toml:"httpTimeouts" mapstructure:"httpTimeouts"`
}

// HTTPTimeouts represents HTTP server timeout configuration
type HTTPTimeouts struct {
	ReadTimeout  int `toml:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int `toml:"writeTimeout" mapstructure:"writeTimeout"` // seconds
	IdleTimeout  int `toml:"idleTimeout" mapstructure:"idleTimeout"`   // seconds
}

// StripeConfig holds the billing credentials. An empty SecretKey disables
// the portal routes; an empty WebhookSecret makes the webhook answer 503.
type StripeConfig struct {
	SecretKey       string `toml:"secretKey" mapstructure:"secretKey"`
	WebhookSecret   string `toml:"webhookSecret" mapstructure:"webhookSecret"`
	PortalReturnURL string `toml:"portalReturnUrl" mapstructure:"portalReturnUrl"`
}

// RateLimitConfig bounds license verification per presented key.
type RateLimitConfig struct {
	VerifyLimit    int    `toml:"verifyLimit" mapstructure:"verifyLimit"`
	FailedLimit    int    `toml:"failedLimit" mapstructure:"failedLimit"`
	Window         string `toml:"window" mapstructure:"window"`
	MaxTrackedKeys int64  `toml:"maxTrackedKeys" mapstructure:"maxTrackedKeys"`
}

// ReleaseConfig describes the desktop client versions served by the releases endpoint.
type ReleaseConfig struct {
	LatestVersion  string `toml:"latestVersion" mapstructure:"latestVersion"`
	MinimumVersion string `toml:"minimumVersion" mapstructure:"minimumVersion"`
	DownloadURL    string `toml:"downloadUrl" mapstructure:"downloadUrl"`
}
