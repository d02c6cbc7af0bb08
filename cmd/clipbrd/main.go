// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/clipbrd/clipbrd/internal/api"
	"github.com/clipbrd/clipbrd/internal/auth"
	"github.com/clipbrd/clipbrd/internal/config"
	"github.com/clipbrd/clipbrd/internal/database"
	"github.com/clipbrd/clipbrd/internal/metrics"
	"github.com/clipbrd/clipbrd/internal/models"
	"github.com/clipbrd/clipbrd/internal/ratelimit"
	"github.com/clipbrd/clipbrd/internal/security"
	"github.com/clipbrd/clipbrd/internal/services"
	"github.com/clipbrd/clipbrd/internal/stripe"
	"github.com/clipbrd/clipbrd/internal/web/swagger"
)

var Version = "dev"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "clipbrd",
		Short: "License server for the clipbrd desktop client",
		Long: `clipbrd - issues, verifies and reconciles licenses for the clipbrd
desktop client and keeps them in step with Stripe subscriptions.`,
	}

	// Initialize logger
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.Version = Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunCreateClientKeyCommand())
	rootCmd.AddCommand(RunListClientKeysCommand())
	rootCmd.AddCommand(RunDeleteClientKeyCommand())
	rootCmd.AddCommand(RunCreateLoginTokenCommand())
	rootCmd.AddCommand(RunRepairLicensesCommand())
	rootCmd.AddCommand(RunSweepDuplicatesCommand())
	rootCmd.AddCommand(RunCheckLicenseCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/clipbrd/ or %APPDATA%\\clipbrd\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stderr only)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on localhost:6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(Version, configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of clipbrd",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.
Fresh session and encryption secrets are generated for the new file.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/clipbrd/config.toml
- Windows: %APPDATA%\clipbrd\config.toml

You can specify either a directory path or a direct file path:
- Directory: clipbrd generate-config --config-dir /path/to/config/
- File: clipbrd generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := resolveConfigFile(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func resolveConfigFile(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}

type Application struct {
	version   string
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(version, configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		version:   version,
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	log.Info().Str("version", app.version).Msg("Starting clipbrd")

	cfg, err := config.New(app.configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		cfg.Config.DataDir = app.dataDir
	}
	if app.logPath != "" {
		cfg.Config.LogPath = app.logPath
	}

	if err := cfg.ApplyLogConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure logging")
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	suite, err := security.NewSuite(cfg.Config.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize license cryptography, set encryptionKey")
	}

	authService, err := auth.NewService(cfg.Config.SessionSecret, cfg.Config.SecureCookies)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sessions, set sessionSecret")
	}

	// Initialize stores
	licenseStore := models.NewLicenseStore(db.Conn())
	usageStore := models.NewLicenseUsageStore(db.Conn())
	profileStore := models.NewProfileStore(db.Conn())
	clientAPIKeyStore := models.NewClientAPIKeyStore(db.Conn())

	// Initialize services
	issuer := services.NewLicenseIssuer(licenseStore, suite)
	verifier := services.NewLicenseVerifier(licenseStore, usageStore, suite, services.VerifierOptions{
		GenericMessages: cfg.Config.GenericVerifyMessages,
	})
	reconciler := services.NewReconciler(licenseStore, profileStore, issuer)

	releases, err := services.NewReleaseService(
		cfg.Config.Releases.LatestVersion,
		cfg.Config.Releases.MinimumVersion,
		cfg.Config.Releases.DownloadURL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize release information")
	}

	window, err := cfg.RateLimitWindow()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid rate limit configuration")
	}
	verifyLimiter, err := ratelimit.New(ratelimit.Policy{Limit: cfg.Config.RateLimits.VerifyLimit, Window: window}, cfg.Config.RateLimits.MaxTrackedKeys)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize verify rate limiter")
	}
	defer verifyLimiter.Close()
	failedLimiter, err := ratelimit.New(ratelimit.Policy{Limit: cfg.Config.RateLimits.FailedLimit, Window: window}, cfg.Config.RateLimits.MaxTrackedKeys)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize failed-attempt rate limiter")
	}
	defer failedLimiter.Close()

	var metricsManager *metrics.Manager
	if cfg.Config.MetricsEnabled {
		metricsManager = metrics.NewManager(licenseStore)
		log.Info().Msg("Prometheus metrics enabled at /metrics endpoint")
	}

	billing := stripe.NewClient(cfg.Config.Stripe.SecretKey, cfg.Config.Stripe.PortalReturnURL, nil)
	if !billing.IsConfigured() {
		log.Warn().Msg("No Stripe secret key configured - billing portal routes will answer 503")
	}

	var webhookObserver stripe.WebhookObserver
	if metricsManager != nil {
		webhookObserver = metricsManager
	}
	webhook := stripe.NewWebhookHandler(cfg.Config.Stripe.WebhookSecret, reconciler, billing, profileStore, webhookObserver)

	swaggerHandler, err := swagger.NewHandler(cfg.Config.BaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize API docs")
	}

	deps := &api.Dependencies{
		Config:            cfg,
		DB:                db,
		AuthService:       authService,
		ClientAPIKeyStore: clientAPIKeyStore,
		LicenseStore:      licenseStore,
		UsageStore:        usageStore,
		ProfileStore:      profileStore,
		Verifier:          verifier,
		Reconciler:        reconciler,
		Releases:          releases,
		Billing:           billing,
		Webhook:           webhook,
		VerifyLimiter:     verifyLimiter,
		FailedLimiter:     failedLimiter,
		MetricsManager:    metricsManager,
		Swagger:           swaggerHandler,
	}

	router := api.NewRouter(deps)

	readTimeout := time.Duration(cfg.Config.HTTPTimeouts.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.Config.HTTPTimeouts.WriteTimeout) * time.Second
	idleTimeout := time.Duration(cfg.Config.HTTPTimeouts.IdleTimeout) * time.Second

	// Use defaults if not configured
	if readTimeout == 0 {
		readTimeout = 60 * time.Second
	}
	if writeTimeout == 0 {
		writeTimeout = 120 * time.Second
	}
	if idleTimeout == 0 {
		idleTimeout = 180 * time.Second
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Config.Host, cfg.Config.Port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sweepInterval, err := cfg.SweepInterval()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sweep configuration")
	}
	if sweepInterval > 0 {
		go runMaintenance(ctx, reconciler, sweepInterval)
	}

	go func() {
		log.Info().
			Str("address", srv.Addr).
			Dur("readTimeout", readTimeout).
			Dur("writeTimeout", writeTimeout).
			Dur("idleTimeout", idleTimeout).
			Msg("Starting HTTP server")
		if cfg.Config.BaseURL != "" && cfg.Config.BaseURL != "/" {
			log.Info().Str("baseURL", cfg.Config.BaseURL).Msg("Serving under base URL")
		}

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	if app.pprofFlag {
		go func() {
			log.Info().Msg("Starting pprof server on localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// LicenseMaintainer is the part of the reconciler the background sweep uses.
type LicenseMaintainer interface {
	RepairMalformed(ctx context.Context) (int, error)
	SweepDuplicates(ctx context.Context) (int, error)
}

// runMaintenance repairs malformed licenses and revokes duplicates once at
// startup and then every interval until ctx is done.
func runMaintenance(ctx context.Context, maintainer LicenseMaintainer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runMaintenancePass(ctx, maintainer)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runMaintenancePass(ctx context.Context, maintainer LicenseMaintainer) {
	passCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if _, err := maintainer.RepairMalformed(passCtx); err != nil {
		log.Error().Err(err).Msg("Failed to repair malformed licenses")
	}
	if _, err := maintainer.SweepDuplicates(passCtx); err != nil {
		log.Error().Err(err).Msg("Failed to sweep duplicate licenses")
	}
}
