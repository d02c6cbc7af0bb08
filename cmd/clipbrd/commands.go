// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/clipbrd/clipbrd/internal/auth"
	"github.com/clipbrd/clipbrd/internal/config"
	"github.com/clipbrd/clipbrd/internal/database"
	"github.com/clipbrd/clipbrd/internal/licenseclient"
	"github.com/clipbrd/clipbrd/internal/models"
	"github.com/clipbrd/clipbrd/internal/security"
	"github.com/clipbrd/clipbrd/internal/services"
)

const storeFlagsHelp = `If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/clipbrd/config.toml
- Windows: %APPDATA%\clipbrd\config.toml`

// storeFlags are shared by every command that opens the database.
type storeFlags struct {
	configDir string
	dataDir   string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
}

func (f *storeFlags) open() (*config.AppConfig, *database.DB, error) {
	cfg, err := config.New(f.configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if f.dataDir != "" {
		cfg.Config.DataDir = f.dataDir
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return cfg, db, nil
}

// openReconciler builds the license services the maintenance commands share.
func (f *storeFlags) openReconciler() (*services.Reconciler, *database.DB, error) {
	cfg, db, err := f.open()
	if err != nil {
		return nil, nil, err
	}

	suite, err := security.NewSuite(cfg.Config.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize license cryptography: %w", err)
	}

	licenses := models.NewLicenseStore(db.Conn())
	issuer := services.NewLicenseIssuer(licenses, suite)
	return services.NewReconciler(licenses, models.NewProfileStore(db.Conn()), issuer), db, nil
}

func RunCreateClientKeyCommand() *cobra.Command {
	var (
		flags storeFlags
		name  string
	)

	command := &cobra.Command{
		Use:   "create-client-key",
		Short: "Create an API key for a desktop client build",
		Long: `Create an API key the desktop client sends as X-API-Key when verifying
licenses. The key is printed once and cannot be recovered afterwards.

` + storeFlagsHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return errors.New("client name cannot be empty")
			}

			_, db, err := flags.open()
			if err != nil {
				return err
			}
			defer db.Close()

			rawKey, key, err := models.NewClientAPIKeyStore(db.Conn()).Create(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("failed to create client api key: %w", err)
			}

			// Piped output carries only the key so scripts can capture it.
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				cmd.Println(rawKey)
				return nil
			}

			cmd.Printf("Client API key '%s' created with ID: %d\n", key.ClientName, key.ID)
			cmd.Printf("Key: %s\n", rawKey)
			cmd.Println("Store it now, it will not be shown again.")
			return nil
		},
	}

	flags.register(command)
	command.Flags().StringVar(&name, "name", "", "name of the client build the key is for")

	return command
}

func RunListClientKeysCommand() *cobra.Command {
	var flags storeFlags

	command := &cobra.Command{
		Use:   "list-client-keys",
		Short: "List desktop client API keys",
		Long:  "List desktop client API keys.\n\n" + storeFlagsHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := flags.open()
			if err != nil {
				return err
			}
			defer db.Close()

			keys, err := models.NewClientAPIKeyStore(db.Conn()).GetAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list client api keys: %w", err)
			}

			if len(keys) == 0 {
				cmd.Println("No client API keys found.")
				return nil
			}

			for _, key := range keys {
				lastUsed := "never"
				if key.LastUsedAt != nil {
					lastUsed = key.LastUsedAt.UTC().Format(time.RFC3339)
				}
				cmd.Printf("%d\t%s\tcreated %s\tlast used %s\n",
					key.ID, key.ClientName, key.CreatedAt.UTC().Format(time.RFC3339), lastUsed)
			}
			return nil
		},
	}

	flags.register(command)

	return command
}

func RunDeleteClientKeyCommand() *cobra.Command {
	var (
		flags storeFlags
		id    int
	)

	command := &cobra.Command{
		Use:   "delete-client-key",
		Short: "Delete a desktop client API key",
		Long:  "Delete a desktop client API key by ID. Clients using it stop verifying immediately.\n\n" + storeFlagsHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return errors.New("--id is required")
			}

			_, db, err := flags.open()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := models.NewClientAPIKeyStore(db.Conn()).Delete(cmd.Context(), id); err != nil {
				if errors.Is(err, models.ErrClientAPIKeyNotFound) {
					return fmt.Errorf("client api key %d not found", id)
				}
				return fmt.Errorf("failed to delete client api key: %w", err)
			}

			cmd.Printf("Client API key %d deleted\n", id)
			return nil
		},
	}

	flags.register(command)
	command.Flags().IntVar(&id, "id", 0, "ID of the key to delete (see list-client-keys)")

	return command
}

func RunCreateLoginTokenCommand() *cobra.Command {
	var (
		configDir string
		userID    string
		email     string
	)

	command := &cobra.Command{
		Use:   "create-login-token",
		Short: "Create a short-lived dashboard login token",
		Long: `Create a login token for a user. The identity provider in front of the
dashboard hands it to POST /api/auth/session, which exchanges it for a session
cookie. Tokens expire after five minutes.

` + storeFlagsHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				return errors.New("--user-id is required")
			}

			cfg, err := config.New(configDir)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			authService, err := auth.NewService(cfg.Config.SessionSecret, cfg.Config.SecureCookies)
			if err != nil {
				return fmt.Errorf("failed to initialize sessions: %w", err)
			}

			token, err := authService.IssueHandoffToken(userID, strings.TrimSpace(email))
			if err != nil {
				return fmt.Errorf("failed to create login token: %w", err)
			}

			cmd.Println(token)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&userID, "user-id", "", "user id the token signs in as")
	command.Flags().StringVar(&email, "email", "", "email address shown on the dashboard")

	return command
}

func RunRepairLicensesCommand() *cobra.Command {
	var flags storeFlags

	command := &cobra.Command{
		Use:   "repair-licenses",
		Short: "Regenerate active licenses with unusable key material",
		Long: `Regenerate the key, envelope and signature of every active license whose
stored fields are missing or malformed. Affected users receive a new key.

` + storeFlagsHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			reconciler, db, err := flags.openReconciler()
			if err != nil {
				return err
			}
			defer db.Close()

			repaired, err := reconciler.RepairMalformed(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to repair licenses: %w", err)
			}

			cmd.Printf("Repaired %d license(s)\n", repaired)
			return nil
		},
	}

	flags.register(command)

	return command
}

func RunSweepDuplicatesCommand() *cobra.Command {
	var flags storeFlags

	command := &cobra.Command{
		Use:   "sweep-duplicates",
		Short: "Revoke duplicate active licenses",
		Long: `Revoke all but the newest active license of every user and subscription
pair that has more than one.

` + storeFlagsHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			reconciler, db, err := flags.openReconciler()
			if err != nil {
				return err
			}
			defer db.Close()

			revoked, err := reconciler.SweepDuplicates(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to sweep duplicates: %w", err)
			}

			cmd.Printf("Revoked %d duplicate license(s)\n", revoked)
			return nil
		},
	}

	flags.register(command)

	return command
}

func RunCheckLicenseCommand() *cobra.Command {
	var (
		serverURL  string
		apiKey     string
		licenseKey string
	)

	command := &cobra.Command{
		Use:   "check-license",
		Short: "Verify a license key against a running server",
		Long: `Verify a license key the way the desktop client does, using a client
API key created with create-client-key. Exits non-zero when the key is not valid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(licenseKey) == "" {
				return errors.New("--key is required")
			}

			client := licenseclient.NewClient(serverURL, apiKey)
			if !client.IsClientConfigured() {
				return errors.New("--url and --api-key are required")
			}

			info, err := client.Verify(cmd.Context(), licenseKey)
			if err != nil {
				return fmt.Errorf("failed to verify license: %w", err)
			}

			cmd.Println(info.Message)
			if info.ExpiresAt != nil {
				cmd.Printf("Expires: %s\n", info.ExpiresAt.UTC().Format(time.RFC3339))
			}
			if !info.Valid {
				return errors.New("license is not valid")
			}
			return nil
		},
	}

	command.Flags().StringVar(&serverURL, "url", "http://localhost:7480", "license server URL including any base path")
	command.Flags().StringVar(&apiKey, "api-key", os.Getenv("CLIPBRD_CLIENT_API_KEY"), "client API key (default $CLIPBRD_CLIENT_API_KEY)")
	command.Flags().StringVar(&licenseKey, "key", "", "license key to verify")

	return command
}
