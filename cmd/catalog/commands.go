package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/locallibrary/catalog/internal/auth"
	"github.com/locallibrary/catalog/internal/config"
	"github.com/locallibrary/catalog/internal/database"
	"github.com/locallibrary/catalog/internal/database/bunstore"
	"github.com/locallibrary/catalog/internal/database/models"
	"github.com/locallibrary/catalog/internal/importer"
	"github.com/locallibrary/catalog/internal/infrastructure/server"
)

// loadConfig is swapped out by tests.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "catalog",
		Short:         "Local library catalog server and admin tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newCreateUserCmd(),
		newGrantCmd(),
		newImportCmd(),
	)
	return root
}

// withStore opens the configured database for a one-shot command.
func withStore(fn func(cfg *config.Config, store *bunstore.BunStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	store, err := bunstore.NewBunStore(conn.DB, conn.Dialect)
	if err != nil {
		return err
	}
	return fn(cfg, store)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return server.New(cfg).Run()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Build creates the catalog and session tables.
			app, err := server.Build(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			log.Printf("[System] Schema ready on %s", cfg.DBDriver)
			return nil
		},
	}
}

func newCreateUserCmd() *cobra.Command {
	var (
		username  string
		password  string
		email     string
		staff     bool
		superuser bool
	)

	cmd := &cobra.Command{
		Use:   "createuser",
		Short: "Create a library account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			return withStore(func(_ *config.Config, store *bunstore.BunStore) error {
				user := &models.User{
					Username:     username,
					PasswordHash: hash,
					Email:        email,
					IsActive:     true,
					IsStaff:      staff || superuser,
					IsSuperuser:  superuser,
					DateJoined:   time.Now().UTC(),
				}
				if err := store.CreateUser(cmd.Context(), user); err != nil {
					if errors.Is(err, database.ErrDuplicate) {
						return fmt.Errorf("user %q already exists", username)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d)\n", user.Username, user.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringVar(&email, "email", "", "contact address")
	cmd.Flags().BoolVar(&staff, "staff", false, "allow access to the admin API")
	cmd.Flags().BoolVar(&superuser, "superuser", false, "grant every permission")
	return cmd
}

func newGrantCmd() *cobra.Command {
	var username, perm string

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a permission to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			return withStore(func(_ *config.Config, store *bunstore.BunStore) error {
				user, err := store.GetUserByUsername(cmd.Context(), username)
				if err != nil {
					if errors.Is(err, database.ErrNotFound) {
						return fmt.Errorf("no user named %q", username)
					}
					return err
				}
				if err := store.GrantPermission(cmd.Context(), user.ID, perm); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %s to %s\n", perm, user.Username)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "account to update")
	cmd.Flags().StringVar(&perm, "perm", models.PermCanMarkReturned, "permission codename")
	return cmd
}

func newImportCmd() *cobra.Command {
	var (
		feedURL string
		copies  int
		since   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import-opds",
		Short: "Import books from an OPDS catalog feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sinceTime time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				sinceTime = t
			}

			return withStore(func(cfg *config.Config, store *bunstore.BunStore) error {
				if feedURL == "" {
					feedURL = cfg.OPDSURL
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()

				crawler := importer.NewCrawler(cfg.OPDSUsername, cfg.OPDSPassword, cfg.Debug())
				res, err := importer.NewImporter(store, store, crawler, copies).Run(ctx, feedURL, sinceTime)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d books, %d authors, %d copies (%d skipped)\n",
					res.Books, res.Authors, res.Instances, res.Skipped)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&feedURL, "url", "", "OPDS feed URL (defaults to CATALOG_OPDS_URL)")
	cmd.Flags().IntVar(&copies, "copies", 1, "copies to create per new book")
	cmd.Flags().StringVar(&since, "since", "", "only entries updated after this RFC3339 time")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall import deadline")
	return cmd
}
