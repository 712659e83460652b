// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/store"
)

// migrator is the subset of *store.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// migratorFactory opens a migrator for a database URL.
type migratorFactory func(databaseURL string) (migrator, error)

func defaultMigratorFactory(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(defaultMigratorFactory)
}

func newMigrateCmd(factory migratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back, or inspect the embedded PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m migrator) error {
				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					cmd.Println("Database is up to date")
					return nil
				}
				if err := m.Up(); err != nil {
					return err
				}
				for _, v := range pending {
					cmd.Printf("Applied %s\n", migrationLabel(v))
				}
				return nil
			})
		},
	})

	var steps int
	var confirmed bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the last --steps migrations, or every migration when --steps
is zero. Rolling back drops auth data, so --yes is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return oops.Code("MIGRATION_NOT_CONFIRMED").Errorf("rolling back drops data; re-run with --yes")
			}
			if steps < 0 {
				return oops.Code("INVALID_STEPS").Errorf("--steps must be non-negative, got %d", steps)
			}
			return withMigrator(cmd, factory, func(m migrator) error {
				applied, err := m.AppliedMigrations()
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					cmd.Println("No migrations to roll back")
					return nil
				}
				if steps == 0 || steps >= len(applied) {
					if err := m.Down(); err != nil {
						return err
					}
					cmd.Printf("Rolled back %d migrations\n", len(applied))
					return nil
				}
				if err := m.Steps(-steps); err != nil {
					return err
				}
				cmd.Printf("Rolled back %d migrations\n", steps)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back (0 = all)")
	down.Flags().BoolVar(&confirmed, "yes", false, "confirm the rollback")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m migrator) error {
				current, dirty, err := m.Version()
				if err != nil {
					return err
				}
				latest, err := store.LatestVersion()
				if err != nil {
					return err
				}
				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}

				cmd.Printf("Current: %s\n", migrationLabel(current))
				cmd.Printf("Latest:  %s\n", migrationLabel(latest))
				cmd.Printf("Pending: %d\n", len(pending))
				if dirty {
					cmd.Println("WARNING: schema is dirty; repair it by hand, then run 'migrate force <version>'")
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Record VERSION without running migrations",
		Long:  `Clear a dirty state after the schema has been repaired by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("arg", args[0]).Wrap(err)
			}
			return withMigrator(cmd, factory, func(m migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced version %s\n", migrationLabel(uint(version)))
				return nil
			})
		},
	})

	return cmd
}

// withMigrator resolves the database URL from config and runs fn with an
// open migrator.
func withMigrator(cmd *cobra.Command, factory migratorFactory, fn func(migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required (set DATABASE_URL or --database-url)")
	}

	m, err := factory(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()
	return fn(m)
}

// migrationLabel renders a version as 000002_action_tokens when the name
// is known.
func migrationLabel(version uint) string {
	if version == 0 {
		return "0 (empty)"
	}
	name, err := store.MigrationName(version)
	if err != nil || name == "" {
		return fmt.Sprintf("%d", version)
	}
	return name
}
