package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"corebank/internal/platform/config"
	"corebank/internal/platform/postgres"
)

func newMigrateCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply the embedded schema migrations to the target database.

Migrations already recorded in schema_migrations are skipped, so the command
is safe to run on every deploy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if databaseURL == "" {
				return errors.New("a database URL is required (--database-url or DATABASE_URL)")
			}
			ctx := cmd.Context()
			db, err := postgres.Open(ctx, config.DatabaseConfig{URL: databaseURL, MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.Migrate(ctx, db)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(out, "applied", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	return cmd
}
