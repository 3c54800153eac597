package main

import (
	"errors"
	"fmt"
	"os"

	"ledgerflow/internal/store/postgres"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back the read-model schema",
		Long: `Apply or roll back the read-model schema.

The DSN is taken from --dsn or LEDGERFLOW_PG_DSN.

Examples:
  ledgerflow migrate up --dsn postgres://ledgerflow@localhost:5432/ledgerflow
  ledgerflow migrate down`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := postgres.Up
			if len(args) == 1 {
				var err error
				if dir, err = postgres.ParseDirection(args[0]); err != nil {
					return err
				}
			}
			if dsn == "" {
				dsn = os.Getenv("LEDGERFLOW_PG_DSN")
			}
			if dsn == "" {
				return errors.New("migrate: --dsn or LEDGERFLOW_PG_DSN is required")
			}
			if err := postgres.Migrate(dsn, dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres connection string")
	return cmd
}
