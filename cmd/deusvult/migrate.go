package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/deusvult/pkg/deusvult/observability/sink"
)

func newMigrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres trace sink migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				settings, err := loadSettings()
				if err != nil {
					return err
				}
				dsn = settings.Sink.PostgresDSN
			}
			if dsn == "" {
				return fmt.Errorf("no postgres dsn: set sink.postgres.dsn or --dsn")
			}

			// Opening the backend applies pending migrations
			backend, err := sink.NewPostgresBackend(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			if err := backend.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "trace migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (default: sink.postgres.dsn)")
	return cmd
}
