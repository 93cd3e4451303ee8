package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parrot/internal/app"
	"github.com/MrWong99/parrot/internal/config"
	"github.com/MrWong99/parrot/pkg/dialogue/postgres"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var dims int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres schema",
		Long: `Create the dialogue tables and indexes in postgres. Safe to run repeatedly.

The pgvector extension and the vector table are created when stores.vector is
postgres or --dimensions is given; the column width comes from
stores.embedding_dimensions unless overridden. Otherwise only the lexical
table is created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := c.cfg.Stores
			if sc.PostgresDSN == "" {
				return errors.New("stores.postgres_dsn is not configured")
			}
			if dims == 0 {
				dims = app.MigrateDimensions(sc)
			}
			if dims <= 0 && sc.Vector == config.BackendPostgres {
				return errors.New("embedding dimensions unknown; set stores.embedding_dimensions or pass --dimensions")
			}

			store, err := postgres.NewStore(cmd.Context(), sc.PostgresDSN, postgres.WithMigrate(dims))
			if err != nil {
				return err
			}
			store.Close()
			if dims > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (embedding dimensions: %d)\n", dims)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema ready (lexical table only)")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&dims, "dimensions", 0, "embedding vector width, overrides stores.embedding_dimensions")
	return cmd
}
