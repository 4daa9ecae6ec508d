package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"collectroute/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				s   *store.SQL
				err error
			)
			switch cfg.DB.Driver {
			case "postgres":
				s, err = store.NewPostgres(cfg.DB.URL)
			case "sqlite":
				s, err = store.NewSQLite(cfg.DB.URL)
			default:
				return fmt.Errorf("migrate needs a postgres or sqlite store, not %q", cfg.DB.Driver)
			}
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			v, err := s.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", s.Dialect(), v)
			return nil
		},
	}
}
