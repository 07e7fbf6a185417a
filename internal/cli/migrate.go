package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowsync/internal/config"
	"flowsync/internal/db"
)

func newMigrateCommand(global *globalFlags, std streams) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema used by the postgres store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if global.store == "" {
				global.store = config.StorePostgres
			}
			cfg, log, err := setup(global, std)
			if err != nil {
				return err
			}

			conn, err := db.NewPostgres(cfg.DB, log)
			if err != nil {
				return err
			}
			defer db.Close(conn)

			if err := db.Migrate(conn, log); err != nil {
				return err
			}

			_, err = fmt.Fprintln(std.out, "migrations applied")
			return err
		},
	}
}
