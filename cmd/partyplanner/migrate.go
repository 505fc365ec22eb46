package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/store"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var steps int
	var migrate = &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Run database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if err := cfg.Storage.Postgres.Validate(); err != nil {
				return err
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if err := store.Migrate(cfg.Storage.Postgres.DSN(), direction, steps); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations %s applied\n", direction)
			return nil
		},
	}
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
