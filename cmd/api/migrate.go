package main

import (
	"github.com/spf13/cobra"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

func newMigrateCommand() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the postgres document schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if down {
				return store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, logger)
			}
			return store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir, logger)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back every applied migration")
	return cmd
}
