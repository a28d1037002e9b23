package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/conference-central/internal/config"
	"github.com/Shivanand-hulikatti/conference-central/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer func() { _ = logger.Sync() }()
		if cfg.Database.Driver != config.DriverPostgres {
			return errors.New("migrate needs database.driver=postgres")
		}
		return database.Migrate(cfg.Database, logger)
	},
}
