package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zapiwoot/zapiwoot/internal/config"
	"github.com/zapiwoot/zapiwoot/internal/db"
	"github.com/zapiwoot/zapiwoot/internal/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Postgres.Enabled() {
				return errors.New("postgres is not configured")
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			return db.Migrate(logger.L, cfg.Postgres)
		},
	}
}
