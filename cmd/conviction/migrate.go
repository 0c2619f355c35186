package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"conviction-lab/internal/storage/migrations"
	pgstore "conviction-lab/internal/storage/postgres"
)

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL and ClickHouse migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			s := cfg.Storage
			if s.PostgresDSN == "" && s.ClickhouseDSN == "" {
				return errors.New("no storage DSN configured")
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			if s.PostgresDSN != "" {
				pool, err := pgstore.NewPool(ctx, s.PostgresDSN)
				if err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
				defer pool.Close()
				if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
					return fmt.Errorf("postgres migrations: %w", err)
				}
				logger.Info().Msg("postgres migrations applied")
			}
			if s.ClickhouseDSN != "" {
				conn, err := migrations.RunClickhouseMigrations(ctx, s.ClickhouseDSN, logger)
				if err != nil {
					return fmt.Errorf("clickhouse migrations: %w", err)
				}
				defer conn.Close()
				logger.Info().Msg("clickhouse migrations applied")
			}
			return nil
		},
	}
}
