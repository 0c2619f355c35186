package main

import (
	"github.com/spf13/cobra"

	"conviction-lab/internal/api"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := api.NewServer(api.Options{
				Ingester:       a.orchestrator,
				Analyzer:       a.analysis,
				Metrics:        a.metrics,
				Gatherer:       a.registry,
				Logger:         logger,
				RequestTimeout: cfg.Server.RequestTimeout,
			})
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
				return err
			}
			logger.Info().Msg("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
