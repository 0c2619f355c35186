package main

import (
	"github.com/spf13/cobra"

	"conviction-lab/internal/analysis"
	"conviction-lab/internal/domain"
	"conviction-lab/internal/ingestion"
)

type walletFlags struct {
	address  string
	chain    string
	horizon  int
	minValue float64
}

func (w *walletFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.address, "address", "", "Wallet address (required)")
	cmd.Flags().StringVar(&w.chain, "chain", string(domain.ChainSolana), "Chain: solana or base")
	cmd.Flags().IntVar(&w.horizon, "horizon", 0, "Lookback in days (0 uses ingestion.lookback_days)")
	cmd.Flags().Float64Var(&w.minValue, "min-value", 0, "Drop trades below this USD value")
	_ = cmd.MarkFlagRequired("address")
}

// resolve validates the flags; a zero horizon takes the configured lookback.
func (w *walletFlags) resolve(defaultHorizon int) (domain.Chain, int, error) {
	chain, err := domain.ParseChain(w.chain)
	if err != nil {
		return "", 0, err
	}
	if err := ingestion.ValidateAddress(chain, w.address); err != nil {
		return "", 0, err
	}
	horizon := w.horizon
	if horizon <= 0 {
		horizon = defaultHorizon
	}
	return chain, horizon, nil
}

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	w := &walletFlags{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score one wallet and print the report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			chain, horizon, err := w.resolve(cfg.Ingestion.LookbackDays)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.analysis.AnalyzeWallet(ctx, analysis.Request{
				Address:          w.address,
				Chain:            chain,
				TimeHorizonDays:  horizon,
				MinTradeValueUSD: w.minValue,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	w.register(cmd)
	return cmd
}

func newIngestCmd(g *globalFlags) *cobra.Command {
	w := &walletFlags{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch and normalize one wallet's trades and print them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			chain, horizon, err := w.resolve(cfg.Ingestion.LookbackDays)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.orchestrator.Ingest(ctx, ingestion.Request{
				Address:          w.address,
				Chain:            chain,
				LookbackDays:     horizon,
				MinTradeValueUSD: w.minValue,
			})
			if err != nil {
				return err
			}
			logger.Info().
				Str("provider", res.Quality.Provider).
				Int("trades", len(res.Trades)).
				Int("invalid", res.Quality.InvalidFiltered).
				Msg("ingestion complete")
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	w.register(cmd)
	return cmd
}
