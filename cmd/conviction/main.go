// Command conviction ingests wallet trade histories from Solana and Base,
// measures the patience tax of every exit and scores wallet conviction.
//
// Subcommands:
//
//	serve    run the HTTP API
//	analyze  run the full pipeline for one wallet and print the report
//	ingest   fetch and normalize one wallet's trades
//	migrate  apply PostgreSQL and ClickHouse migrations
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"conviction-lab/internal/config"
)

type globalFlags struct {
	configPath string
	logLevel   string
	useMemory  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "conviction",
		Short:        "Wallet conviction scoring for Solana and Base",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("CONVICTION_CONFIG"), "Path to YAML config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.useMemory, "use-memory", false, "Use in-memory stores instead of PostgreSQL/ClickHouse")

	root.AddCommand(
		newServeCmd(g),
		newAnalyzeCmd(g),
		newIngestCmd(g),
		newMigrateCmd(g),
	)
	return root
}

// load reads config and applies the persistent flag overrides.
func (g *globalFlags) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.useMemory {
		cfg.Storage.UseMemory = true
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// signalContext is cancelled on the first SIGINT/SIGTERM. A second signal,
// or 30s without the process exiting, forces exit.
func signalContext(logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
			cancel()
		case <-ctx.Done():
			signal.Stop(sigCh)
			return
		}
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()
	return ctx, cancel
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
