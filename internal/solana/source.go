package solana

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
)

// Source defaults.
const (
	DefaultPageSize    = 100
	DefaultMaxPages    = 5
	DefaultConcurrency = 8
)

// SourceConfig configures Source.
type SourceConfig struct {
	PageSize    int
	MaxPages    int
	Concurrency int // parallel getTransaction calls
	Logger      zerolog.Logger
}

// Source reconstructs wallet trades from raw RPC history: signatures are
// listed newest first, then every transaction is reduced to the wallet's
// balance changes. It is the last-resort Solana history provider.
type Source struct {
	rpc    RPCClient
	cfg    SourceConfig
	logger zerolog.Logger
}

// NewSource creates an RPC trade source.
func NewSource(rpc RPCClient, cfg SourceConfig) *Source {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Source{rpc: rpc, cfg: cfg, logger: cfg.Logger.With().Str("provider", Name).Logger()}
}

// Name returns the provider name.
func (s *Source) Name() string {
	return Name
}

// FetchTrades returns one record per successful transaction inside window.
// Any RPC failure fails the whole fetch.
func (s *Source) FetchTrades(ctx context.Context, wallet string, window domain.Window) ([]normalization.RawTrade, error) {
	sigs, err := s.signatures(ctx, wallet, window)
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, nil
	}

	txs := make([]*Transaction, len(sigs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, sig := range sigs {
		g.Go(func() error {
			tx, err := s.rpc.GetTransaction(gctx, sig.Signature)
			if err != nil {
				return fmt.Errorf("get transaction %s: %w", sig.Signature, err)
			}
			txs[i] = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]normalization.RawTrade, 0, len(txs))
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		if r, ok := WalletDeltas(tx, wallet); ok {
			records = append(records, r)
		}
	}
	s.logger.Debug().Str("wallet", wallet).Int("signatures", len(sigs)).Int("records", len(records)).Msg("fetched rpc history")
	return records, nil
}

// signatures pages backwards until a signature older than the window start
// or the page cap. Failed transactions are dropped.
func (s *Source) signatures(ctx context.Context, wallet string, window domain.Window) ([]SignatureInfo, error) {
	var (
		out    []SignatureInfo
		before string
	)
	for page := 0; page < s.cfg.MaxPages; page++ {
		batch, err := s.rpc.GetSignaturesForAddress(ctx, wallet, &SignaturesOpts{Before: before, Limit: s.cfg.PageSize})
		if err != nil {
			return nil, fmt.Errorf("get signatures: %w", err)
		}
		for _, sig := range batch {
			if sig.BlockTime == nil {
				continue
			}
			ts := *sig.BlockTime * 1000
			if ts < window.FromMs {
				return out, nil
			}
			if sig.Err != nil || ts > window.ToMs {
				continue
			}
			out = append(out, sig)
		}
		if len(batch) < s.cfg.PageSize {
			return out, nil
		}
		before = batch[len(batch)-1].Signature
	}
	return out, nil
}

// WalletDeltas reduces tx to the wallet's net native and token balance
// changes. The fee is added back when the wallet paid it so that it is not
// mistaken for swap spend. Returns false for failed transactions and those
// that did not change the wallet's balances.
func WalletDeltas(tx *Transaction, wallet string) (normalization.RawTrade, bool) {
	if tx.Meta == nil || tx.Meta.Err != nil || tx.Message == nil {
		return normalization.RawTrade{}, false
	}
	meta := tx.Meta

	var legs []normalization.Leg

	for i, key := range tx.Message.AccountKeys {
		if key != wallet || i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			continue
		}
		delta := new(big.Int).Sub(
			new(big.Int).SetUint64(meta.PostBalances[i]),
			new(big.Int).SetUint64(meta.PreBalances[i]),
		)
		if i == 0 {
			delta.Add(delta, new(big.Int).SetUint64(meta.Fee))
		}
		if leg, ok := deltaLeg(normalization.SolanaNativeAddress, delta, 9); ok {
			legs = append(legs, leg)
		}
		break
	}

	type mintDelta struct {
		delta    *big.Int
		decimals int
	}
	deltas := make(map[string]*mintDelta)
	var mints []string
	add := func(balances []TokenBalance, sign int) {
		for _, b := range balances {
			if b.Owner != wallet {
				continue
			}
			amount, ok := new(big.Int).SetString(b.Amount, 10)
			if !ok {
				continue
			}
			d, seen := deltas[b.Mint]
			if !seen {
				d = &mintDelta{delta: new(big.Int), decimals: b.Decimals}
				deltas[b.Mint] = d
				mints = append(mints, b.Mint)
			}
			if sign > 0 {
				d.delta.Add(d.delta, amount)
			} else {
				d.delta.Sub(d.delta, amount)
			}
		}
	}
	add(meta.PreTokenBalances, -1)
	add(meta.PostTokenBalances, 1)

	for _, mint := range mints {
		d := deltas[mint]
		if leg, ok := deltaLeg(mint, d.delta, d.decimals); ok {
			legs = append(legs, leg)
		}
	}

	if len(legs) == 0 {
		return normalization.RawTrade{}, false
	}
	return normalization.RawTrade{
		Hash:        tx.Signature,
		TimestampMs: tx.BlockTime * 1000,
		BlockHeight: tx.Slot,
		Legs:        legs,
	}, true
}

func deltaLeg(token string, delta *big.Int, decimals int) (normalization.Leg, bool) {
	if delta.Sign() == 0 {
		return normalization.Leg{}, false
	}
	return normalization.Leg{
		TokenAddress: token,
		RawAmount:    new(big.Int).Abs(delta).String(),
		Decimals:     decimals,
		Inflow:       delta.Sign() > 0,
	}, true
}
