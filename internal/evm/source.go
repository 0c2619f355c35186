package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/provider/alchemy"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Source defaults.
const (
	DefaultBlockRange  = 50_000
	DefaultMaxPages    = 20
	DefaultConcurrency = 8
	// DefaultTokenDecimals is assumed when decimals() cannot be read.
	DefaultTokenDecimals = 18
)

// SourceConfig configures Source.
type SourceConfig struct {
	BlockTime   time.Duration
	BlockRange  uint64 // blocks per eth_getLogs call
	MaxPages    int    // block ranges scanned per fetch
	Concurrency int
	Logger      zerolog.Logger
}

// Source rebuilds Base wallet trades from ERC-20 Transfer logs plus the
// native value the wallet attached to its own transactions. Native proceeds
// delivered through internal calls are not visible in logs, so sells into
// ETH are reported only when they settle in WETH or a stablecoin.
type Source struct {
	client ChainReader
	meta   *MetadataSource
	cfg    SourceConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewSource creates a log-based trade source.
func NewSource(client ChainReader, cfg SourceConfig) *Source {
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = alchemy.DefaultBlockTime
	}
	if cfg.BlockRange == 0 {
		cfg.BlockRange = DefaultBlockRange
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Source{
		client: client,
		meta:   NewMetadataSource(client),
		cfg:    cfg,
		logger: cfg.Logger.With().Str("provider", Name).Logger(),
		now:    time.Now,
	}
}

// Name returns the provider name.
func (s *Source) Name() string {
	return Name
}

// FetchTrades scans block ranges newest first down to the cutoff block,
// querying outgoing and incoming transfers in parallel per range.
func (s *Source) FetchTrades(ctx context.Context, wallet string, window domain.Window) ([]normalization.RawTrade, error) {
	latest, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	nowMs := s.now().UnixMilli()
	fromBlock := alchemy.CutoffBlock(latest, nowMs, window.FromMs, s.cfg.BlockTime)
	toBlock := alchemy.CutoffBlock(latest, nowMs, window.ToMs, s.cfg.BlockTime)

	logs, err := s.scan(ctx, common.HexToAddress(wallet), fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}

	times, err := s.blockTimes(ctx, logs)
	if err != nil {
		return nil, err
	}
	decimals := s.decimals(ctx, logs)

	walletAddr := common.HexToAddress(wallet)
	byHash := make(map[common.Hash]*normalization.RawTrade)
	var order []common.Hash
	for _, l := range logs {
		ts := times[l.BlockNumber]
		if !window.Contains(ts) {
			continue
		}
		r, ok := byHash[l.TxHash]
		if !ok {
			r = &normalization.RawTrade{Hash: l.TxHash.Hex(), TimestampMs: ts, BlockHeight: int64(l.BlockNumber)}
			byHash[l.TxHash] = r
			order = append(order, l.TxHash)
		}
		from := common.BytesToAddress(l.Topics[1].Bytes())
		value := new(big.Int).SetBytes(l.Data)
		token := strings.ToLower(l.Address.Hex())
		r.Legs = append(r.Legs, normalization.Leg{
			TokenAddress: token,
			RawAmount:    value.String(),
			Decimals:     decimals[token],
			Inflow:       from != walletAddr,
		})
	}

	if err := s.nativeLegs(ctx, walletAddr, order, byHash); err != nil {
		return nil, err
	}

	records := make([]normalization.RawTrade, 0, len(order))
	for _, h := range order {
		records = append(records, *byHash[h])
	}
	s.logger.Debug().Str("wallet", wallet).Int("logs", len(logs)).Int("records", len(records)).Msg("fetched transfer logs")
	return records, nil
}

// scan walks [fromBlock, toBlock] in BlockRange steps from the top, stopping
// at the page cap. Logs are deduplicated by (tx hash, log index).
func (s *Source) scan(ctx context.Context, wallet common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	walletTopic := common.BytesToHash(wallet.Bytes())
	queries := [][][]common.Hash{
		{{TransferTopic}, {walletTopic}},
		{{TransferTopic}, nil, {walletTopic}},
	}

	type logKey struct {
		tx    common.Hash
		index uint
	}
	seen := make(map[logKey]bool)
	var out []types.Log

	end := toBlock
	for page := 0; page < s.cfg.MaxPages && end >= fromBlock; page++ {
		start := fromBlock
		if end-fromBlock+1 > s.cfg.BlockRange {
			start = end - s.cfg.BlockRange + 1
		}

		results := make([][]types.Log, len(queries))
		g, gctx := errgroup.WithContext(ctx)
		for i, topics := range queries {
			g.Go(func() error {
				logs, err := s.client.FilterLogs(gctx, ethereum.FilterQuery{
					FromBlock: new(big.Int).SetUint64(start),
					ToBlock:   new(big.Int).SetUint64(end),
					Topics:    topics,
				})
				if err != nil {
					return fmt.Errorf("filter logs %d-%d: %w", start, end, err)
				}
				results[i] = logs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, logs := range results {
			for _, l := range logs {
				if l.Removed || len(l.Topics) < 3 {
					continue
				}
				k := logKey{l.TxHash, l.Index}
				if seen[k] {
					continue
				}
				seen[k] = true
				out = append(out, l)
			}
		}

		if start == 0 || start == fromBlock {
			break
		}
		end = start - 1
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// blockTimes resolves the timestamp (ms) of every block that carries a log.
func (s *Source) blockTimes(ctx context.Context, logs []types.Log) (map[uint64]int64, error) {
	var blocks []uint64
	seen := make(map[uint64]bool)
	for _, l := range logs {
		if !seen[l.BlockNumber] {
			seen[l.BlockNumber] = true
			blocks = append(blocks, l.BlockNumber)
		}
	}

	times := make([]int64, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, n := range blocks {
		g.Go(func() error {
			h, err := s.client.HeaderByNumber(gctx, new(big.Int).SetUint64(n))
			if err != nil {
				return fmt.Errorf("header %d: %w", n, err)
			}
			times[i] = int64(h.Time) * 1000
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[uint64]int64, len(blocks))
	for i, n := range blocks {
		out[n] = times[i]
	}
	return out, nil
}

// decimals reads decimals() for every token seen. Failures fall back to
// DefaultTokenDecimals and do not fail the fetch.
func (s *Source) decimals(ctx context.Context, logs []types.Log) map[string]int {
	var tokens []string
	seen := make(map[string]bool)
	for _, l := range logs {
		token := strings.ToLower(l.Address.Hex())
		if !seen[token] {
			seen[token] = true
			tokens = append(tokens, token)
		}
	}

	decimals := make([]int, len(tokens))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, token := range tokens {
		g.Go(func() error {
			d, err := s.meta.Decimals(ctx, token)
			if err != nil {
				s.logger.Debug().Err(err).Str("token", token).Msg("decimals unavailable")
				d = DefaultTokenDecimals
			}
			decimals[i] = d
			return nil
		})
	}
	g.Wait()

	out := make(map[string]int, len(tokens))
	for i, token := range tokens {
		out[token] = decimals[i]
	}
	return out
}

// nativeLegs adds an outgoing ETH leg for transactions the wallet sent with value.
func (s *Source) nativeLegs(ctx context.Context, wallet common.Address, hashes []common.Hash, byHash map[common.Hash]*normalization.RawTrade) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, h := range hashes {
		g.Go(func() error {
			tx, _, err := s.client.TransactionByHash(gctx, h)
			if err != nil {
				return fmt.Errorf("transaction %s: %w", h.Hex(), err)
			}
			if tx.Value().Sign() <= 0 {
				return nil
			}
			from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
			if err != nil || from != wallet {
				return nil
			}
			mu.Lock()
			r := byHash[h]
			r.Legs = append(r.Legs, normalization.Leg{
				TokenAddress: normalization.BaseNativeAddress,
				RawAmount:    tx.Value().String(),
				Decimals:     18,
			})
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
