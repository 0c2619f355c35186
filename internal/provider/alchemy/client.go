// Package alchemy fetches Base wallet transfers with alchemy_getAssetTransfers.
package alchemy

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/provider/httpx"
)

// Name is the provider name used in logs, metrics and errors.
const Name = "alchemy"

const (
	DefaultBaseURL = "https://base-mainnet.g.alchemy.com/v2"
	// DefaultBlockTime is Base's target block interval.
	DefaultBlockTime = 2 * time.Second
	DefaultMaxPages  = 5
	pageSize         = 1000
)

// Config configures Client.
type Config struct {
	BaseURL   string
	APIKey    string
	BlockTime time.Duration
	MaxPages  int
}

// Client is a block-range trade source for Base wallets.
type Client struct {
	http      *httpx.Client
	endpoint  string
	blockTime time.Duration
	maxPages  int
	now       func() time.Time
}

// New creates an Alchemy client.
func New(cfg Config, http *httpx.Client) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		http:      http,
		endpoint:  strings.TrimRight(base, "/") + "/" + cfg.APIKey,
		blockTime: cfg.BlockTime,
		maxPages:  cfg.MaxPages,
		now:       time.Now,
	}
	if c.blockTime <= 0 {
		c.blockTime = DefaultBlockTime
	}
	if c.maxPages <= 0 {
		c.maxPages = DefaultMaxPages
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return Name
}

type rawContract struct {
	Value   string  `json:"value"` // hex integer
	Address *string `json:"address"`
	Decimal string  `json:"decimal"` // hex integer
}

type transfer struct {
	UniqueID    string      `json:"uniqueId"`
	Hash        string      `json:"hash"`
	BlockNum    string      `json:"blockNum"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Value       *float64    `json:"value"`
	Asset       string      `json:"asset"`
	Category    string      `json:"category"`
	RawContract rawContract `json:"rawContract"`
	Metadata    struct {
		BlockTimestamp string `json:"blockTimestamp"`
	} `json:"metadata"`
}

type transfersResult struct {
	Transfers []transfer `json:"transfers"`
	PageKey   string     `json:"pageKey"`
}

// CutoffBlock converts a cutoff time into an approximate block height by
// linear extrapolation from the latest block.
func CutoffBlock(latest uint64, nowMs, cutoffMs int64, blockTime time.Duration) uint64 {
	if cutoffMs >= nowMs || blockTime <= 0 {
		return latest
	}
	back := uint64((nowMs - cutoffMs) / blockTime.Milliseconds())
	if back >= latest {
		return 0
	}
	return latest - back
}

// FetchTrades queries outgoing and incoming transfers in parallel from the
// cutoff block, unions them and groups legs by transaction hash.
func (c *Client) FetchTrades(ctx context.Context, wallet string, window domain.Window) ([]normalization.RawTrade, error) {
	var latestHex string
	if err := c.http.CallRPC(ctx, c.endpoint, "eth_blockNumber", nil, &latestHex); err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	latest, err := hexutil.DecodeUint64(latestHex)
	if err != nil {
		return nil, fmt.Errorf("decode block number %q: %w", latestHex, err)
	}
	fromBlock := CutoffBlock(latest, c.now().UnixMilli(), window.FromMs, c.blockTime)

	var (
		mu  sync.Mutex
		all []transfer
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range []string{"fromAddress", "toAddress"} {
		g.Go(func() error {
			ts, err := c.transfers(gctx, dir, wallet, fromBlock)
			if err != nil {
				return fmt.Errorf("%s transfers: %w", dir, err)
			}
			mu.Lock()
			all = append(all, ts...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return group(all, wallet, window), nil
}

func (c *Client) transfers(ctx context.Context, direction, wallet string, fromBlock uint64) ([]transfer, error) {
	var (
		out     []transfer
		pageKey string
	)
	for page := 0; page < c.maxPages; page++ {
		params := map[string]interface{}{
			"fromBlock":        hexutil.EncodeUint64(fromBlock),
			"toBlock":          "latest",
			direction:          wallet,
			"category":         []string{"external", "internal", "erc20"},
			"withMetadata":     true,
			"excludeZeroValue": true,
			"maxCount":         hexutil.EncodeUint64(pageSize),
		}
		if pageKey != "" {
			params["pageKey"] = pageKey
		}

		var res transfersResult
		if err := c.http.CallRPC(ctx, c.endpoint, "alchemy_getAssetTransfers", []interface{}{params}, &res); err != nil {
			return nil, err
		}
		out = append(out, res.Transfers...)
		if res.PageKey == "" {
			break
		}
		pageKey = res.PageKey
	}
	return out, nil
}

// group dedups transfers by unique id and folds them into one record per hash.
func group(transfers []transfer, wallet string, window domain.Window) []normalization.RawTrade {
	seen := make(map[string]bool, len(transfers))
	byHash := make(map[string]*normalization.RawTrade)
	var order []string

	for _, t := range transfers {
		id := t.UniqueID
		if id == "" {
			id = t.Hash + ":" + t.From + ":" + t.To + ":" + t.RawContract.Value
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		ts := parseTimestamp(t.Metadata.BlockTimestamp)
		if ts == 0 || !window.Contains(ts) {
			continue
		}

		inflow := strings.EqualFold(t.To, wallet)
		if !inflow && !strings.EqualFold(t.From, wallet) {
			continue
		}

		rec, ok := byHash[t.Hash]
		if !ok {
			block, _ := hexutil.DecodeUint64(t.BlockNum)
			rec = &normalization.RawTrade{Hash: t.Hash, TimestampMs: ts, BlockHeight: int64(block)}
			byHash[t.Hash] = rec
			order = append(order, t.Hash)
		}
		rec.Legs = append(rec.Legs, toLeg(t, inflow))
	}

	sort.Strings(order)
	out := make([]normalization.RawTrade, 0, len(order))
	for _, h := range order {
		out = append(out, *byHash[h])
	}
	return out
}

func toLeg(t transfer, inflow bool) normalization.Leg {
	leg := normalization.Leg{Symbol: t.Asset, Decimals: -1, Inflow: inflow}

	if t.Category == "erc20" && t.RawContract.Address != nil {
		leg.TokenAddress = strings.ToLower(*t.RawContract.Address)
	} else {
		leg.TokenAddress = normalization.BaseNativeAddress
		leg.Decimals = 18
	}

	if d, ok := parseHex(t.RawContract.Decimal); ok && d.IsInt64() {
		leg.Decimals = int(d.Int64())
	}
	if v, ok := parseHex(t.RawContract.Value); ok && leg.Decimals >= 0 {
		leg.RawAmount = v.String()
	}
	if t.Value != nil {
		leg.Amount = *t.Value
	}
	return leg
}

// parseHex accepts zero-padded hex, which hexutil rejects for quantities.
func parseHex(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 16)
}

func parseTimestamp(s string) int64 {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return ts.UnixMilli()
}
