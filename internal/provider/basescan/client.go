// Package basescan reads Base wallet history from the Basescan
// (Etherscan-compatible) account API.
package basescan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/provider/httpx"
)

// Name is the provider name used in logs, metrics and errors.
const Name = "basescan"

const (
	DefaultBaseURL  = "https://api.basescan.org/api"
	DefaultPageSize = 100
	DefaultMaxPages = 5

	ethDecimals   = 18
	noTxsMessage  = "No transactions found"
	noRecordsText = "No records found"
)

// Config configures Client.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	MaxPages int
}

// Client is a trade source for Base wallets.
type Client struct {
	http     *httpx.Client
	baseURL  string
	apiKey   string
	pageSize int
	maxPages int
}

// New creates a Basescan client.
func New(cfg Config, http *httpx.Client) *Client {
	c := &Client{
		http:     http,
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
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

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type scanTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	IsError         string `json:"isError"`
}

func (c *Client) call(ctx context.Context, params url.Values, out interface{}) error {
	params.Set("apikey", c.apiKey)

	var resp response
	if err := c.http.GetJSON(ctx, c.baseURL+"?"+params.Encode(), &resp); err != nil {
		return err
	}
	if resp.Status != "1" {
		if resp.Message == noTxsMessage || resp.Message == noRecordsText {
			return provider.ErrNoData
		}
		var detail string
		_ = json.Unmarshal(resp.Result, &detail)
		return provider.NewUpstreamError(Name, 0, fmt.Errorf("%s: %s", resp.Message, detail))
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return provider.NewUpstreamError(Name, 0, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

// BlockAt returns the first block at or after unixSec.
func (c *Client) BlockAt(ctx context.Context, unixSec int64) (int64, error) {
	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", "getblocknobytime")
	params.Set("timestamp", strconv.FormatInt(unixSec, 10))
	params.Set("closest", "after")

	var block string
	if err := c.call(ctx, params, &block); err != nil {
		return 0, err
	}
	return strconv.ParseInt(block, 10, 64)
}

// list pages an account action newest first until the cutoff is crossed.
func (c *Client) list(ctx context.Context, action, wallet string, startBlock int64, window domain.Window) ([]scanTx, error) {
	var out []scanTx
	for page := 1; page <= c.maxPages; page++ {
		params := url.Values{}
		params.Set("module", "account")
		params.Set("action", action)
		params.Set("address", wallet)
		params.Set("startblock", strconv.FormatInt(startBlock, 10))
		params.Set("endblock", "99999999")
		params.Set("page", strconv.Itoa(page))
		params.Set("offset", strconv.Itoa(c.pageSize))
		params.Set("sort", "desc")

		var txs []scanTx
		err := c.call(ctx, params, &txs)
		if errors.Is(err, provider.ErrNoData) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", action, page, err)
		}

		crossed := false
		for _, tx := range txs {
			ts := parseSeconds(tx.TimeStamp) * 1000
			if ts < window.FromMs {
				crossed = true
				break
			}
			if ts > window.ToMs || tx.IsError == "1" {
				continue
			}
			out = append(out, tx)
		}
		if crossed || len(txs) < c.pageSize {
			break
		}
	}
	return out, nil
}

// FetchTrades joins token transfers with the native legs of the same
// transactions: outgoing ETH from txlist, incoming ETH from txlistinternal.
func (c *Client) FetchTrades(ctx context.Context, wallet string, window domain.Window) ([]normalization.RawTrade, error) {
	startBlock, err := c.BlockAt(ctx, window.FromMs/1000)
	if errors.Is(err, provider.ErrNoData) {
		startBlock = 0
	} else if err != nil {
		return nil, fmt.Errorf("start block: %w", err)
	}

	actions := []string{"tokentx", "txlist", "txlistinternal"}
	results := make([][]scanTx, len(actions))

	g, gctx := errgroup.WithContext(ctx)
	for i, action := range actions {
		i, action := i, action
		g.Go(func() error {
			txs, err := c.list(gctx, action, wallet, startBlock, window)
			if err != nil {
				return err
			}
			results[i] = txs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return join(results[0], append(results[1], results[2]...), wallet), nil
}

// join keeps only transactions with a token transfer; native legs attach
// to them by hash.
func join(tokenTxs, nativeTxs []scanTx, wallet string) []normalization.RawTrade {
	byHash := make(map[string]*normalization.RawTrade)
	seen := make(map[string]bool)

	for _, tx := range tokenTxs {
		inflow := strings.EqualFold(tx.To, wallet)
		if !inflow && !strings.EqualFold(tx.From, wallet) {
			continue
		}
		key := tx.Hash + "|" + tx.ContractAddress + "|" + tx.From + "|" + tx.To + "|" + tx.Value
		if seen[key] {
			continue
		}
		seen[key] = true

		rec, ok := byHash[tx.Hash]
		if !ok {
			rec = &normalization.RawTrade{
				Hash:        tx.Hash,
				TimestampMs: parseSeconds(tx.TimeStamp) * 1000,
				BlockHeight: parseSeconds(tx.BlockNumber),
			}
			byHash[tx.Hash] = rec
		}
		decimals, err := strconv.Atoi(tx.TokenDecimal)
		if err != nil {
			decimals = -1
		}
		rec.Legs = append(rec.Legs, normalization.Leg{
			TokenAddress: strings.ToLower(tx.ContractAddress),
			Symbol:       tx.TokenSymbol,
			RawAmount:    tx.Value,
			Decimals:     decimals,
			Inflow:       inflow,
		})
	}

	for _, tx := range nativeTxs {
		rec, ok := byHash[tx.Hash]
		if !ok || tx.Value == "" || tx.Value == "0" {
			continue
		}
		inflow := strings.EqualFold(tx.To, wallet)
		if !inflow && !strings.EqualFold(tx.From, wallet) {
			continue
		}
		rec.Legs = append(rec.Legs, normalization.Leg{
			TokenAddress: normalization.BaseNativeAddress,
			Symbol:       "ETH",
			RawAmount:    tx.Value,
			Decimals:     ethDecimals,
			Inflow:       inflow,
		})
	}

	out := make([]normalization.RawTrade, 0, len(byHash))
	for _, rec := range byHash {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampMs != out[j].TimestampMs {
			return out[i].TimestampMs < out[j].TimestampMs
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

func parseSeconds(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
