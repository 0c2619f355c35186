// Package helius fetches Solana wallet swap history from the Helius
// Enhanced Transactions API.
package helius

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/provider/httpx"
)

// Name is the provider name used in logs, metrics and errors.
const Name = "helius"

const (
	DefaultBaseURL  = "https://api.helius.xyz"
	DefaultPageSize = 100
	// DefaultMaxPages bounds quota use per wallet: the free tier is metered per call.
	DefaultMaxPages = 10

	solDecimals = 9
)

// Config configures Client.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	MaxPages int
	Logger   zerolog.Logger
}

// Client is a trade source for Solana wallets.
type Client struct {
	http     *httpx.Client
	baseURL  string
	apiKey   string
	pageSize int
	maxPages int
	logger   zerolog.Logger
}

// New creates a Helius client on top of a provider HTTP client.
func New(cfg Config, http *httpx.Client) *Client {
	c := &Client{
		http:     http,
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		logger:   cfg.Logger.With().Str("provider", Name).Logger(),
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

// FetchTrades pages backwards from the newest swap until a transaction
// older than window.FromMs is seen or the page cap is reached.
// Any page failure fails the whole fetch.
func (c *Client) FetchTrades(ctx context.Context, wallet string, window domain.Window) ([]normalization.RawTrade, error) {
	var (
		out    []normalization.RawTrade
		before string
	)

	for page := 0; page < c.maxPages; page++ {
		txs, err := c.fetchPage(ctx, wallet, before)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(txs) == 0 {
			break
		}

		crossed := false
		for i := range txs {
			ts := txs[i].Timestamp * 1000
			if ts < window.FromMs {
				crossed = true
				break
			}
			if ts > window.ToMs {
				continue
			}
			if rec, ok := toRawTrade(&txs[i], wallet); ok {
				out = append(out, rec)
			}
		}

		if crossed || len(txs) < c.pageSize {
			break
		}
		before = txs[len(txs)-1].Signature
		if page == c.maxPages-1 {
			c.logger.Debug().Str("wallet", wallet).Int("pages", c.maxPages).Msg("page cap reached before cutoff")
		}
	}

	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, wallet, before string) ([]EnhancedTransaction, error) {
	params := url.Values{}
	params.Set("api-key", c.apiKey)
	params.Set("type", "SWAP")
	params.Set("limit", strconv.Itoa(c.pageSize))
	if before != "" {
		params.Set("before", before)
	}
	endpoint := fmt.Sprintf("%s/v0/addresses/%s/transactions?%s", c.baseURL, url.PathEscape(wallet), params.Encode())

	var txs []EnhancedTransaction
	if err := c.http.GetJSON(ctx, endpoint, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// toRawTrade extracts the wallet's legs. The swap event is preferred; plain
// transfers are used when Helius did not parse one.
func toRawTrade(tx *EnhancedTransaction, wallet string) (normalization.RawTrade, bool) {
	if tx.TransactionError != nil {
		return normalization.RawTrade{}, false
	}

	rec := normalization.RawTrade{
		Hash:        tx.Signature,
		TimestampMs: tx.Timestamp * 1000,
		BlockHeight: tx.Slot,
	}

	if swap := tx.Events.Swap; swap != nil {
		if swap.NativeInput != nil && swap.NativeInput.Amount != "" {
			rec.Legs = append(rec.Legs, nativeLeg(swap.NativeInput.Amount, false))
		}
		if swap.NativeOutput != nil && swap.NativeOutput.Amount != "" {
			rec.Legs = append(rec.Legs, nativeLeg(swap.NativeOutput.Amount, true))
		}
		for _, t := range swap.TokenInputs {
			if t.UserAccount == "" || t.UserAccount == wallet {
				rec.Legs = append(rec.Legs, swapLeg(t, false))
			}
		}
		for _, t := range swap.TokenOutputs {
			if t.UserAccount == "" || t.UserAccount == wallet {
				rec.Legs = append(rec.Legs, swapLeg(t, true))
			}
		}
		return rec, len(rec.Legs) > 0
	}

	var netLamports int64
	for _, n := range tx.NativeTransfers {
		if n.ToUserAccount == wallet {
			netLamports += n.Amount
		}
		if n.FromUserAccount == wallet {
			netLamports -= n.Amount
		}
	}
	if netLamports != 0 {
		abs := netLamports
		if abs < 0 {
			abs = -abs
		}
		rec.Legs = append(rec.Legs, nativeLeg(strconv.FormatInt(abs, 10), netLamports > 0))
	}

	for _, t := range tx.TokenTransfers {
		switch wallet {
		case t.ToUserAccount:
			rec.Legs = append(rec.Legs, normalization.Leg{TokenAddress: t.Mint, Amount: t.TokenAmount, Decimals: -1, Inflow: true})
		case t.FromUserAccount:
			rec.Legs = append(rec.Legs, normalization.Leg{TokenAddress: t.Mint, Amount: t.TokenAmount, Decimals: -1})
		}
	}
	return rec, len(rec.Legs) > 0
}

func nativeLeg(lamports string, inflow bool) normalization.Leg {
	return normalization.Leg{
		TokenAddress: normalization.SolanaNativeAddress,
		Symbol:       "SOL",
		RawAmount:    lamports,
		Decimals:     solDecimals,
		Inflow:       inflow,
	}
}

func swapLeg(t SwapToken, inflow bool) normalization.Leg {
	return normalization.Leg{
		TokenAddress: t.Mint,
		RawAmount:    t.RawTokenAmount.TokenAmount,
		Decimals:     t.RawTokenAmount.Decimals,
		Inflow:       inflow,
	}
}
