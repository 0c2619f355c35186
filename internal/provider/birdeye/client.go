// Package birdeye adapts the Birdeye public API: labeled wallet trades,
// current prices, price history and token metadata for one chain.
package birdeye

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/provider/httpx"
)

// Name is the provider name used in logs, metrics and errors.
const Name = "birdeye"

const (
	DefaultBaseURL  = "https://public-api.birdeye.so"
	DefaultPageSize = 100
	DefaultMaxPages = 5

	// HistoryInterval is the candle size requested for price history.
	HistoryInterval = "1H"
)

// Config configures Client.
type Config struct {
	BaseURL  string
	PageSize int
	MaxPages int
}

// Client is bound to one chain. The http client must carry the
// X-API-KEY and x-chain headers (see Headers).
type Client struct {
	http     *httpx.Client
	chain    domain.Chain
	registry *normalization.Registry
	baseURL  string
	pageSize int
	maxPages int
}

// Headers returns the headers Birdeye expects on every call for chain.
func Headers(apiKey string, chain domain.Chain) []httpx.ClientOption {
	return []httpx.ClientOption{
		httpx.WithHeader("X-API-KEY", apiKey),
		httpx.WithHeader("x-chain", chain.String()),
	}
}

// New creates a Birdeye client for chain.
func New(cfg Config, chain domain.Chain, http *httpx.Client) *Client {
	c := &Client{
		http:     http,
		chain:    chain,
		registry: normalization.DefaultRegistry(chain),
		baseURL:  cfg.BaseURL,
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

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values, data interface{}) error {
	endpoint := c.baseURL + path + "?" + params.Encode()
	env := envelope{Data: data}
	if err := c.http.GetJSON(ctx, endpoint, &env); err != nil {
		return err
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request unsuccessful"
		}
		return provider.NewUpstreamError(Name, 0, errors.New(msg))
	}
	return nil
}

type tokenSide struct {
	Address  string  `json:"address"`
	Symbol   string  `json:"symbol"`
	Decimals int     `json:"decimals"`
	UIAmount float64 `json:"ui_amount"`
	Price    float64 `json:"price"`
	TypeSwap string  `json:"type_swap"` // "from": sent by the wallet, "to": received
}

type walletTx struct {
	TxHash        string    `json:"tx_hash"`
	BlockUnixTime int64     `json:"block_unix_time"`
	BlockNumber   int64     `json:"block_number"`
	Side          string    `json:"side"`
	VolumeUSD     *float64  `json:"volume_usd"`
	Base          tokenSide `json:"base"`
	Quote         tokenSide `json:"quote"`
}

type walletTxPage struct {
	Items   []walletTx `json:"items"`
	HasNext bool       `json:"hasNext"`
}

// FetchTrades returns the wallet's labeled swaps inside window, newest page
// first, stopping at the first record older than the cutoff.
func (c *Client) FetchTrades(ctx context.Context, wallet string, window domain.Window) ([]normalization.RawTrade, error) {
	var out []normalization.RawTrade

	for page := 0; page < c.maxPages; page++ {
		params := url.Values{}
		params.Set("address", wallet)
		params.Set("offset", strconv.Itoa(page*c.pageSize))
		params.Set("limit", strconv.Itoa(c.pageSize))
		params.Set("after_time", strconv.FormatInt(window.FromMs/1000, 10))
		params.Set("before_time", strconv.FormatInt(window.ToMs/1000, 10))

		var resp walletTxPage
		if err := c.get(ctx, "/trader/txs/seek_by_time", params, &resp); err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		crossed := false
		for i := range resp.Items {
			ts := resp.Items[i].BlockUnixTime * 1000
			if ts < window.FromMs {
				crossed = true
				break
			}
			if ts > window.ToMs {
				continue
			}
			if rec, ok := c.toRawTrade(&resp.Items[i]); ok {
				out = append(out, rec)
			}
		}

		if crossed || !resp.HasNext || len(resp.Items) < c.pageSize {
			break
		}
	}
	return out, nil
}

// toRawTrade picks the non-base side as the traded token. Its swap
// direction gives the side: received means bought.
func (c *Client) toRawTrade(tx *walletTx) (normalization.RawTrade, bool) {
	token := tx.Base
	if c.registry.IsBase(token.Address) {
		token = tx.Quote
	}
	if c.registry.IsBase(token.Address) {
		return normalization.RawTrade{}, false
	}

	side := domain.SideSell
	if token.TypeSwap == "to" {
		side = domain.SideBuy
	}

	rec := normalization.RawTrade{
		Hash:         tx.TxHash,
		TimestampMs:  tx.BlockUnixTime * 1000,
		BlockHeight:  tx.BlockNumber,
		Side:         side,
		UnitPriceUSD: token.Price,
		Legs: []normalization.Leg{{
			TokenAddress: token.Address,
			Symbol:       token.Symbol,
			Amount:       token.UIAmount,
			Decimals:     token.Decimals,
			Inflow:       side == domain.SideBuy,
		}},
	}
	if token.Price > 0 {
		v := token.Price * token.UIAmount
		rec.ValueUSD = &v
	} else if tx.VolumeUSD != nil {
		rec.ValueUSD = tx.VolumeUSD
	}
	return rec, true
}

type priceData struct {
	Value          float64 `json:"value"`
	UpdateUnixTime int64   `json:"updateUnixTime"`
}

// CurrentPrice returns the latest USD price of token.
func (c *Client) CurrentPrice(ctx context.Context, token string) (float64, error) {
	params := url.Values{}
	params.Set("address", token)

	var data priceData
	if err := c.get(ctx, "/defi/price", params, &data); err != nil {
		return 0, err
	}
	if data.Value <= 0 {
		return 0, provider.ErrNoData
	}
	return data.Value, nil
}

type historyData struct {
	Items []struct {
		UnixTime int64   `json:"unixTime"`
		Value    float64 `json:"value"`
	} `json:"items"`
}

// PriceHistory returns hourly prices of token inside window, ascending.
func (c *Client) PriceHistory(ctx context.Context, token string, window domain.Window) ([]domain.PricePoint, error) {
	params := url.Values{}
	params.Set("address", token)
	params.Set("address_type", "token")
	params.Set("type", HistoryInterval)
	params.Set("time_from", strconv.FormatInt(window.FromMs/1000, 10))
	params.Set("time_to", strconv.FormatInt(window.ToMs/1000, 10))

	var data historyData
	if err := c.get(ctx, "/defi/history_price", params, &data); err != nil {
		return nil, err
	}

	points := make([]domain.PricePoint, 0, len(data.Items))
	for _, it := range data.Items {
		if it.Value <= 0 {
			continue
		}
		points = append(points, domain.PricePoint{TimestampMs: it.UnixTime * 1000, PriceUSD: it.Value})
	}
	return points, nil
}

type metadataData struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals *int   `json:"decimals"`
	LogoURI  string `json:"logo_uri"`
}

// TokenMetadata returns name, symbol, decimals and logo of token.
func (c *Client) TokenMetadata(ctx context.Context, token string) (*domain.TokenMetadata, error) {
	params := url.Values{}
	params.Set("address", token)

	var data metadataData
	if err := c.get(ctx, "/defi/v3/token/meta-data/single", params, &data); err != nil {
		return nil, err
	}
	if data.Symbol == "" && data.Name == "" {
		return nil, provider.ErrNoData
	}

	meta := &domain.TokenMetadata{
		Address:  token,
		Chain:    c.chain,
		Name:     data.Name,
		Symbol:   data.Symbol,
		Decimals: -1,
		LogoURI:  data.LogoURI,
	}
	if data.Decimals != nil {
		meta.Decimals = *data.Decimals
	}
	return meta, nil
}
