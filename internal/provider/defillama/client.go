// Package defillama is the cross-chain price source: current prices and
// hourly history from the DefiLlama coins API.
package defillama

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/provider/httpx"
)

// Name is the provider name used in logs, metrics and errors.
const Name = "defillama"

const (
	DefaultBaseURL = "https://coins.llama.fi"
	// maxSpan caps the hourly points requested per chart call.
	maxSpan = 2200
)

// Client is bound to one chain.
type Client struct {
	http    *httpx.Client
	chain   domain.Chain
	baseURL string
}

// New creates a DefiLlama client. baseURL may be empty.
func New(baseURL string, chain domain.Chain, http *httpx.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: http, chain: chain, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return Name
}

func (c *Client) coinID(token string) string {
	return c.chain.String() + ":" + token
}

type coin struct {
	Symbol     string  `json:"symbol"`
	Decimals   *int    `json:"decimals"`
	Price      float64 `json:"price"`
	Timestamp  int64   `json:"timestamp"`
	Confidence float64 `json:"confidence"`
	Prices     []struct {
		Timestamp int64   `json:"timestamp"`
		Price     float64 `json:"price"`
	} `json:"prices"`
}

type coinsResponse struct {
	Coins map[string]coin `json:"coins"`
}

func (c *Client) current(ctx context.Context, token string) (*coin, error) {
	id := c.coinID(token)
	var resp coinsResponse
	if err := c.http.GetJSON(ctx, fmt.Sprintf("%s/prices/current/%s", c.baseURL, url.PathEscape(id)), &resp); err != nil {
		return nil, err
	}
	co, ok := lookup(resp.Coins, id)
	if !ok {
		return nil, provider.ErrNoData
	}
	return co, nil
}

// CurrentPrice returns the latest USD price.
func (c *Client) CurrentPrice(ctx context.Context, token string) (float64, error) {
	co, err := c.current(ctx, token)
	if err != nil {
		return 0, err
	}
	if co.Price <= 0 {
		return 0, provider.ErrNoData
	}
	return co.Price, nil
}

// TokenMetadata returns the symbol and decimals DefiLlama knows for token.
func (c *Client) TokenMetadata(ctx context.Context, token string) (*domain.TokenMetadata, error) {
	co, err := c.current(ctx, token)
	if err != nil {
		return nil, err
	}
	meta := &domain.TokenMetadata{Address: token, Chain: c.chain, Symbol: co.Symbol, Decimals: -1}
	if co.Decimals != nil {
		meta.Decimals = *co.Decimals
	}
	return meta, nil
}

// PriceHistory returns hourly prices inside window, ascending.
func (c *Client) PriceHistory(ctx context.Context, token string, window domain.Window) ([]domain.PricePoint, error) {
	span := (window.ToMs-window.FromMs)/3_600_000 + 1
	if span > maxSpan {
		span = maxSpan
	}

	id := c.coinID(token)
	params := url.Values{}
	params.Set("start", strconv.FormatInt(window.FromMs/1000, 10))
	params.Set("span", strconv.FormatInt(span, 10))
	params.Set("period", "1h")

	var resp coinsResponse
	endpoint := fmt.Sprintf("%s/chart/%s?%s", c.baseURL, url.PathEscape(id), params.Encode())
	if err := c.http.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	co, ok := lookup(resp.Coins, id)
	if !ok {
		return nil, nil
	}

	points := make([]domain.PricePoint, 0, len(co.Prices))
	for _, p := range co.Prices {
		ts := p.Timestamp * 1000
		if p.Price <= 0 || !window.Contains(ts) {
			continue
		}
		points = append(points, domain.PricePoint{TimestampMs: ts, PriceUSD: p.Price})
	}
	return points, nil
}

// lookup matches the coin id, ignoring address case on EVM chains.
func lookup(coins map[string]coin, id string) (*coin, bool) {
	if co, ok := coins[id]; ok {
		return &co, true
	}
	for k, co := range coins {
		if strings.EqualFold(k, id) {
			co := co
			return &co, true
		}
	}
	return nil, false
}
