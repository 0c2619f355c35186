// Package dexscreener reads current prices and basic token metadata from
// DexScreener pair listings.
package dexscreener

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
const Name = "dexscreener"

const DefaultBaseURL = "https://api.dexscreener.com"

// Client is bound to one chain.
type Client struct {
	http    *httpx.Client
	chain   domain.Chain
	baseURL string
}

// New creates a DexScreener client. baseURL may be empty.
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

type tokenRef struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type pair struct {
	ChainID    string   `json:"chainId"`
	BaseToken  tokenRef `json:"baseToken"`
	QuoteToken tokenRef `json:"quoteToken"`
	PriceUSD   string   `json:"priceUsd"`
	Liquidity  struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Info struct {
		ImageURL string `json:"imageUrl"`
	} `json:"info"`
}

// bestPair returns the deepest pair on this chain quoting token as base.
func (c *Client) bestPair(ctx context.Context, token string) (*pair, error) {
	var resp struct {
		Pairs []pair `json:"pairs"`
	}
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, url.PathEscape(token))
	if err := c.http.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	var best *pair
	for i := range resp.Pairs {
		p := &resp.Pairs[i]
		if p.ChainID != c.chain.String() || !strings.EqualFold(p.BaseToken.Address, token) {
			continue
		}
		if best == nil || p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	if best == nil {
		return nil, provider.ErrNoData
	}
	return best, nil
}

// CurrentPrice returns the USD price from the most liquid pair.
func (c *Client) CurrentPrice(ctx context.Context, token string) (float64, error) {
	p, err := c.bestPair(ctx, token)
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(p.PriceUSD, 64)
	if err != nil || price <= 0 {
		return 0, provider.ErrNoData
	}
	return price, nil
}

// TokenMetadata returns name, symbol and logo. Decimals are not reported.
func (c *Client) TokenMetadata(ctx context.Context, token string) (*domain.TokenMetadata, error) {
	p, err := c.bestPair(ctx, token)
	if err != nil {
		return nil, err
	}
	return &domain.TokenMetadata{
		Address:  token,
		Chain:    c.chain,
		Name:     p.BaseToken.Name,
		Symbol:   p.BaseToken.Symbol,
		Decimals: -1,
		LogoURI:  p.Info.ImageURL,
	}, nil
}
