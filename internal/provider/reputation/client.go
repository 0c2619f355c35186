// Package reputation looks up an external wallet reputation score used as a
// conviction score multiplier.
package reputation

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/provider/httpx"
)

// Name is the provider name used in logs, metrics and errors.
const Name = "reputation"

// Client queries GET {baseURL}/v1/reputation/{chain}/{address}.
type Client struct {
	http    *httpx.Client
	baseURL string
}

// New creates a reputation client. Authentication headers belong on http.
func New(baseURL string, http *httpx.Client) *Client {
	return &Client{http: http, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return Name
}

// Score returns the wallet's reputation in [0, 100].
// Unknown wallets return provider.ErrNoData.
func (c *Client) Score(ctx context.Context, chain domain.Chain, address string) (float64, error) {
	var resp struct {
		Score *float64 `json:"score"`
	}
	endpoint := fmt.Sprintf("%s/v1/reputation/%s/%s", c.baseURL, chain, url.PathEscape(address))
	if err := c.http.GetJSON(ctx, endpoint, &resp); err != nil {
		if provider.IsNotFound(err) {
			return 0, provider.ErrNoData
		}
		return 0, err
	}
	if resp.Score == nil {
		return 0, provider.ErrNoData
	}
	return *resp.Score, nil
}
