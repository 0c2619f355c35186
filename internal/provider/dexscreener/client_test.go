package dexscreener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/provider/httpx"
)

const body = `{"pairs":[
 {"chainId":"base","baseToken":{"address":"TOK","symbol":"TOK"},"priceUsd":"9.0","liquidity":{"usd":900000}},
 {"chainId":"solana","baseToken":{"address":"TOK","name":"Token","symbol":"TOK"},"priceUsd":"1.10","liquidity":{"usd":1000},"info":{"imageUrl":"https://img/a.png"}},
 {"chainId":"solana","baseToken":{"address":"TOK","name":"Token","symbol":"TOK"},"priceUsd":"1.25","liquidity":{"usd":50000}},
 {"chainId":"solana","baseToken":{"address":"OTHER","symbol":"OTH"},"quoteToken":{"address":"TOK"},"priceUsd":"100","liquidity":{"usd":9000000}}
]}`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/latest/dex/tokens/TOK" {
			w.Write([]byte(body))
			return
		}
		w.Write([]byte(`{"pairs":null}`))
	}))
	t.Cleanup(server.Close)
	return New(server.URL, domain.ChainSolana, httpx.New(Name, httpx.WithMaxRetries(0)))
}

func TestCurrentPrice_DeepestPairOnChain(t *testing.T) {
	c := newTestClient(t)

	price, err := c.CurrentPrice(context.Background(), "TOK")
	require.NoError(t, err)
	assert.Equal(t, 1.25, price)
}

func TestCurrentPrice_NoPairs(t *testing.T) {
	c := newTestClient(t)

	_, err := c.CurrentPrice(context.Background(), "NOPE")
	assert.ErrorIs(t, err, provider.ErrNoData)
}

func TestTokenMetadata(t *testing.T) {
	c := newTestClient(t)

	meta, err := c.TokenMetadata(context.Background(), "TOK")
	require.NoError(t, err)
	assert.Equal(t, "Token", meta.Name)
	assert.Equal(t, "TOK", meta.Symbol)
	assert.Equal(t, -1, meta.Decimals)
	assert.False(t, meta.HasDecimals())
}
