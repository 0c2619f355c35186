package helius

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/provider"
	"conviction-lab/internal/provider/httpx"
)

const (
	wallet = "WaLLet1111111111111111111111111111111111111"
	mint   = "MiNt111111111111111111111111111111111111111"
)

func swapTx(sig string, ts int64) EnhancedTransaction {
	return EnhancedTransaction{
		Type:      "SWAP",
		Signature: sig,
		Slot:      ts,
		Timestamp: ts,
		Events: Events{Swap: &SwapEvent{
			NativeInput: &NativeAmount{Account: wallet, Amount: "2000000000"},
			TokenOutputs: []SwapToken{{
				UserAccount:    wallet,
				Mint:           mint,
				RawTokenAmount: RawTokenAmount{TokenAmount: "5000000", Decimals: 6},
			}},
		}},
	}
}

func newTestClient(url string, pageSize, maxPages int) *Client {
	http := httpx.New(Name, httpx.WithRetryDelay(time.Millisecond), httpx.WithMaxRetries(0))
	return New(Config{BaseURL: url, APIKey: "k", PageSize: pageSize, MaxPages: maxPages}, http)
}

func TestFetchTrades_StopsAtCutoff(t *testing.T) {
	pages := map[string][]EnhancedTransaction{
		"":   {swapTx("s5", 5000), swapTx("s4", 4000)},
		"s4": {swapTx("s3", 3000), swapTx("s2", 2000)},
		"s2": {swapTx("s1", 1000)},
	}
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("api-key") != "k" || r.URL.Query().Get("type") != "SWAP" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(pages[r.URL.Query().Get("before")])
	}))
	defer server.Close()

	c := newTestClient(server.URL, 2, 10)
	recs, err := c.FetchTrades(context.Background(), wallet, domain.Window{FromMs: 2500 * 1000, ToMs: 4500 * 1000})
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}

	// s5 is after the window, s4 and s3 inside, s2 crosses the cutoff.
	if len(recs) != 2 || recs[0].Hash != "s4" || recs[1].Hash != "s3" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 page requests, got %d", calls.Load())
	}
}

func TestFetchTrades_PageCap(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		ts := int64(100000 - n*10)
		json.NewEncoder(w).Encode([]EnhancedTransaction{swapTx("a"+r.URL.Query().Get("before"), ts), swapTx("b"+r.URL.Query().Get("before"), ts-1)})
	}))
	defer server.Close()

	c := newTestClient(server.URL, 2, 3)
	recs, err := c.FetchTrades(context.Background(), wallet, domain.Window{FromMs: 0, ToMs: 1 << 50})
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 page requests, got %d", calls.Load())
	}
	if len(recs) != 6 {
		t.Errorf("expected 6 records, got %d", len(recs))
	}
}

func TestFetchTrades_PageFailureFailsFetch(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]EnhancedTransaction{swapTx("s2", 2000), swapTx("s1", 1000)})
	}))
	defer server.Close()

	c := newTestClient(server.URL, 2, 10)
	recs, err := c.FetchTrades(context.Background(), wallet, domain.Window{FromMs: 0, ToMs: 1 << 50})
	if !errors.Is(err, provider.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if recs != nil {
		t.Errorf("partial results must not be returned: %+v", recs)
	}
}

func TestToRawTrade_SwapEventNormalizesToBuy(t *testing.T) {
	tx := swapTx("sig", 1700000000)
	rec, ok := toRawTrade(&tx, wallet)
	if !ok {
		t.Fatal("expected a record")
	}

	n := normalization.New(normalization.DefaultRegistry(domain.ChainSolana), 150)
	trade, err := n.Normalize(&rec)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if trade.Side != domain.SideBuy {
		t.Errorf("expected buy, got %s", trade.Side)
	}
	if trade.Amount != 5 {
		t.Errorf("expected 5 tokens, got %f", trade.Amount)
	}
	if trade.ValueUSD != 300 {
		t.Errorf("expected $300, got %f", trade.ValueUSD)
	}
	if trade.TimestampMs != 1700000000000 {
		t.Errorf("unexpected timestamp %d", trade.TimestampMs)
	}
}

func TestToRawTrade_PlainTransfersSell(t *testing.T) {
	tx := EnhancedTransaction{
		Signature: "sig",
		Timestamp: 1700000000,
		NativeTransfers: []NativeTransfer{
			{FromUserAccount: "pool", ToUserAccount: wallet, Amount: 1_500_000_000},
			{FromUserAccount: wallet, ToUserAccount: "tip", Amount: 500_000_000},
		},
		TokenTransfers: []TokenTransfer{
			{FromUserAccount: wallet, ToUserAccount: "pool", Mint: mint, TokenAmount: 42},
		},
	}

	rec, ok := toRawTrade(&tx, wallet)
	if !ok {
		t.Fatal("expected a record")
	}
	if len(rec.Legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(rec.Legs))
	}
	if !rec.Legs[0].Inflow || rec.Legs[0].RawAmount != "1000000000" {
		t.Errorf("unexpected native leg %+v", rec.Legs[0])
	}
	if rec.Legs[1].Inflow || rec.Legs[1].Amount != 42 {
		t.Errorf("unexpected token leg %+v", rec.Legs[1])
	}
}

func TestToRawTrade_FailedTransactionSkipped(t *testing.T) {
	tx := swapTx("sig", 1700000000)
	tx.TransactionError = &TxError{Error: "slippage"}
	if _, ok := toRawTrade(&tx, wallet); ok {
		t.Error("failed transaction must be skipped")
	}
}
