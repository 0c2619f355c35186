package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"conviction-lab/internal/provider/httpx"
)

type testRequest struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func newRPCServer(t *testing.T, handler func(req testRequest) interface{}) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handler(req),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return NewHTTPClient(server.URL, httpx.New(Name, httpx.WithMaxRetries(0)))
}

func TestHTTPClient_GetTransaction(t *testing.T) {
	client := newRPCServer(t, func(req testRequest) interface{} {
		if req.Method != "getTransaction" {
			t.Errorf("expected method getTransaction, got %s", req.Method)
		}
		return map[string]interface{}{
			"slot":      int64(123456),
			"blockTime": int64(1700000000),
			"meta": map[string]interface{}{
				"err":              nil,
				"fee":              5000,
				"preBalances":      []uint64{1000000000, 0},
				"postBalances":     []uint64{899995000, 0},
				"preTokenBalances": []interface{}{},
				"postTokenBalances": []map[string]interface{}{
					{
						"accountIndex": 2,
						"mint":         "MintA",
						"owner":        "addr1",
						"uiTokenAmount": map[string]interface{}{
							"amount":   "5000000",
							"decimals": 6,
						},
					},
				},
				"loadedAddresses": map[string]interface{}{
					"writable": []string{"loaded1"},
					"readonly": []string{"loaded2"},
				},
			},
			"transaction": map[string]interface{}{
				"message": map[string]interface{}{
					"accountKeys": []string{"addr1", "addr2"},
				},
			},
		}
	})

	tx, err := client.GetTransaction(context.Background(), "testsig123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}
	if tx.Slot != 123456 || tx.BlockTime != 1700000000 {
		t.Errorf("unexpected slot/blockTime %d/%d", tx.Slot, tx.BlockTime)
	}
	if tx.Meta == nil || tx.Meta.Fee != 5000 {
		t.Fatalf("expected fee 5000, got %+v", tx.Meta)
	}
	if len(tx.Meta.PostTokenBalances) != 1 {
		t.Fatalf("expected 1 post token balance, got %d", len(tx.Meta.PostTokenBalances))
	}
	tb := tx.Meta.PostTokenBalances[0]
	if tb.Mint != "MintA" || tb.Owner != "addr1" || tb.Amount != "5000000" || tb.Decimals != 6 {
		t.Errorf("unexpected token balance %+v", tb)
	}
	want := []string{"addr1", "addr2", "loaded1", "loaded2"}
	if len(tx.Message.AccountKeys) != len(want) {
		t.Fatalf("expected %d account keys, got %v", len(want), tx.Message.AccountKeys)
	}
	for i, k := range want {
		if tx.Message.AccountKeys[i] != k {
			t.Errorf("key %d: expected %s, got %s", i, k, tx.Message.AccountKeys[i])
		}
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	client := newRPCServer(t, func(req testRequest) interface{} { return nil })

	tx, err := client.GetTransaction(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil for not found, got %+v", tx)
	}
}

func TestHTTPClient_GetSignaturesForAddress(t *testing.T) {
	client := newRPCServer(t, func(req testRequest) interface{} {
		if req.Method != "getSignaturesForAddress" {
			t.Errorf("expected method getSignaturesForAddress, got %s", req.Method)
		}
		var opts map[string]interface{}
		if len(req.Params) == 2 {
			json.Unmarshal(req.Params[1], &opts)
		}
		if opts["before"] != "sig0" || opts["limit"] != float64(10) {
			t.Errorf("unexpected options %v", opts)
		}

		blockTime := int64(1700000000)
		return []map[string]interface{}{
			{"signature": "sig1", "slot": int64(100), "blockTime": blockTime, "err": nil},
			{"signature": "sig2", "slot": int64(101), "blockTime": blockTime, "err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
		}
	})

	sigs, err := client.GetSignaturesForAddress(context.Background(), "testaddr", &SignaturesOpts{Before: "sig0", Limit: 10})
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	if sigs[0].Signature != "sig1" || sigs[0].Err != nil {
		t.Errorf("unexpected first signature %+v", sigs[0])
	}
	if sigs[1].Slot != 101 || sigs[1].Err == nil {
		t.Errorf("unexpected second signature %+v", sigs[1])
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	client := newRPCServer(t, func(req testRequest) interface{} {
		var key string
		json.Unmarshal(req.Params[0], &key)
		if key == "missing" {
			return map[string]interface{}{"value": nil}
		}
		return map[string]interface{}{
			"value": map[string]interface{}{
				"lamports": 1461600,
				"owner":    "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
				"data":     []string{"AQID", "base64"},
			},
		}
	})
	ctx := context.Background()

	info, err := client.GetAccountInfo(ctx, "mint")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info == nil || info.Data != "AQID" || info.Lamports != 1461600 {
		t.Errorf("unexpected account %+v", info)
	}

	info, err = client.GetAccountInfo(ctx, "missing")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil account, got %+v", info)
	}
}
