package solana_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/normalization"
	"conviction-lab/internal/solana"
	"conviction-lab/internal/solana/stub"
)

const (
	wallet = "Wallet1111111111111111111111111111111111111"
	mint   = "MintAAAA11111111111111111111111111111111111"
)

func blockTime(sec int64) *int64 { return &sec }

func buyTx(sig string, sec int64) *solana.Transaction {
	return &solana.Transaction{
		Slot:      sec,
		Signature: sig,
		BlockTime: sec,
		Meta: &solana.TransactionMeta{
			Fee:          5000,
			PreBalances:  []uint64{10_000_000_000, 0},
			PostBalances: []uint64{8_999_995_000, 0},
			PostTokenBalances: []solana.TokenBalance{
				{AccountIndex: 2, Mint: mint, Owner: wallet, Amount: "5000000", Decimals: 6},
				{AccountIndex: 3, Mint: mint, Owner: "Pool", Amount: "1", Decimals: 6},
			},
			PreTokenBalances: []solana.TokenBalance{
				{AccountIndex: 3, Mint: mint, Owner: "Pool", Amount: "5000001", Decimals: 6},
			},
		},
		Message: &solana.TransactionMessage{AccountKeys: []string{wallet, "Pool"}},
	}
}

func TestSource_StopsAtCutoff(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Signatures[wallet] = []solana.SignatureInfo{
		{Signature: "s4", BlockTime: blockTime(4000)},
		{Signature: "s3", BlockTime: blockTime(3000), Err: "InstructionError"},
		{Signature: "s2", BlockTime: blockTime(2000)},
		{Signature: "s1", BlockTime: blockTime(1000)},
	}
	rpc.Transactions["s2"] = buyTx("s2", 2000)

	src := solana.NewSource(rpc, solana.SourceConfig{PageSize: 2, MaxPages: 10})
	records, err := src.FetchTrades(context.Background(), wallet, domain.Window{FromMs: 1_500_000, ToMs: 3_500_000})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, rpc.SignatureCalls)

	r := records[0]
	assert.Equal(t, "s2", r.Hash)
	assert.Equal(t, int64(2_000_000), r.TimestampMs)

	trade, err := normalization.New(normalization.DefaultRegistry(domain.ChainSolana), 150).Normalize(&r)
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, trade.Side)
	assert.Equal(t, mint, trade.TokenAddress)
	assert.InDelta(t, 5.0, trade.Amount, 1e-9)
	assert.InDelta(t, 150.0, trade.ValueUSD, 1e-9)
}

func TestSource_PageCap(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Signatures[wallet] = []solana.SignatureInfo{
		{Signature: "s3", BlockTime: blockTime(3000)},
		{Signature: "s2", BlockTime: blockTime(2000)},
	}
	rpc.Transactions["s3"] = buyTx("s3", 3000)

	src := solana.NewSource(rpc, solana.SourceConfig{PageSize: 1, MaxPages: 1})
	records, err := src.FetchTrades(context.Background(), wallet, domain.Window{FromMs: 0, ToMs: 10_000_000})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, rpc.SignatureCalls)
}

func TestSource_TransactionFailureFailsFetch(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Signatures[wallet] = []solana.SignatureInfo{
		{Signature: "s2", BlockTime: blockTime(2000)},
		{Signature: "s1", BlockTime: blockTime(1000)},
	}
	rpc.Transactions["s2"] = buyTx("s2", 2000)

	src := solana.NewSource(rpc, solana.SourceConfig{})
	records, err := src.FetchTrades(context.Background(), wallet, domain.Window{FromMs: 0, ToMs: 10_000_000})
	assert.ErrorIs(t, err, stub.ErrNotFound)
	assert.Nil(t, records)
}

func TestWalletDeltas(t *testing.T) {
	t.Run("sell paid by another fee payer", func(t *testing.T) {
		tx := &solana.Transaction{
			Signature: "sig",
			BlockTime: 100,
			Meta: &solana.TransactionMeta{
				Fee:          5000,
				PreBalances:  []uint64{50_000, 1_000_000_000},
				PostBalances: []uint64{45_000, 3_000_000_000},
				PreTokenBalances: []solana.TokenBalance{
					{Mint: mint, Owner: wallet, Amount: "7000000", Decimals: 6},
				},
				PostTokenBalances: []solana.TokenBalance{
					{Mint: mint, Owner: wallet, Amount: "2000000", Decimals: 6},
				},
			},
			Message: &solana.TransactionMessage{AccountKeys: []string{"Relayer", wallet}},
		}

		r, ok := solana.WalletDeltas(tx, wallet)
		require.True(t, ok)
		assert.Equal(t, []normalization.Leg{
			{TokenAddress: normalization.SolanaNativeAddress, RawAmount: "2000000000", Decimals: 9, Inflow: true},
			{TokenAddress: mint, RawAmount: "5000000", Decimals: 6, Inflow: false},
		}, r.Legs)
	})

	t.Run("failed transaction", func(t *testing.T) {
		tx := buyTx("sig", 100)
		tx.Meta.Err = map[string]interface{}{"InstructionError": 0}
		_, ok := solana.WalletDeltas(tx, wallet)
		assert.False(t, ok)
	})

	t.Run("fee only", func(t *testing.T) {
		tx := &solana.Transaction{
			Signature: "sig",
			BlockTime: 100,
			Meta: &solana.TransactionMeta{
				Fee:          5000,
				PreBalances:  []uint64{1_000_000},
				PostBalances: []uint64{995_000},
			},
			Message: &solana.TransactionMessage{AccountKeys: []string{wallet}},
		}
		_, ok := solana.WalletDeltas(tx, wallet)
		assert.False(t, ok)
	})
}
