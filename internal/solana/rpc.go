package solana

import "context"

// RPCClient is the subset of the Solana JSON-RPC API used for wallet history
// and token metadata.
type RPCClient interface {
	// GetSignaturesForAddress returns signatures newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction returns nil, nil when the transaction is unknown.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetAccountInfo returns nil, nil when the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)
}

// Transaction is a confirmed transaction with balance metadata.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix seconds
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta holds the status and balance changes of a transaction.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreBalances       []uint64 // lamports, indexed like AccountKeys
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TransactionMessage holds the resolved account keys, static keys first and
// then addresses loaded from lookup tables.
type TransactionMessage struct {
	AccountKeys []string
}

// TokenBalance is an SPL token account balance before or after a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // integer base units
	Decimals     int
}

// SignatureInfo is one entry of getSignaturesForAddress. Err is non-nil for
// failed transactions, which the source skips without fetching.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts pages getSignaturesForAddress backwards from Before.
type SignaturesOpts struct {
	Before string
	Until  string
	Limit  int
}

// AccountInfo is an account fetched with base64 encoding. Data stays
// base64; the mint and metadata parsers decode it.
type AccountInfo struct {
	Lamports uint64
	Owner    string
	Data     string
}
