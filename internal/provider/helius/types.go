package helius

// EnhancedTransaction is one parsed transaction from the Enhanced Transactions API.
type EnhancedTransaction struct {
	Type             string           `json:"type"`
	Source           string           `json:"source"`
	Signature        string           `json:"signature"`
	Slot             int64            `json:"slot"`
	Timestamp        int64            `json:"timestamp"` // Unix seconds
	NativeTransfers  []NativeTransfer `json:"nativeTransfers"`
	TokenTransfers   []TokenTransfer  `json:"tokenTransfers"`
	TransactionError *TxError         `json:"transactionError"`
	Events           Events           `json:"events"`
}

// NativeTransfer is a SOL transfer between accounts.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"` // lamports
}

// TokenTransfer is an SPL token transfer between accounts.
type TokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	TokenAmount     float64 `json:"tokenAmount"` // human units
	Mint            string  `json:"mint"`
}

// RawTokenAmount is an integer token amount with its decimals.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}

// TxError is a failed transaction marker.
type TxError struct {
	Error string `json:"error"`
}

// Events holds structured events parsed by Helius.
type Events struct {
	Swap *SwapEvent `json:"swap"`
}

// SwapEvent is the net effect of a swap for the fee payer.
type SwapEvent struct {
	NativeInput  *NativeAmount `json:"nativeInput"`
	NativeOutput *NativeAmount `json:"nativeOutput"`
	TokenInputs  []SwapToken   `json:"tokenInputs"`
	TokenOutputs []SwapToken   `json:"tokenOutputs"`
}

// NativeAmount is a lamport amount tied to an account.
type NativeAmount struct {
	Account string `json:"account"`
	Amount  string `json:"amount"` // lamports
}

// SwapToken is a token leg of a swap event.
type SwapToken struct {
	UserAccount    string         `json:"userAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}
