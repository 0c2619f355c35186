// Package evm is the node-level fallback for Base: ERC-20 Transfer logs and
// token metadata read straight from an Ethereum JSON-RPC endpoint.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Name is the provider name used in logs, metrics and errors.
const Name = "evm-rpc"

// ChainReader is the subset of ethclient.Client used here.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ ChainReader = (*ethclient.Client)(nil)

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", Name, err)
	}
	return c, nil
}

// ErrInvalidAddress is returned for strings that are not 20-byte hex addresses.
var ErrInvalidAddress = errors.New("invalid evm address")

// ValidateAddress accepts 0x-prefixed 20-byte hex. Mixed-case input must
// carry a valid EIP-55 checksum.
func ValidateAddress(address string) error {
	if len(address) != 42 || !common.IsHexAddress(address) || (address[:2] != "0x" && address[:2] != "0X") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	body := address[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(address).Hex() != address {
			return fmt.Errorf("%w: bad checksum", ErrInvalidAddress)
		}
	}
	return nil
}
