package evm

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/provider"
)

// ERC-20 view function selectors.
var (
	selectorName     = common.FromHex("0x06fdde03")
	selectorSymbol   = common.FromHex("0x95d89b41")
	selectorDecimals = common.FromHex("0x313ce567")
)

var stringArgs = func() abi.Arguments {
	t, _ := abi.NewType("string", "", nil)
	return abi.Arguments{{Type: t}}
}()

// MetadataSource reads ERC-20 name, symbol and decimals with eth_call.
type MetadataSource struct {
	client ChainReader
}

// NewMetadataSource creates a metadata source.
func NewMetadataSource(client ChainReader) *MetadataSource {
	return &MetadataSource{client: client}
}

// Name returns the provider name.
func (s *MetadataSource) Name() string {
	return Name
}

// TokenMetadata returns provider.ErrNoData when token does not answer
// decimals().
func (s *MetadataSource) TokenMetadata(ctx context.Context, token string) (*domain.TokenMetadata, error) {
	decimals, err := s.Decimals(ctx, token)
	if err != nil {
		return nil, err
	}
	meta := &domain.TokenMetadata{Address: strings.ToLower(token), Chain: domain.ChainBase, Decimals: decimals}
	if out, err := s.call(ctx, token, selectorSymbol); err == nil {
		meta.Symbol = decodeString(out)
	}
	if out, err := s.call(ctx, token, selectorName); err == nil {
		meta.Name = decodeString(out)
	}
	return meta, nil
}

// Decimals calls decimals() on token.
func (s *MetadataSource) Decimals(ctx context.Context, token string) (int, error) {
	out, err := s.call(ctx, token, selectorDecimals)
	if err != nil {
		return 0, err
	}
	if len(out) < 32 {
		return 0, provider.ErrNoData
	}
	d := new(big.Int).SetBytes(out[:32])
	if !d.IsInt64() || d.Int64() > 77 {
		return 0, fmt.Errorf("token %s: decimals %s out of range", token, d)
	}
	return int(d.Int64()), nil
}

func (s *MetadataSource) call(ctx context.Context, token string, selector []byte) ([]byte, error) {
	addr := common.HexToAddress(token)
	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: selector}, nil)
	if err != nil {
		return nil, provider.NewUpstreamError(Name, 0, err)
	}
	return out, nil
}

// decodeString decodes an ABI string, falling back to the bytes32 encoding
// some older tokens return.
func decodeString(out []byte) string {
	if vals, err := stringArgs.Unpack(out); err == nil && len(vals) == 1 {
		if s, ok := vals[0].(string); ok {
			return s
		}
	}
	if len(out) == 32 {
		return string(bytes.TrimRight(out, "\x00"))
	}
	return ""
}
