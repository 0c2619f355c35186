package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/provider"
)

// MetaplexProgramID is the Metaplex Token Metadata program.
const MetaplexProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

// SPL Token Mint layout (82 bytes):
// mintAuthority Option<Pubkey> (36) | supply u64 (8) | decimals u8 | isInitialized bool | freezeAuthority (36)
const (
	mintAccountSize = 82
	mintDecimalsAt  = 44
)

// MetadataSource reads token decimals from the SPL mint account and
// name/symbol from the Metaplex metadata account.
type MetadataSource struct {
	rpc RPCClient
}

// NewMetadataSource creates a new RPC-based metadata source.
func NewMetadataSource(rpc RPCClient) *MetadataSource {
	return &MetadataSource{rpc: rpc}
}

// Name returns the provider name.
func (s *MetadataSource) Name() string {
	return Name
}

// TokenMetadata returns metadata for mint, or provider.ErrNoData when the
// mint account does not exist. A missing Metaplex account leaves the name
// and symbol empty.
func (s *MetadataSource) TokenMetadata(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	info, err := s.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get mint account: %w", err)
	}
	if info == nil {
		return nil, provider.ErrNoData
	}

	meta := &domain.TokenMetadata{Address: mint, Chain: domain.ChainSolana, Decimals: -1}
	if d, err := parseMintDecimals(info.Data); err == nil {
		meta.Decimals = d
	}

	pda, err := MetadataPDA(mint)
	if err != nil {
		return meta, nil
	}
	metaInfo, err := s.rpc.GetAccountInfo(ctx, pda)
	if err == nil && metaInfo != nil {
		meta.Name, meta.Symbol = parseMetaplexData(metaInfo.Data)
	}
	return meta, nil
}

// MetadataPDA derives the Metaplex metadata account of mint.
// Seeds: ["metadata", program_id, mint].
func MetadataPDA(mint string) (string, error) {
	mintBytes, err := base58.Decode(mint)
	if err != nil || len(mintBytes) != 32 {
		return "", fmt.Errorf("%w: mint %s", ErrInvalidAddress, mint)
	}
	programBytes, _ := base58.Decode(MetaplexProgramID)

	pda, _, err := FindProgramAddress([][]byte{[]byte("metadata"), programBytes, mintBytes}, programBytes)
	return pda, err
}

func parseMintDecimals(data string) (int, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return 0, fmt.Errorf("decode mint data: %w", err)
	}
	if len(decoded) < mintAccountSize {
		return 0, fmt.Errorf("mint data too short: %d", len(decoded))
	}
	return int(decoded[mintDecimalsAt]), nil
}

// parseMetaplexData reads name and symbol from a MetadataV1 account:
// key u8 (4) | updateAuthority (32) | mint (32) | name borsh string | symbol borsh string | ...
func parseMetaplexData(data string) (name, symbol string) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil || len(decoded) < 69 || decoded[0] != 4 {
		return "", ""
	}

	offset := 65
	read := func(max uint32) (string, bool) {
		if offset+4 > len(decoded) {
			return "", false
		}
		n := binary.LittleEndian.Uint32(decoded[offset:])
		offset += 4
		if n > max || offset+int(n) > len(decoded) {
			return "", false
		}
		s := strings.TrimRight(string(decoded[offset:offset+int(n)]), "\x00")
		offset += int(n)
		return s, true
	}

	name, ok := read(100)
	if !ok {
		return "", ""
	}
	symbol, _ = read(20)
	return name, symbol
}
