package normalization

import (
	"strings"

	"conviction-lab/internal/domain"
)

// Native coin sentinels. Providers that report native transfers separately
// from token transfers map them to these addresses.
const (
	SolanaNativeAddress = "So11111111111111111111111111111111111111112" // also the wSOL mint
	BaseNativeAddress   = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	BaseWETHAddress     = "0x4200000000000000000000000000000000000006"
)

// BaseAsset is a quote asset used to infer trade side and USD value.
type BaseAsset struct {
	Address  string
	Symbol   string
	Decimals int
	Stable   bool // priced at 1 USD
}

// Registry holds the base assets of one chain.
type Registry struct {
	chain         domain.Chain
	nativeAddress string
	byAddress     map[string]BaseAsset
}

// NewRegistry creates a registry for chain with the given native price key and assets.
func NewRegistry(chain domain.Chain, nativeAddress string, assets ...BaseAsset) *Registry {
	r := &Registry{
		chain:         chain,
		nativeAddress: normalizeAddress(chain, nativeAddress),
		byAddress:     make(map[string]BaseAsset, len(assets)),
	}
	for _, a := range assets {
		r.byAddress[normalizeAddress(chain, a.Address)] = a
	}
	return r
}

// DefaultRegistry returns the built-in base assets for chain.
func DefaultRegistry(chain domain.Chain) *Registry {
	switch chain {
	case domain.ChainSolana:
		return NewRegistry(chain, SolanaNativeAddress,
			BaseAsset{Address: SolanaNativeAddress, Symbol: "SOL", Decimals: 9},
			BaseAsset{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Decimals: 6, Stable: true},
			BaseAsset{Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Symbol: "USDT", Decimals: 6, Stable: true},
		)
	case domain.ChainBase:
		return NewRegistry(chain, BaseWETHAddress,
			BaseAsset{Address: BaseNativeAddress, Symbol: "ETH", Decimals: 18},
			BaseAsset{Address: BaseWETHAddress, Symbol: "WETH", Decimals: 18},
			BaseAsset{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6, Stable: true},
			BaseAsset{Address: "0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA", Symbol: "USDbC", Decimals: 6, Stable: true},
			BaseAsset{Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Symbol: "DAI", Decimals: 18, Stable: true},
		)
	default:
		return NewRegistry(chain, "")
	}
}

// Chain returns the registry chain.
func (r *Registry) Chain() domain.Chain {
	return r.chain
}

// NativePriceAddress is the token whose USD price values native and wrapped legs.
func (r *Registry) NativePriceAddress() string {
	return r.nativeAddress
}

// Lookup returns the base asset for address, if any.
func (r *Registry) Lookup(address string) (BaseAsset, bool) {
	a, ok := r.byAddress[normalizeAddress(r.chain, address)]
	return a, ok
}

// IsBase reports whether address is a base asset.
func (r *Registry) IsBase(address string) bool {
	_, ok := r.Lookup(address)
	return ok
}

// normalizeAddress lowercases EVM addresses. Solana addresses are case-sensitive.
func normalizeAddress(chain domain.Chain, address string) string {
	if chain == domain.ChainBase {
		return strings.ToLower(address)
	}
	return address
}

// excludedSymbolPatterns match LP and synthetic position tokens.
var excludedSymbolPatterns = []string{
	"-LP",
	"UNI-V2",
	"UNI-V3",
	"SLP",
	"CAKE-LP",
	"VAMM-",
	"SAMM-",
}

// IsExcludedSymbol reports whether symbol looks like an LP or synthetic token.
func IsExcludedSymbol(symbol string) bool {
	if symbol == "" {
		return false
	}
	upper := strings.ToUpper(symbol)
	for _, p := range excludedSymbolPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}
