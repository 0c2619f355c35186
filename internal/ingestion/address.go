package ingestion

import (
	"errors"
	"fmt"

	"conviction-lab/internal/domain"
	"conviction-lab/internal/evm"
	"conviction-lab/internal/solana"
)

// ErrInvalidAddress is returned for wallet addresses malformed for their chain.
var ErrInvalidAddress = errors.New("invalid wallet address")

// ValidateAddress checks address against the format of chain.
func ValidateAddress(chain domain.Chain, address string) error {
	var err error
	switch chain {
	case domain.ChainSolana:
		err = solana.ValidateAddress(address)
	case domain.ChainBase:
		err = evm.ValidateAddress(address)
	default:
		return fmt.Errorf("%w: unsupported chain %q", ErrInvalidAddress, chain)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}
