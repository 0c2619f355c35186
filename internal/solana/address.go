package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned for strings that are not wallet public keys.
var ErrInvalidAddress = errors.New("invalid solana address")

// ValidateAddress checks that address is a base58 ed25519 public key on the
// curve. Program derived addresses are off-curve and cannot sign swaps.
func ValidateAddress(address string) error {
	b, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(b) != 32 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidAddress, len(b))
	}
	if !isOnCurve(b) {
		return fmt.Errorf("%w: off curve", ErrInvalidAddress)
	}
	return nil
}

// FindProgramAddress derives a program address from seeds, searching bump
// seeds from 255 down for the first off-curve hash.
func FindProgramAddress(seeds [][]byte, programID []byte) (string, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, errors.New("no viable bump seed")
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
