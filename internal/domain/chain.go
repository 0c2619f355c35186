package domain

import "fmt"

// Chain identifies a supported blockchain.
type Chain string

const (
	ChainSolana Chain = "solana"
	ChainBase   Chain = "base"
)

// String returns the string representation of Chain.
func (c Chain) String() string {
	return string(c)
}

// IsValid checks if the chain is a supported value.
func (c Chain) IsValid() bool {
	return c == ChainSolana || c == ChainBase
}

// ParseChain converts a request value into a Chain.
func ParseChain(s string) (Chain, error) {
	c := Chain(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unsupported chain %q", s)
	}
	return c, nil
}

// Window is a closed time range [FromMs, ToMs] in Unix milliseconds.
type Window struct {
	FromMs int64
	ToMs   int64
}

// Contains reports whether ts lies inside the window.
func (w Window) Contains(ts int64) bool {
	return ts >= w.FromMs && ts <= w.ToMs
}
