package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeWindowKey computes a cache key for a price-history window.
// Formula: SHA256(chain|token|window_start|window_end), first 32 hex chars,
// prefixed with the given namespace.
func ComputeWindowKey(namespace, chain, token string, windowStart, windowEnd int64) string {
	data := fmt.Sprintf("%s|%s|%d|%d", chain, token, windowStart, windowEnd)
	hash := sha256.Sum256([]byte(data))
	return namespace + ":" + hex.EncodeToString(hash[:16])
}
