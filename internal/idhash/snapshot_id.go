package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeSnapshotID computes a deterministic conviction snapshot id using SHA256.
// Formula: SHA256(address|chain|time_horizon_days|snapshot_date)
// Solana addresses are case-sensitive; EVM addresses are lowercased first.
// Returns hex-encoded hash (64 characters).
func ComputeSnapshotID(
	address string,
	chain string,
	timeHorizonDays int,
	snapshotDate string,
) string {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		address = strings.ToLower(address)
	}
	data := fmt.Sprintf("%s|%s|%d|%s",
		address,
		chain,
		timeHorizonDays,
		snapshotDate,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
