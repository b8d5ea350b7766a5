package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes
const (
	prefixVault       = "vault:" // Vault state
	prefixLiquidation = "liq:"   // Liquidation history
	keySystemState    = "state"  // SystemState singleton
)

// vaultKey returns the key for a vault
// Format: "vault:{owner}"
// Example: "vault:0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
func vaultKey(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixVault, owner.Hex()))
}

func vaultPrefix() []byte {
	return []byte(prefixVault)
}

// liquidationKey returns the key for a liquidation record
// Format: "liq:{timestamp}:{id}"
// Timestamp is zero-padded (20 digits) for lexicographic sorting
func liquidationKey(timestamp int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixLiquidation, timestamp, id))
}

func liquidationPrefix() []byte {
	return []byte(prefixLiquidation)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "vault:" -> upper bound "vault;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
