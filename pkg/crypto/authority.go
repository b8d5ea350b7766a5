// file: pkg/crypto/authority.go
package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Seeds for the identities owned by the system rather than by any user.
const (
	VaultAuthoritySeed = "hyperdai_vault_authority"
	StableMintSeed     = "hyperdai_stable_mint"
	VaultSeed          = "hyperdai_vault"
)

// DeriveAddress returns the last 20 bytes of keccak256(seed_0 || seed_1 || ...).
// No private key exists for the result; only this process acts for it.
func DeriveAddress(seeds ...[]byte) common.Address {
	h := sha3.NewLegacyKeccak256()
	for _, s := range seeds {
		h.Write(s)
	}
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:])
}

// VaultAuthority is the custody pool and sole issuance authority.
func VaultAuthority() common.Address {
	return DeriveAddress([]byte(VaultAuthoritySeed))
}

// StableMint identifies the pegged asset issued by this deployment.
func StableMint() common.Address {
	return DeriveAddress([]byte(StableMintSeed))
}

// VaultAddress derives the per-owner vault record identity.
func VaultAddress(owner common.Address) common.Address {
	return DeriveAddress([]byte(VaultSeed), owner.Bytes())
}
