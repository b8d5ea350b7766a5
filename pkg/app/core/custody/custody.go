package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("unauthorized issuance authority")
)

// CollateralTransfer moves collateral base units between holders.
type CollateralTransfer interface {
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error
}

// StableIssuer mints and burns the pegged asset. Only Authority() may call
// MintTo and BurnFrom.
type StableIssuer interface {
	Mint() common.Address
	Authority() common.Address
	Decimals() uint32
	MintTo(ctx context.Context, authority, account common.Address, amount uint64) error
	BurnFrom(ctx context.Context, authority, account common.Address, amount uint64) error
}

// Bank is an in-memory ledger of collateral and stable balances.
// It implements both collaborator interfaces for devnets and tests.
type Bank struct {
	mu         sync.RWMutex
	authority  common.Address
	mint       common.Address
	decimals   uint32
	collateral map[common.Address]uint64
	stable     map[common.Address]uint64
	supply     uint64
}

func NewBank(authority, mint common.Address, decimals uint32) *Bank {
	return &Bank{
		authority:  authority,
		mint:       mint,
		decimals:   decimals,
		collateral: make(map[common.Address]uint64),
		stable:     make(map[common.Address]uint64),
	}
}

// Credit adds collateral out of thin air (faucet).
func (b *Bank) Credit(addr common.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.collateral[addr]
	if bal+amount < bal {
		return fmt.Errorf("collateral balance overflow for %s", addr.Hex())
	}
	b.collateral[addr] = bal + amount
	return nil
}

// Restore rebuilds balances that back persisted vaults: the custody pool
// holds TotalCollateral and each owner holds stable equal to their debt.
// Bank balances live in memory, so a restarted node calls this before
// serving operations.
func (b *Bank) Restore(st vault.SystemState, vaults []vault.Vault) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pool := b.collateral[b.authority]
	if pool+st.TotalCollateral < pool {
		return fmt.Errorf("collateral balance overflow for %s", b.authority.Hex())
	}
	b.collateral[b.authority] = pool + st.TotalCollateral

	for _, v := range vaults {
		if v.Debt == 0 {
			continue
		}
		if b.supply+v.Debt < b.supply {
			return fmt.Errorf("stable supply overflow")
		}
		b.supply += v.Debt
		b.stable[v.Owner] += v.Debt
	}
	return nil
}

func (b *Bank) Transfer(_ context.Context, from, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	have := b.collateral[from]
	if have < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from.Hex(), have, amount)
	}
	if from == to {
		return nil
	}
	if b.collateral[to]+amount < b.collateral[to] {
		return fmt.Errorf("collateral balance overflow for %s", to.Hex())
	}
	b.collateral[from] = have - amount
	b.collateral[to] += amount
	return nil
}

func (b *Bank) Mint() common.Address      { return b.mint }
func (b *Bank) Authority() common.Address { return b.authority }
func (b *Bank) Decimals() uint32          { return b.decimals }

func (b *Bank) MintTo(_ context.Context, authority, account common.Address, amount uint64) error {
	if authority != b.authority {
		return fmt.Errorf("%w: %s", ErrUnauthorized, authority.Hex())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.supply+amount < b.supply {
		return fmt.Errorf("stable supply overflow")
	}
	b.supply += amount
	b.stable[account] += amount
	return nil
}

func (b *Bank) BurnFrom(_ context.Context, authority, account common.Address, amount uint64) error {
	if authority != b.authority {
		return fmt.Errorf("%w: %s", ErrUnauthorized, authority.Hex())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	have := b.stable[account]
	if have < amount {
		return fmt.Errorf("%w: %s holds %d stable, needs %d", ErrInsufficientFunds, account.Hex(), have, amount)
	}
	b.stable[account] = have - amount
	b.supply -= amount
	return nil
}

func (b *Bank) CollateralBalance(addr common.Address) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collateral[addr]
}

func (b *Bank) StableBalance(addr common.Address) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stable[addr]
}

func (b *Bank) StableSupply() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.supply
}

var (
	_ CollateralTransfer = (*Bank)(nil)
	_ StableIssuer       = (*Bank)(nil)
)
