package vault

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdai/pkg/app/core/valuation"
)

var (
	ErrVaultNotInitialized    = errors.New("vault not initialized")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInsufficientDebt       = errors.New("insufficient debt")
	ErrAlreadyInitialized     = errors.New("system already initialized")
	ErrNotInitialized         = errors.New("system not initialized")
	ErrInvariantViolated      = errors.New("ledger invariant violated")
)

// Vault is one user's collateral-and-debt position.
// Collateral is in collateral base units (lamports), Debt in stable base units.
type Vault struct {
	Owner       common.Address `json:"owner"`
	Collateral  uint64         `json:"collateral"`
	Debt        uint64         `json:"debt"`
	Initialized bool           `json:"initialized"`
}

// SystemState is the deployment singleton.
// TotalCollateral and TotalDebt always equal the sums over all vaults.
type SystemState struct {
	Admin           common.Address `json:"admin"`
	StableAsset     common.Address `json:"stable_asset"`
	Authority       common.Address `json:"authority"`
	TotalDebt       uint64         `json:"total_debt"`
	TotalCollateral uint64         `json:"total_collateral"`
	Initialized     bool           `json:"initialized"`
}

// LiquidationRecord is the persisted outcome of one liquidation.
type LiquidationRecord struct {
	ID               string         `json:"id"`
	Owner            common.Address `json:"owner"`
	Liquidator       common.Address `json:"liquidator"`
	CollateralSeized uint64         `json:"collateral_seized"` // removed from the vault
	Penalty          uint64         `json:"penalty"`           // kept by the custody pool
	Payout           uint64         `json:"payout"`            // paid to the liquidator
	DebtCleared      uint64         `json:"debt_cleared"`
	Price            int64          `json:"price"`
	Exponent         int32          `json:"exponent"`
	Timestamp        int64          `json:"timestamp"` // unix nanos
}

// Delta is a signed change to an unsigned balance.
type Delta struct {
	Amount   uint64
	Negative bool
}

func Inc(amount uint64) Delta { return Delta{Amount: amount} }
func Dec(amount uint64) Delta { return Delta{Amount: amount, Negative: true} }

func (d Delta) IsZero() bool { return d.Amount == 0 }

// apply returns v+d, or underflow when a decrease exceeds v.
func (d Delta) apply(v uint64, underflow error) (uint64, error) {
	if !d.Negative {
		return valuation.AddU64(v, d.Amount)
	}
	if d.Amount > v {
		return 0, fmt.Errorf("%w: have %d, need %d", underflow, v, d.Amount)
	}
	return v - d.Amount, nil
}

// Changeset is everything one transaction writes. Stores apply it atomically.
type Changeset struct {
	Vaults       []Vault
	State        *SystemState
	Liquidations []LiquidationRecord
}

func (c Changeset) Empty() bool {
	return len(c.Vaults) == 0 && c.State == nil && len(c.Liquidations) == 0
}

// Store persists ledger state. Load methods return nil, nil when absent.
type Store interface {
	LoadSystemState() (*SystemState, error)
	LoadVault(owner common.Address) (*Vault, error)
	LoadVaults() ([]Vault, error)
	Commit(cs Changeset) error
	LiquidationHistory(limit int) ([]LiquidationRecord, error)
	Close() error
}
