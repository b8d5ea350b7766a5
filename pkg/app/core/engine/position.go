package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperdai/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperdai/pkg/app/core/valuation"
	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
)

// Ratio is a collateral ratio in basis points. Unbounded when there is no debt.
type Ratio struct {
	Bps       *uint256.Int
	Unbounded bool
}

func (r Ratio) String() string {
	if r.Unbounded || r.Bps == nil {
		return "inf"
	}
	return r.Bps.Dec()
}

// Position is a priced view of one vault.
type Position struct {
	Owner      common.Address
	Collateral uint64
	Debt       uint64

	CollateralValue  *uint256.Int // stable base units
	Ratio            Ratio
	MaxMintable      uint64       // additional debt allowed at MinRatioBps
	LiquidationPrice *uint256.Int // per whole collateral unit in stable base units; nil without debt
	Healthy          bool

	Quote oracle.PriceQuote
}

// CollateralRatio returns value × 10000 / debt. A vault without debt has an
// unbounded ratio and needs no price.
func (e *Engine) CollateralRatio(ctx context.Context, owner common.Address) (Ratio, error) {
	v, err := e.Vault(owner)
	if err != nil {
		return Ratio{}, err
	}
	if v.Debt == 0 {
		return Ratio{Unbounded: true}, nil
	}

	q, err := e.oracle.LatestPrice(ctx, e.clock.Now())
	if err != nil {
		return Ratio{}, err
	}
	value, err := e.valueOf(v.Collateral, q)
	if err != nil {
		return Ratio{}, err
	}
	bps, _ := valuation.RatioBps(value, v.Debt)
	return Ratio{Bps: bps}, nil
}

// Vault returns the committed vault for owner.
func (e *Engine) Vault(owner common.Address) (vault.Vault, error) {
	v, ok := e.ledger.Vault(owner)
	if !ok || !v.Initialized {
		return vault.Vault{}, fmt.Errorf("%w: %s", ErrVaultNotInitialized, owner.Hex())
	}
	return v, nil
}

// Position prices owner's vault at the latest quote.
func (e *Engine) Position(ctx context.Context, owner common.Address) (Position, error) {
	v, err := e.Vault(owner)
	if err != nil {
		return Position{}, err
	}
	q, err := e.oracle.LatestPrice(ctx, e.clock.Now())
	if err != nil {
		return Position{}, err
	}
	return e.position(v, q)
}

// Liquidatable lists every vault below the liquidation threshold, priced
// with a single quote.
func (e *Engine) Liquidatable(ctx context.Context) ([]Position, error) {
	q, err := e.oracle.LatestPrice(ctx, e.clock.Now())
	if err != nil {
		return nil, err
	}

	var out []Position
	for _, v := range e.ledger.Vaults() {
		if v.Debt == 0 {
			continue
		}
		p, err := e.position(v, q)
		if err != nil {
			return nil, err
		}
		if !p.Healthy {
			out = append(out, p)
		}
	}
	return out, nil
}

func (e *Engine) position(v vault.Vault, q oracle.PriceQuote) (Position, error) {
	value, err := e.valueOf(v.Collateral, q)
	if err != nil {
		return Position{}, err
	}

	p := Position{
		Owner:           v.Owner,
		Collateral:      v.Collateral,
		Debt:            v.Debt,
		CollateralValue: value,
		MaxMintable:     valuation.MaxMintable(value, v.Debt, e.risk.MinRatioBps),
		Healthy:         !valuation.BelowThreshold(value, v.Debt, e.risk.LiquidationThresholdBps),
		Quote:           q,
	}
	if bps, ok := valuation.RatioBps(value, v.Debt); ok {
		p.Ratio = Ratio{Bps: bps}
	} else {
		p.Ratio = Ratio{Unbounded: true}
	}
	if lp, ok := valuation.LiquidationPrice(v.Collateral, v.Debt, e.risk.LiquidationThresholdBps, e.units); ok {
		p.LiquidationPrice = lp
	}
	return p, nil
}

func (e *Engine) SystemState() vault.SystemState {
	return e.ledger.State()
}

// CheckInvariants verifies the sum-of-vaults invariant on committed state.
func (e *Engine) CheckInvariants() error {
	return e.ledger.CheckInvariants()
}

// LiquidationHistory returns up to limit records, newest first.
func (e *Engine) LiquidationHistory(limit int) ([]vault.LiquidationRecord, error) {
	return e.ledger.LiquidationHistory(limit)
}
