package valuation

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperdai/pkg/app/core/oracle"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10000

// domainBits bounds every intermediate value; results live in a u128.
const domainBits = 128

var ErrMathOverflow = errors.New("math overflow")

var bpsDenom = uint256.NewInt(BpsDenominator)

// UsdValueScaled converts a collateral amount to USD at targetDecimals:
//
//	amount × price × 10^targetDecimals / (unitsPerCollateral × 10^-expo)   (expo < 0)
//	amount × price × 10^expo × 10^targetDecimals / unitsPerCollateral      (expo >= 0)
//
// Example: 1e9 lamports, price 100_00000000, expo -8, 6 decimals → 100_000000
//
// Division truncates. Any step leaving the 128-bit domain fails with ErrMathOverflow.
func UsdValueScaled(amount uint64, q oracle.PriceQuote, targetDecimals uint32, unitsPerCollateral uint64) (*uint256.Int, error) {
	if q.Price <= 0 {
		return nil, fmt.Errorf("%w: price=%d", oracle.ErrInvalidPrice, q.Price)
	}
	if unitsPerCollateral == 0 {
		return nil, fmt.Errorf("%w: zero units per collateral", ErrMathOverflow)
	}

	num, err := mul(uint256.NewInt(amount), uint256.NewInt(uint64(q.Price)))
	if err != nil {
		return nil, err
	}
	scale, err := Pow10(targetDecimals)
	if err != nil {
		return nil, err
	}
	if num, err = mul(num, scale); err != nil {
		return nil, err
	}

	den := uint256.NewInt(unitsPerCollateral)
	if q.Exponent >= 0 {
		p, err := Pow10(uint32(q.Exponent))
		if err != nil {
			return nil, err
		}
		if num, err = mul(num, p); err != nil {
			return nil, err
		}
	} else {
		p, err := Pow10(uint32(-int64(q.Exponent)))
		if err != nil {
			return nil, err
		}
		if den, err = mul(den, p); err != nil {
			return nil, err
		}
	}

	return new(uint256.Int).Div(num, den), nil
}

// Pow10 returns 10^n, failing once it leaves the 128-bit domain.
func Pow10(n uint32) (*uint256.Int, error) {
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint32(0); i < n; i++ {
		var err error
		if out, err = mul(out, ten); err != nil {
			return nil, fmt.Errorf("10^%d: %w", n, err)
		}
	}
	return out, nil
}

func mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow || z.BitLen() > domainBits {
		return nil, ErrMathOverflow
	}
	return z, nil
}

// MeetsMinRatio reports value × 10000 >= newDebt × minBps (boundary inclusive).
func MeetsMinRatio(value *uint256.Int, newDebt, minBps uint64) bool {
	lhs := new(uint256.Int).Mul(value, bpsDenom)
	rhs := new(uint256.Int).Mul(uint256.NewInt(newDebt), uint256.NewInt(minBps))
	return !lhs.Lt(rhs)
}

// BelowThreshold reports value × 10000 < debt × thresholdBps.
// Zero debt is never below threshold.
func BelowThreshold(value *uint256.Int, debt, thresholdBps uint64) bool {
	if debt == 0 {
		return false
	}
	lhs := new(uint256.Int).Mul(value, bpsDenom)
	rhs := new(uint256.Int).Mul(uint256.NewInt(debt), uint256.NewInt(thresholdBps))
	return lhs.Lt(rhs)
}

// RatioBps returns value × 10000 / debt. ok is false when debt is zero
// (unbounded ratio).
func RatioBps(value *uint256.Int, debt uint64) (ratio *uint256.Int, ok bool) {
	if debt == 0 {
		return nil, false
	}
	lhs := new(uint256.Int).Mul(value, bpsDenom)
	return lhs.Div(lhs, uint256.NewInt(debt)), true
}

// MaxMintable is the additional debt a vault worth value can take on
// before breaching minBps. Saturates at MaxUint64.
func MaxMintable(value *uint256.Int, debt, minBps uint64) uint64 {
	if minBps == 0 {
		return ^uint64(0)
	}
	ceiling := new(uint256.Int).Mul(value, bpsDenom)
	ceiling.Div(ceiling, uint256.NewInt(minBps))

	d := uint256.NewInt(debt)
	if !d.Lt(ceiling) {
		return 0
	}
	room := new(uint256.Int).Sub(ceiling, d)
	if !room.IsUint64() {
		return ^uint64(0)
	}
	return room.Uint64()
}

// LiquidationPrice returns the USD price of one whole collateral unit,
// scaled to the stable decimals, below which the vault becomes liquidatable:
//
//	debt × thresholdBps × unitsPerCollateral / (10000 × collateral)
//
// ok is false when there is no debt or no collateral.
func LiquidationPrice(collateral, debt, thresholdBps, unitsPerCollateral uint64) (price *uint256.Int, ok bool) {
	if debt == 0 || collateral == 0 {
		return nil, false
	}
	num := new(uint256.Int).Mul(uint256.NewInt(debt), uint256.NewInt(thresholdBps))
	num.Mul(num, uint256.NewInt(unitsPerCollateral))
	den := new(uint256.Int).Mul(bpsDenom, uint256.NewInt(collateral))
	return num.Div(num, den), true
}

// AddU64 adds with overflow detection.
func AddU64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d + %d", ErrMathOverflow, a, b)
	}
	return sum, nil
}

// SubU64 subtracts with underflow detection.
func SubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrMathOverflow, a, b)
	}
	return a - b, nil
}
