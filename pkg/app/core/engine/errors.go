package engine

import (
	"errors"

	"github.com/uhyunpark/hyperdai/pkg/app/core/custody"
	"github.com/uhyunpark/hyperdai/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperdai/pkg/app/core/valuation"
	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
)

// Every failure of an engine operation matches exactly one of these via errors.Is.
var (
	ErrVaultNotInitialized    = vault.ErrVaultNotInitialized
	ErrInsufficientCollateral = vault.ErrInsufficientCollateral
	ErrInsufficientDebt       = vault.ErrInsufficientDebt
	ErrAlreadyInitialized     = vault.ErrAlreadyInitialized
	ErrNotInitialized         = vault.ErrNotInitialized
	ErrPriceFeedNotFound      = oracle.ErrPriceFeedNotFound
	ErrPriceStale             = oracle.ErrPriceStale
	ErrInvalidPrice           = oracle.ErrInvalidPrice
	ErrMathOverflow           = valuation.ErrMathOverflow
	ErrUnauthorized           = custody.ErrUnauthorized
	ErrInsufficientFunds      = custody.ErrInsufficientFunds

	ErrHasOutstandingDebt   = errors.New("vault has outstanding debt")
	ErrBelowCollateralRatio = errors.New("below minimum collateral ratio")
	ErrOverCollateralRatio  = errors.New("vault is above liquidation threshold")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidAddress       = errors.New("invalid address")
)

// kinds is ordered: ErrInvalidPrice must be tested before ErrPriceFeedNotFound.
var kinds = []struct {
	err  error
	kind string
}{
	{ErrVaultNotInitialized, "VaultNotInitialized"},
	{ErrInsufficientCollateral, "InsufficientCollateral"},
	{ErrInsufficientDebt, "InsufficientDebt"},
	{ErrHasOutstandingDebt, "HasOutstandingDebt"},
	{ErrBelowCollateralRatio, "BelowCollateralRatio"},
	{ErrOverCollateralRatio, "OverCollateralRatio"},
	{ErrInvalidPrice, "InvalidPrice"},
	{ErrPriceStale, "PriceStale"},
	{ErrPriceFeedNotFound, "PriceFeedNotFound"},
	{ErrMathOverflow, "MathOverflow"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidAddress, "InvalidAddress"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInsufficientFunds, "InsufficientFunds"},
}

// ErrorKind names the error kind of err, "" for nil and "Internal" for
// anything unclassified.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
