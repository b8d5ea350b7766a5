package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdai/params"
	"github.com/uhyunpark/hyperdai/pkg/app/core/custody"
	"github.com/uhyunpark/hyperdai/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperdai/pkg/app/core/valuation"
	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
	"github.com/uhyunpark/hyperdai/pkg/crypto"
	"github.com/uhyunpark/hyperdai/pkg/metrics"
	"github.com/uhyunpark/hyperdai/pkg/util"
)

// Deps are the collaborators an Engine orchestrates.
type Deps struct {
	Ledger     *vault.Ledger
	Oracle     *oracle.Adapter
	Collateral custody.CollateralTransfer
	Issuer     custody.StableIssuer

	Clock   util.Clock         // defaults to util.RealClock
	Logger  *zap.SugaredLogger // defaults to a no-op logger
	Metrics *metrics.Metrics   // optional
	Journal Journal            // optional
}

// Engine runs CDP operations. Each operation is one ledger transaction;
// collateral transfers and stable issuance made inside it are compensated
// if the transaction does not commit.
type Engine struct {
	risk      params.Risk
	units     uint64
	authority common.Address // custody pool and issuance authority

	ledger     *vault.Ledger
	oracle     *oracle.Adapter
	collateral custody.CollateralTransfer
	issuer     custody.StableIssuer
	clock      util.Clock
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics
	journal    Journal

	hooksMu sync.RWMutex
	hooks   []func(Event)
}

func New(risk params.Risk, deps Deps) (*Engine, error) {
	if deps.Ledger == nil || deps.Oracle == nil || deps.Collateral == nil || deps.Issuer == nil {
		return nil, fmt.Errorf("engine requires ledger, oracle, collateral and issuer")
	}
	if err := risk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk parameters: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}

	return &Engine{
		risk:       risk,
		units:      risk.UnitsPerCollateral(),
		authority:  crypto.VaultAuthority(),
		ledger:     deps.Ledger,
		oracle:     deps.Oracle,
		collateral: deps.Collateral,
		issuer:     deps.Issuer,
		clock:      deps.Clock,
		log:        deps.Logger,
		metrics:    deps.Metrics,
		journal:    deps.Journal,
	}, nil
}

func (e *Engine) Risk() params.Risk          { return e.risk }
func (e *Engine) Authority() common.Address { return e.authority }

// Initialize installs the system singleton. The issuer must be controlled
// by the engine's authority and use the configured stable decimals.
func (e *Engine) Initialize(ctx context.Context, admin common.Address) (vault.SystemState, error) {
	ev, err := e.execute(ctx, OpInitialize, admin, func(tx *vault.Tx, _ *effects) (Event, error) {
		if admin == (common.Address{}) {
			return Event{}, fmt.Errorf("%w: zero admin", ErrInvalidAddress)
		}
		if e.issuer.Authority() != e.authority {
			return Event{}, fmt.Errorf("%w: issuer authority %s, engine authority %s",
				ErrUnauthorized, e.issuer.Authority().Hex(), e.authority.Hex())
		}
		if e.issuer.Decimals() != e.risk.StableDecimals {
			return Event{}, fmt.Errorf("stable decimals mismatch: issuer %d, configured %d",
				e.issuer.Decimals(), e.risk.StableDecimals)
		}
		err := tx.Initialize(vault.SystemState{
			Admin:       admin,
			StableAsset: e.issuer.Mint(),
			Authority:   e.authority,
		})
		return Event{}, err
	})
	if err != nil {
		return vault.SystemState{}, err
	}
	e.log.Infow("system_initialized", "admin", admin.Hex(), "stable_asset", ev.State.StableAsset.Hex())
	return ev.State, nil
}

// Deposit moves amount collateral from owner into the custody pool,
// creating the vault on first use.
func (e *Engine) Deposit(ctx context.Context, owner common.Address, amount uint64) (vault.Vault, error) {
	ev, err := e.execute(ctx, OpDeposit, owner, func(tx *vault.Tx, fx *effects) (Event, error) {
		if amount == 0 {
			return Event{}, ErrInvalidAmount
		}
		tx.GetOrCreateVault(owner)
		v, err := tx.ApplyDelta(owner, vault.Inc(amount), vault.Delta{})
		if err != nil {
			return Event{}, err
		}
		err = fx.run(ctx, "collateral_in",
			func(ctx context.Context) error { return e.collateral.Transfer(ctx, owner, e.authority, amount) },
			func(ctx context.Context) error { return e.collateral.Transfer(ctx, e.authority, owner, amount) },
		)
		return Event{Amount: amount, Vault: v}, err
	})
	if err != nil {
		return vault.Vault{}, err
	}
	e.log.Infow("vault_deposited", "owner", owner.Hex(), "amount", amount, "collateral", ev.Vault.Collateral)
	return ev.Vault, nil
}

// Withdraw returns collateral to owner. Refused while any debt is outstanding.
func (e *Engine) Withdraw(ctx context.Context, owner common.Address, amount uint64) (vault.Vault, error) {
	ev, err := e.execute(ctx, OpWithdraw, owner, func(tx *vault.Tx, fx *effects) (Event, error) {
		if amount == 0 {
			return Event{}, ErrInvalidAmount
		}
		v, err := initializedVault(tx, owner)
		if err != nil {
			return Event{}, err
		}
		if v.Collateral < amount {
			return Event{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCollateral, v.Collateral, amount)
		}
		if v.Debt > 0 {
			return Event{}, fmt.Errorf("%w: %d", ErrHasOutstandingDebt, v.Debt)
		}
		if v, err = tx.ApplyDelta(owner, vault.Dec(amount), vault.Delta{}); err != nil {
			return Event{}, err
		}
		err = fx.run(ctx, "collateral_out",
			func(ctx context.Context) error { return e.collateral.Transfer(ctx, e.authority, owner, amount) },
			func(ctx context.Context) error { return e.collateral.Transfer(ctx, owner, e.authority, amount) },
		)
		return Event{Amount: amount, Vault: v}, err
	})
	if err != nil {
		return vault.Vault{}, err
	}
	e.log.Infow("vault_withdrawn", "owner", owner.Hex(), "amount", amount, "collateral", ev.Vault.Collateral)
	return ev.Vault, nil
}

// Mint issues amount stable to owner if the vault stays at or above the
// minimum collateral ratio afterwards.
func (e *Engine) Mint(ctx context.Context, owner common.Address, amount uint64) (vault.Vault, error) {
	ev, err := e.execute(ctx, OpMint, owner, func(tx *vault.Tx, fx *effects) (Event, error) {
		if amount == 0 {
			return Event{}, ErrInvalidAmount
		}
		q, err := e.oracle.LatestPrice(ctx, e.clock.Now())
		if err != nil {
			return Event{}, err
		}
		v, err := initializedVault(tx, owner)
		if err != nil {
			return Event{}, err
		}

		value, err := e.valueOf(v.Collateral, q)
		if err != nil {
			return Event{}, err
		}
		newDebt, err := valuation.AddU64(v.Debt, amount)
		if err != nil {
			return Event{}, err
		}
		if !valuation.MeetsMinRatio(value, newDebt, e.risk.MinRatioBps) {
			return Event{}, fmt.Errorf("%w: collateral value %s, debt %d, min %d bps",
				ErrBelowCollateralRatio, value.Dec(), newDebt, e.risk.MinRatioBps)
		}

		if v, err = tx.ApplyDelta(owner, vault.Delta{}, vault.Inc(amount)); err != nil {
			return Event{}, err
		}
		err = fx.run(ctx, "stable_mint",
			func(ctx context.Context) error { return e.issuer.MintTo(ctx, e.authority, owner, amount) },
			func(ctx context.Context) error { return e.issuer.BurnFrom(ctx, e.authority, owner, amount) },
		)
		return Event{Amount: amount, Vault: v}, err
	})
	if err != nil {
		return vault.Vault{}, err
	}
	e.log.Infow("vault_minted", "owner", owner.Hex(), "amount", amount, "debt", ev.Vault.Debt)
	return ev.Vault, nil
}

// Burn repays amount of owner's debt from owner's stable balance.
// No price is needed: repaying can only improve the ratio.
func (e *Engine) Burn(ctx context.Context, owner common.Address, amount uint64) (vault.Vault, error) {
	ev, err := e.execute(ctx, OpBurn, owner, func(tx *vault.Tx, fx *effects) (Event, error) {
		if amount == 0 {
			return Event{}, ErrInvalidAmount
		}
		if _, err := initializedVault(tx, owner); err != nil {
			return Event{}, err
		}
		v, err := tx.ApplyDelta(owner, vault.Delta{}, vault.Dec(amount))
		if err != nil {
			return Event{}, err
		}
		err = fx.run(ctx, "stable_burn",
			func(ctx context.Context) error { return e.issuer.BurnFrom(ctx, e.authority, owner, amount) },
			func(ctx context.Context) error { return e.issuer.MintTo(ctx, e.authority, owner, amount) },
		)
		return Event{Amount: amount, Vault: v}, err
	})
	if err != nil {
		return vault.Vault{}, err
	}
	e.log.Infow("vault_burned", "owner", owner.Hex(), "amount", amount, "debt", ev.Vault.Debt)
	return ev.Vault, nil
}

// Liquidate closes an undercollateralized vault: its collateral goes to the
// liquidator (less the configured penalty, which stays in the custody pool)
// and its debt is cleared.
func (e *Engine) Liquidate(ctx context.Context, liquidator, owner common.Address) (vault.LiquidationRecord, error) {
	ev, err := e.execute(ctx, OpLiquidate, owner, func(tx *vault.Tx, fx *effects) (Event, error) {
		if liquidator == (common.Address{}) {
			return Event{}, fmt.Errorf("%w: zero liquidator", ErrInvalidAddress)
		}
		now := e.clock.Now()
		q, err := e.oracle.LatestPrice(ctx, now)
		if err != nil {
			return Event{}, err
		}
		v, err := initializedVault(tx, owner)
		if err != nil {
			return Event{}, err
		}

		value, err := e.valueOf(v.Collateral, q)
		if err != nil {
			return Event{}, err
		}
		if !valuation.BelowThreshold(value, v.Debt, e.risk.LiquidationThresholdBps) {
			return Event{}, fmt.Errorf("%w: collateral value %s, debt %d, threshold %d bps",
				ErrOverCollateralRatio, value.Dec(), v.Debt, e.risk.LiquidationThresholdBps)
		}

		seized, debt := v.Collateral, v.Debt
		penalty := e.penaltyOf(seized)
		payout := seized - penalty

		if v, err = tx.ApplyDelta(owner, vault.Dec(seized), vault.Dec(debt)); err != nil {
			return Event{}, err
		}
		rec := vault.LiquidationRecord{
			ID:               uuid.NewString(),
			Owner:            owner,
			Liquidator:       liquidator,
			CollateralSeized: seized,
			Penalty:          penalty,
			Payout:           payout,
			DebtCleared:      debt,
			Price:            q.Price,
			Exponent:         q.Exponent,
			Timestamp:        now.UnixNano(),
		}
		tx.RecordLiquidation(rec)

		err = fx.run(ctx, "collateral_seize",
			func(ctx context.Context) error { return e.collateral.Transfer(ctx, e.authority, liquidator, payout) },
			func(ctx context.Context) error { return e.collateral.Transfer(ctx, liquidator, e.authority, payout) },
		)
		return Event{Actor: liquidator, Amount: seized, Vault: v, Liquidation: &rec}, err
	})
	if err != nil {
		return vault.LiquidationRecord{}, err
	}

	e.metrics.Liquidated()
	rec := *ev.Liquidation
	e.log.Infow("vault_liquidated",
		"owner", owner.Hex(),
		"liquidator", liquidator.Hex(),
		"collateral_seized", rec.CollateralSeized,
		"penalty", rec.Penalty,
		"payout", rec.Payout,
		"debt_cleared", rec.DebtCleared,
		"price", rec.Price,
		"exponent", rec.Exponent,
	)
	return rec, nil
}

func (e *Engine) valueOf(collateral uint64, q oracle.PriceQuote) (*uint256.Int, error) {
	return valuation.UsdValueScaled(collateral, q, e.risk.StableDecimals, e.units)
}

// penaltyOf returns seized × LiquidationPenaltyBps / 10000, truncated.
func (e *Engine) penaltyOf(seized uint64) uint64 {
	if e.risk.LiquidationPenaltyBps == 0 {
		return 0
	}
	p := new(uint256.Int).Mul(uint256.NewInt(seized), uint256.NewInt(e.risk.LiquidationPenaltyBps))
	p.Div(p, uint256.NewInt(valuation.BpsDenominator))
	if p.Uint64() > seized {
		return seized
	}
	return p.Uint64()
}

func initializedVault(tx *vault.Tx, owner common.Address) (vault.Vault, error) {
	v, ok := tx.Vault(owner)
	if !ok || !v.Initialized {
		return vault.Vault{}, fmt.Errorf("%w: %s", ErrVaultNotInitialized, owner.Hex())
	}
	return v, nil
}

// execute runs fn inside one ledger transaction. On any failure, including
// a failed commit, the external effects fn performed are undone in reverse.
func (e *Engine) execute(ctx context.Context, op string, owner common.Address, fn func(tx *vault.Tx, fx *effects) (Event, error)) (Event, error) {
	start := time.Now()
	fx := &effects{}

	var ev Event
	err := e.ledger.Update(func(tx *vault.Tx) error {
		if op != OpInitialize && !tx.State().Initialized {
			return ErrNotInitialized
		}
		var err error
		if ev, err = fn(tx, fx); err != nil {
			return err
		}
		ev.State = tx.State()
		return nil
	})
	if err != nil {
		e.unwind(ctx, op, fx)
		kind := ErrorKind(err)
		e.metrics.Observe(op, kind, time.Since(start))
		e.log.Warnw("operation_failed", "op", op, "owner", owner.Hex(), "kind", kind, "error", err)
		return Event{}, err
	}

	ev.ID = uuid.NewString()
	ev.Type = op
	ev.Owner = owner
	ev.Timestamp = e.clock.Now()

	e.metrics.Observe(op, "", time.Since(start))
	e.metrics.SetTotals(ev.State.TotalCollateral, ev.State.TotalDebt, e.ledger.VaultCount())
	e.publish(ev)
	return ev, nil
}

// effects records compensations for external calls made inside a transaction.
type effects struct {
	undo []compensation
}

type compensation struct {
	name string
	fn   func(context.Context) error
}

func (fx *effects) run(ctx context.Context, name string, do, undo func(context.Context) error) error {
	if err := do(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fx.undo = append(fx.undo, compensation{name: name, fn: undo})
	return nil
}

func (e *Engine) unwind(ctx context.Context, op string, fx *effects) {
	ctx = context.WithoutCancel(ctx)
	for i := len(fx.undo) - 1; i >= 0; i-- {
		c := fx.undo[i]
		if err := c.fn(ctx); err != nil {
			e.log.Errorw("compensation_failed", "op", op, "step", c.name, "error", err)
		}
	}
}
