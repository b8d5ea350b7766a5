package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdai/params"
	"github.com/uhyunpark/hyperdai/pkg/app/core/custody"
	"github.com/uhyunpark/hyperdai/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
	"github.com/uhyunpark/hyperdai/pkg/crypto"
	"github.com/uhyunpark/hyperdai/pkg/util"
)

const (
	sol      = 1_000_000_000 // lamports
	dollar   = 1_000000      // stable base units
	usd100   = 100_00000000  // $100 at expo -8
	startBal = 1_000_000 * sol
)

var (
	admin      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	alice      = common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
	bob        = common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	carol      = common.HexToAddress("0xdD2FD4581271e230360230F9337D5c0430Bf44C0")
	liquidator = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type memJournal struct {
	mu    sync.Mutex
	lines []string
}

func (j *memJournal) Append(line string) {
	j.mu.Lock()
	j.lines = append(j.lines, line)
	j.mu.Unlock()
}

type harness struct {
	eng     *Engine
	ledger  *vault.Ledger
	store   *vault.MemStore
	bank    *custody.Bank
	feed    *oracle.StaticFeed
	clock   *util.ManualClock
	journal *memJournal
	pool    common.Address
}

func newUninitializedHarness(t *testing.T, mutate ...func(*params.Risk)) *harness {
	t.Helper()

	risk := params.Default().Risk
	for _, fn := range mutate {
		fn(&risk)
	}

	store := vault.NewMemStore()
	ledger, err := vault.NewLedger(store)
	require.NoError(t, err)

	bank := custody.NewBank(crypto.VaultAuthority(), crypto.StableMint(), risk.StableDecimals)
	for _, u := range []common.Address{alice, bob, carol} {
		require.NoError(t, bank.Credit(u, startBal))
	}

	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	feed := oracle.NewStaticFeed()
	journal := &memJournal{}

	eng, err := New(risk, Deps{
		Ledger:     ledger,
		Oracle:     oracle.NewAdapter(feed, risk.FeedID, risk.MaxPriceAge),
		Collateral: bank,
		Issuer:     bank,
		Clock:      clock,
		Logger:     zap.NewNop().Sugar(),
		Journal:    journal,
	})
	require.NoError(t, err)

	h := &harness{
		eng:     eng,
		ledger:  ledger,
		store:   store,
		bank:    bank,
		feed:    feed,
		clock:   clock,
		journal: journal,
		pool:    crypto.VaultAuthority(),
	}
	h.setPrice(usd100)
	return h
}

func newHarness(t *testing.T, mutate ...func(*params.Risk)) *harness {
	t.Helper()
	h := newUninitializedHarness(t, mutate...)
	_, err := h.eng.Initialize(context.Background(), admin)
	require.NoError(t, err)
	return h
}

// setPrice publishes a fresh quote with exponent -8.
func (h *harness) setPrice(price int64) {
	h.feed.Set(h.eng.Risk().FeedID, oracle.PriceQuote{Price: price, Exponent: -8, ObservedAt: h.clock.Now()})
}

func (h *harness) vault(t *testing.T, owner common.Address) vault.Vault {
	t.Helper()
	v, err := h.eng.Vault(owner)
	require.NoError(t, err)
	return v
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	h := newUninitializedHarness(t)

	_, err := h.eng.Deposit(ctx, alice, sol)
	require.ErrorIs(t, err, ErrNotInitialized)

	st, err := h.eng.Initialize(ctx, admin)
	require.NoError(t, err)
	assert.True(t, st.Initialized)
	assert.Equal(t, admin, st.Admin)
	assert.Equal(t, crypto.StableMint(), st.StableAsset)
	assert.Equal(t, crypto.VaultAuthority(), st.Authority)

	_, err = h.eng.Initialize(ctx, alice)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, admin, h.eng.SystemState().Admin)
}

func TestInitializeRejectsForeignIssuer(t *testing.T) {
	store := vault.NewMemStore()
	ledger, err := vault.NewLedger(store)
	require.NoError(t, err)

	risk := params.Default().Risk
	bank := custody.NewBank(common.HexToAddress("0xbad"), crypto.StableMint(), risk.StableDecimals)
	eng, err := New(risk, Deps{
		Ledger:     ledger,
		Oracle:     oracle.NewAdapter(oracle.NewStaticFeed(), risk.FeedID, risk.MaxPriceAge),
		Collateral: bank,
		Issuer:     bank,
	})
	require.NoError(t, err)

	_, err = eng.Initialize(context.Background(), admin)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, eng.SystemState().Initialized)

	_, err = eng.Initialize(context.Background(), common.Address{})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestNewRejectsInvalidRisk(t *testing.T) {
	ledger, err := vault.NewLedger(vault.NewMemStore())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*params.Risk)
	}{
		{"collateral decimals overflow u64", func(r *params.Risk) { r.CollateralDecimals = 20 }},
		{"zero stable decimals", func(r *params.Risk) { r.StableDecimals = 0 }},
		{"zero max price age", func(r *params.Risk) { r.MaxPriceAge = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk := params.Default().Risk
			tt.mutate(&risk)
			bank := custody.NewBank(crypto.VaultAuthority(), crypto.StableMint(), risk.StableDecimals)

			eng, err := New(risk, Deps{
				Ledger:     ledger,
				Oracle:     oracle.NewAdapter(oracle.NewStaticFeed(), risk.FeedID, risk.MaxPriceAge),
				Collateral: bank,
				Issuer:     bank,
			})
			require.Error(t, err)
			assert.Nil(t, eng)
		})
	}
}

func TestDepositCreatesVaultLazily(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Vault(alice)
	require.ErrorIs(t, err, ErrVaultNotInitialized)

	v, err := h.eng.Deposit(ctx, alice, 2*sol)
	require.NoError(t, err)
	assert.Equal(t, vault.Vault{Owner: alice, Collateral: 2 * sol, Initialized: true}, v)

	assert.Equal(t, uint64(startBal-2*sol), h.bank.CollateralBalance(alice))
	assert.Equal(t, uint64(2*sol), h.bank.CollateralBalance(h.pool))
	assert.Equal(t, uint64(2*sol), h.eng.SystemState().TotalCollateral)
	require.NoError(t, h.eng.CheckInvariants())
}

func TestDepositFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Deposit(ctx, alice, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.eng.Deposit(ctx, alice, startBal+1)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = h.eng.Vault(alice)
	require.ErrorIs(t, err, ErrVaultNotInitialized, "failed deposit must not create the vault")
	assert.Zero(t, h.eng.SystemState().TotalCollateral)
}

func TestDepositThenWithdrawRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Deposit(ctx, alice, 3*sol)
	require.NoError(t, err)
	before := h.vault(t, alice)

	_, err = h.eng.Deposit(ctx, alice, 7)
	require.NoError(t, err)
	v, err := h.eng.Withdraw(ctx, alice, 7)
	require.NoError(t, err)

	assert.Equal(t, before, v)
	assert.Equal(t, uint64(startBal-3*sol), h.bank.CollateralBalance(alice))
	require.NoError(t, h.eng.CheckInvariants())

	// a fully withdrawn vault stays addressable
	v, err = h.eng.Withdraw(ctx, alice, 3*sol)
	require.NoError(t, err)
	assert.Zero(t, v.Collateral)
	assert.True(t, v.Initialized)
}

func TestWithdrawFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Withdraw(ctx, alice, 1)
	require.ErrorIs(t, err, ErrVaultNotInitialized)

	_, err = h.eng.Deposit(ctx, alice, 3*sol)
	require.NoError(t, err)

	_, err = h.eng.Withdraw(ctx, alice, 3*sol+1)
	require.ErrorIs(t, err, ErrInsufficientCollateral)

	_, err = h.eng.Mint(ctx, alice, dollar)
	require.NoError(t, err)

	_, err = h.eng.Withdraw(ctx, alice, 1)
	require.ErrorIs(t, err, ErrHasOutstandingDebt)
	assert.Equal(t, uint64(3*sol), h.vault(t, alice).Collateral)
}

func TestMintBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// 1.5 SOL at $100 = $150
	_, err := h.eng.Deposit(ctx, alice, 1_500_000_000)
	require.NoError(t, err)
	_, err = h.eng.Deposit(ctx, bob, 1_500_000_000)
	require.NoError(t, err)

	v, err := h.eng.Mint(ctx, alice, 100*dollar)
	require.NoError(t, err, "exactly 150%% must be allowed")
	assert.Equal(t, uint64(100*dollar), v.Debt)
	assert.Equal(t, uint64(100*dollar), h.bank.StableBalance(alice))

	_, err = h.eng.Mint(ctx, bob, 100_010000)
	require.ErrorIs(t, err, ErrBelowCollateralRatio)
	assert.Zero(t, h.vault(t, bob).Debt)
	assert.Zero(t, h.bank.StableBalance(bob))

	_, err = h.eng.Mint(ctx, alice, 1)
	require.ErrorIs(t, err, ErrBelowCollateralRatio)

	assert.Equal(t, uint64(100*dollar), h.eng.SystemState().TotalDebt)
	require.NoError(t, h.eng.CheckInvariants())
}

func TestMintPriceFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.eng.Deposit(ctx, alice, 10*sol)
	require.NoError(t, err)

	h.clock.Advance(61 * time.Second)
	_, err = h.eng.Mint(ctx, alice, dollar)
	require.ErrorIs(t, err, ErrPriceStale)

	h.setPrice(-usd100)
	_, err = h.eng.Mint(ctx, alice, dollar)
	require.ErrorIs(t, err, ErrInvalidPrice)
	require.ErrorIs(t, err, ErrPriceFeedNotFound)

	h.feed.Remove(h.eng.Risk().FeedID)
	_, err = h.eng.Mint(ctx, alice, dollar)
	require.ErrorIs(t, err, ErrPriceFeedNotFound)

	assert.Zero(t, h.vault(t, alice).Debt)
	assert.Zero(t, h.bank.StableSupply())
}

func TestMintRequiresVault(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.Mint(context.Background(), carol, dollar)
	require.ErrorIs(t, err, ErrVaultNotInitialized)
}

func TestBurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.eng.Deposit(ctx, alice, 3*sol)
	require.NoError(t, err)
	_, err = h.eng.Mint(ctx, alice, 100*dollar)
	require.NoError(t, err)

	// no price needed to repay
	h.feed.Remove(h.eng.Risk().FeedID)

	v, err := h.eng.Burn(ctx, alice, 40*dollar)
	require.NoError(t, err)
	assert.Equal(t, uint64(60*dollar), v.Debt)
	assert.Equal(t, uint64(60*dollar), h.bank.StableBalance(alice))

	_, err = h.eng.Burn(ctx, alice, 60*dollar+1)
	require.ErrorIs(t, err, ErrInsufficientDebt)
	assert.Equal(t, uint64(60*dollar), h.vault(t, alice).Debt)
	assert.Equal(t, uint64(60*dollar), h.bank.StableBalance(alice))

	_, err = h.eng.Burn(ctx, bob, 1)
	require.ErrorIs(t, err, ErrVaultNotInitialized)
	require.NoError(t, h.eng.CheckInvariants())
}

func TestLiquidate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Deposit(ctx, alice, 1_500_000_000)
	require.NoError(t, err)
	_, err = h.eng.Mint(ctx, alice, 100*dollar)
	require.NoError(t, err)

	// exactly at threshold: still healthy
	_, err = h.eng.Liquidate(ctx, liquidator, alice)
	require.ErrorIs(t, err, ErrOverCollateralRatio)

	h.setPrice(99_99999999)
	rec, err := h.eng.Liquidate(ctx, liquidator, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), rec.CollateralSeized)
	assert.Equal(t, uint64(1_500_000_000), rec.Payout)
	assert.Zero(t, rec.Penalty)
	assert.Equal(t, uint64(100*dollar), rec.DebtCleared)
	assert.Equal(t, int64(99_99999999), rec.Price)
	assert.NotEmpty(t, rec.ID)

	v := h.vault(t, alice)
	assert.Zero(t, v.Collateral)
	assert.Zero(t, v.Debt)
	assert.True(t, v.Initialized)
	assert.Equal(t, uint64(1_500_000_000), h.bank.CollateralBalance(liquidator))
	assert.Zero(t, h.bank.CollateralBalance(h.pool))

	st := h.eng.SystemState()
	assert.Zero(t, st.TotalCollateral)
	assert.Zero(t, st.TotalDebt)
	require.NoError(t, h.eng.CheckInvariants())

	hist, err := h.eng.LiquidationHistory(10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, rec, hist[0])

	// zeroed vault is healthy again
	_, err = h.eng.Liquidate(ctx, liquidator, alice)
	require.ErrorIs(t, err, ErrOverCollateralRatio)
}

func TestLiquidateFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Liquidate(ctx, liquidator, bob)
	require.ErrorIs(t, err, ErrVaultNotInitialized)

	_, err = h.eng.Liquidate(ctx, common.Address{}, bob)
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = h.eng.Deposit(ctx, bob, sol)
	require.NoError(t, err)
	_, err = h.eng.Mint(ctx, bob, 60*dollar)
	require.NoError(t, err)

	h.setPrice(10_00000000)
	h.clock.Advance(2 * time.Minute)
	_, err = h.eng.Liquidate(ctx, liquidator, bob)
	require.ErrorIs(t, err, ErrPriceStale)
	assert.Equal(t, uint64(60*dollar), h.vault(t, bob).Debt)
}

func TestLiquidatePenaltyStaysInPool(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(r *params.Risk) { r.LiquidationPenaltyBps = 1000 })

	_, err := h.eng.Deposit(ctx, alice, 2*sol)
	require.NoError(t, err)
	_, err = h.eng.Mint(ctx, alice, 100*dollar)
	require.NoError(t, err)

	h.setPrice(50_00000000)
	rec, err := h.eng.Liquidate(ctx, liquidator, alice)
	require.NoError(t, err)

	assert.Equal(t, uint64(2*sol), rec.CollateralSeized)
	assert.Equal(t, uint64(200_000_000), rec.Penalty)
	assert.Equal(t, uint64(1_800_000_000), rec.Payout)
	assert.Equal(t, rec.CollateralSeized, rec.Penalty+rec.Payout)
	assert.Equal(t, uint64(1_800_000_000), h.bank.CollateralBalance(liquidator))
	assert.Equal(t, uint64(200_000_000), h.bank.CollateralBalance(h.pool))
	assert.Zero(t, h.eng.SystemState().TotalCollateral)
}

func TestCollateralRatio(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.CollateralRatio(ctx, alice)
	require.ErrorIs(t, err, ErrVaultNotInitialized)

	_, err = h.eng.Deposit(ctx, alice, 1_500_000_000)
	require.NoError(t, err)

	r, err := h.eng.CollateralRatio(ctx, alice)
	require.NoError(t, err)
	assert.True(t, r.Unbounded)
	assert.Equal(t, "inf", r.String())

	_, err = h.eng.Mint(ctx, alice, 100*dollar)
	require.NoError(t, err)

	r, err = h.eng.CollateralRatio(ctx, alice)
	require.NoError(t, err)
	assert.False(t, r.Unbounded)
	assert.Equal(t, "15000", r.String())
}

func TestPositionAndLiquidatable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Deposit(ctx, alice, 1_500_000_000)
	require.NoError(t, err)
	_, err = h.eng.Mint(ctx, alice, 100*dollar)
	require.NoError(t, err)
	_, err = h.eng.Deposit(ctx, bob, 3*sol)
	require.NoError(t, err)
	_, err = h.eng.Mint(ctx, bob, 100*dollar)
	require.NoError(t, err)
	_, err = h.eng.Deposit(ctx, carol, sol)
	require.NoError(t, err)

	p, err := h.eng.Position(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(300*dollar), p.CollateralValue.Uint64())
	assert.Equal(t, "30000", p.Ratio.String())
	assert.Equal(t, uint64(100*dollar), p.MaxMintable)
	assert.Equal(t, uint64(50*dollar), p.LiquidationPrice.Uint64())
	assert.True(t, p.Healthy)

	p, err = h.eng.Position(ctx, carol)
	require.NoError(t, err)
	assert.True(t, p.Ratio.Unbounded)
	assert.Nil(t, p.LiquidationPrice)

	none, err := h.eng.Liquidatable(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	h.setPrice(99_00000000)
	list, err := h.eng.Liquidatable(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, alice, list[0].Owner)
	assert.False(t, list[0].Healthy)
}

type flakyIssuer struct {
	*custody.Bank
	failMint bool
}

func (f *flakyIssuer) MintTo(ctx context.Context, authority, account common.Address, amount uint64) error {
	if f.failMint {
		return errors.New("issuance program unavailable")
	}
	return f.Bank.MintTo(ctx, authority, account, amount)
}

func TestIssuanceFailureAbortsMint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	issuer := &flakyIssuer{Bank: h.bank, failMint: true}
	h.eng.issuer = issuer

	_, err := h.eng.Deposit(ctx, alice, 10*sol)
	require.NoError(t, err)

	_, err = h.eng.Mint(ctx, alice, dollar)
	require.Error(t, err)
	assert.Equal(t, "Internal", ErrorKind(err))
	assert.Zero(t, h.vault(t, alice).Debt)
	assert.Zero(t, h.eng.SystemState().TotalDebt)
}

func TestCommitFailureUnwindsExternalEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.store.FailCommit = errors.New("disk full")
	_, err := h.eng.Deposit(ctx, alice, 5*sol)
	require.Error(t, err)
	assert.Equal(t, uint64(startBal), h.bank.CollateralBalance(alice))
	assert.Zero(t, h.bank.CollateralBalance(h.pool))

	_, err = h.eng.Deposit(ctx, alice, 5*sol)
	require.NoError(t, err)
	_, err = h.eng.Mint(ctx, alice, 100*dollar)
	require.NoError(t, err)

	h.store.FailCommit = errors.New("disk full")
	_, err = h.eng.Burn(ctx, alice, 40*dollar)
	require.Error(t, err)
	assert.Equal(t, uint64(100*dollar), h.bank.StableBalance(alice))
	assert.Equal(t, uint64(100*dollar), h.vault(t, alice).Debt)

	h.store.FailCommit = errors.New("disk full")
	_, err = h.eng.Mint(ctx, alice, 10*dollar)
	require.Error(t, err)
	assert.Equal(t, uint64(100*dollar), h.bank.StableBalance(alice))
	require.NoError(t, h.eng.CheckInvariants())
}

func TestEventsAndJournal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var events []Event
	h.eng.OnEvent(func(ev Event) { events = append(events, ev) })

	_, err := h.eng.Deposit(ctx, alice, sol)
	require.NoError(t, err)
	_, err = h.eng.Withdraw(ctx, alice, 2*sol)
	require.Error(t, err)
	_, err = h.eng.Mint(ctx, alice, dollar)
	require.NoError(t, err)

	require.Len(t, events, 2, "failed operations must not publish")
	assert.Equal(t, OpDeposit, events[0].Type)
	assert.Equal(t, alice, events[0].Owner)
	assert.Equal(t, uint64(sol), events[0].Vault.Collateral)
	assert.Equal(t, OpMint, events[1].Type)
	assert.Equal(t, uint64(dollar), events[1].State.TotalDebt)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	// initialize + the two operations above
	require.Len(t, h.journal.lines, 3)
	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(h.journal.lines[2]), &decoded))
	assert.Equal(t, OpMint, decoded.Type)
	assert.Equal(t, uint64(dollar), decoded.Amount)
}

func TestRestartRestoresCustody(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Deposit(ctx, alice, 3*sol)
	require.NoError(t, err)
	_, err = h.eng.Mint(ctx, alice, 100*dollar)
	require.NoError(t, err)

	// a restarted node reloads the ledger and starts with an empty bank
	ledger, err := vault.NewLedger(h.store)
	require.NoError(t, err)
	risk := h.eng.Risk()
	bank := custody.NewBank(crypto.VaultAuthority(), crypto.StableMint(), risk.StableDecimals)
	require.NoError(t, bank.Restore(ledger.State(), ledger.Vaults()))

	eng, err := New(risk, Deps{
		Ledger:     ledger,
		Oracle:     oracle.NewAdapter(h.feed, risk.FeedID, risk.MaxPriceAge),
		Collateral: bank,
		Issuer:     bank,
		Clock:      h.clock,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(3*sol), bank.CollateralBalance(h.pool))
	assert.Equal(t, uint64(100*dollar), bank.StableBalance(alice))

	v, err := eng.Burn(ctx, alice, 100*dollar)
	require.NoError(t, err)
	assert.Zero(t, v.Debt)

	v, err = eng.Withdraw(ctx, alice, 3*sol)
	require.NoError(t, err)
	assert.Zero(t, v.Collateral)
	assert.Equal(t, uint64(3*sol), bank.CollateralBalance(alice))
	assert.Zero(t, bank.CollateralBalance(h.pool))
	assert.Zero(t, bank.StableSupply())
	require.NoError(t, eng.CheckInvariants())
}

func TestConcurrentEventsCarryOwnState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var mu sync.Mutex
	var totals []uint64
	h.eng.OnEvent(func(ev Event) {
		mu.Lock()
		totals = append(totals, ev.State.TotalCollateral)
		mu.Unlock()
	})

	const n = 48
	owners := []common.Address{alice, bob, carol}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(owner common.Address) {
			defer wg.Done()
			_, err := h.eng.Deposit(ctx, owner, sol)
			assert.NoError(t, err)
		}(owners[i%len(owners)])
	}
	wg.Wait()

	// each deposit commits exactly one step of the running total
	require.Len(t, totals, n)
	seen := make(map[uint64]bool, n)
	for _, total := range totals {
		assert.False(t, seen[total], "total %d published twice", total)
		seen[total] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[uint64(i)*sol], "missing total %d", uint64(i)*sol)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrVaultNotInitialized, "VaultNotInitialized"},
		{ErrInsufficientCollateral, "InsufficientCollateral"},
		{ErrInsufficientDebt, "InsufficientDebt"},
		{ErrHasOutstandingDebt, "HasOutstandingDebt"},
		{ErrBelowCollateralRatio, "BelowCollateralRatio"},
		{ErrOverCollateralRatio, "OverCollateralRatio"},
		{ErrPriceStale, "PriceStale"},
		{ErrPriceFeedNotFound, "PriceFeedNotFound"},
		{ErrInvalidPrice, "InvalidPrice"},
		{ErrMathOverflow, "MathOverflow"},
		{errors.New("boom"), "Internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
		if tt.err != nil {
			assert.Equal(t, tt.want, ErrorKind(wrap(tt.err)), "wrapped %v", tt.err)
		}
	}
}

func wrap(err error) error {
	return errors.Join(errors.New("context"), err)
}
