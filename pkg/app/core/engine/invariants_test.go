package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
)

type snapshot struct {
	State  vault.SystemState
	Vaults []vault.Vault
	Pool   uint64
	Supply uint64
}

func (h *harness) snapshot() snapshot {
	return snapshot{
		State:  h.eng.SystemState(),
		Vaults: h.ledger.Vaults(),
		Pool:   h.bank.CollateralBalance(h.pool),
		Supply: h.bank.StableSupply(),
	}
}

// Random operation sequences must keep the aggregates equal to the sums
// over all vaults, keep the custody pool equal to total collateral, and
// leave every observable balance untouched when an operation fails.
func TestRandomSequencesPreserveInvariants(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rng := rand.New(rand.NewSource(42))
	owners := []common.Address{alice, bob, carol}

	var ok, failed int
	for i := 0; i < 3000; i++ {
		switch rng.Intn(12) {
		case 0:
			// $40 .. $200
			h.setPrice(40_00000000 + rng.Int63n(160_00000000))
		case 1:
			h.clock.Advance(time.Duration(rng.Intn(90)) * time.Second)
		}

		owner := owners[rng.Intn(len(owners))]
		before := h.snapshot()

		var err error
		switch rng.Intn(5) {
		case 0:
			_, err = h.eng.Deposit(ctx, owner, uint64(rng.Int63n(5*sol)))
		case 1:
			_, err = h.eng.Withdraw(ctx, owner, uint64(rng.Int63n(5*sol)))
		case 2:
			_, err = h.eng.Mint(ctx, owner, uint64(rng.Int63n(300*dollar)))
		case 3:
			_, err = h.eng.Burn(ctx, owner, uint64(rng.Int63n(150*dollar)))
		case 4:
			_, err = h.eng.Liquidate(ctx, liquidator, owner)
		}

		require.NoError(t, h.eng.CheckInvariants(), "step %d", i)
		after := h.snapshot()
		require.Equal(t, after.State.TotalCollateral, after.Pool, "step %d: custody pool drifted", i)

		if err != nil {
			failed++
			require.Equal(t, before, after, "step %d: failed operation changed state: %v", i, err)
			continue
		}
		ok++
	}

	require.Positive(t, ok)
	require.Positive(t, failed)
}

func TestBurnOverDebtLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Deposit(ctx, alice, 2*sol)
	require.NoError(t, err)
	_, err = h.eng.Mint(ctx, alice, 50*dollar)
	require.NoError(t, err)

	before := h.snapshot()
	_, err = h.eng.Burn(ctx, alice, 50*dollar+1)
	require.ErrorIs(t, err, ErrInsufficientDebt)
	require.Equal(t, before, h.snapshot())
}
