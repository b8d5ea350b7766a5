package vault

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger exclusively owns SystemState and all vaults.
// Every mutation goes through a Tx, which holds the ledger lock from Begin
// until Commit or Rollback, so operations are serialized.
// Uses in-memory cache + Store persistence for durability.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	state  SystemState
	vaults map[common.Address]*Vault
}

// NewLedger loads persisted state into the cache.
func NewLedger(store Store) (*Ledger, error) {
	l := &Ledger{
		store:  store,
		vaults: make(map[common.Address]*Vault),
	}

	st, err := store.LoadSystemState()
	if err != nil {
		return nil, fmt.Errorf("failed to load system state: %w", err)
	}
	if st != nil {
		l.state = *st
	}

	vaults, err := store.LoadVaults()
	if err != nil {
		return nil, fmt.Errorf("failed to load vaults: %w", err)
	}
	for i := range vaults {
		v := vaults[i]
		l.vaults[v.Owner] = &v
	}

	return l, nil
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) State() SystemState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Vault returns a copy of the owner's vault. ok is false if it was never created.
func (l *Ledger) Vault(owner common.Address) (Vault, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.vaults[owner]
	if !ok {
		return Vault{}, false
	}
	return *v, true
}

// Vaults returns all vaults ordered by owner address.
func (l *Ledger) Vaults() []Vault {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Vault, 0, len(l.vaults))
	for _, v := range l.vaults {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0
	})
	return out
}

func (l *Ledger) VaultCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.vaults)
}

// Begin starts a transaction. The caller must Commit or Rollback.
func (l *Ledger) Begin() *Tx {
	l.mu.Lock()
	return &Tx{
		ledger: l,
		state:  l.state,
		staged: make(map[common.Address]*Vault),
	}
}

// Update runs fn in a transaction and commits it if fn succeeds.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	tx := l.Begin()
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetOrCreateVault is the only creation path: a missing vault is
// provisioned with zero balances.
func (l *Ledger) GetOrCreateVault(owner common.Address) (Vault, error) {
	var out Vault
	err := l.Update(func(tx *Tx) error {
		out = tx.GetOrCreateVault(owner)
		return nil
	})
	return out, err
}

// ApplyDelta updates one vault and the matching aggregates atomically.
func (l *Ledger) ApplyDelta(owner common.Address, collateral, debt Delta) (Vault, error) {
	var out Vault
	err := l.Update(func(tx *Tx) error {
		v, err := tx.ApplyDelta(owner, collateral, debt)
		out = v
		return err
	})
	return out, err
}

func (l *Ledger) LiquidationHistory(limit int) ([]LiquidationRecord, error) {
	return l.store.LiquidationHistory(limit)
}

// CheckInvariants verifies totalCollateral == Σ collateral and
// totalDebt == Σ debt over the committed state.
func (l *Ledger) CheckInvariants() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sumCollateral := new(uint256.Int)
	sumDebt := new(uint256.Int)
	for addr, v := range l.vaults {
		if v.Owner != addr {
			return fmt.Errorf("%w: vault keyed %s owned by %s", ErrInvariantViolated, addr.Hex(), v.Owner.Hex())
		}
		sumCollateral.Add(sumCollateral, uint256.NewInt(v.Collateral))
		sumDebt.Add(sumDebt, uint256.NewInt(v.Debt))
	}

	if !sumCollateral.Eq(uint256.NewInt(l.state.TotalCollateral)) {
		return fmt.Errorf("%w: total collateral %d != sum %s", ErrInvariantViolated, l.state.TotalCollateral, sumCollateral.Dec())
	}
	if !sumDebt.Eq(uint256.NewInt(l.state.TotalDebt)) {
		return fmt.Errorf("%w: total debt %d != sum %s", ErrInvariantViolated, l.state.TotalDebt, sumDebt.Dec())
	}
	return nil
}

// Tx stages changes against a locked ledger.
type Tx struct {
	ledger       *Ledger
	state        SystemState
	stateDirty   bool
	staged       map[common.Address]*Vault
	order        []common.Address
	liquidations []LiquidationRecord
	done         bool
}

func (tx *Tx) State() SystemState {
	return tx.state
}

// Vault returns the staged or committed vault for owner.
func (tx *Tx) Vault(owner common.Address) (Vault, bool) {
	if v, ok := tx.staged[owner]; ok {
		return *v, true
	}
	if v, ok := tx.ledger.vaults[owner]; ok {
		return *v, true
	}
	return Vault{}, false
}

func (tx *Tx) GetOrCreateVault(owner common.Address) Vault {
	if v, ok := tx.Vault(owner); ok {
		return v
	}
	v := Vault{Owner: owner, Initialized: true}
	tx.stage(v)
	return v
}

// ApplyDelta changes a vault's balances and the SystemState aggregates
// together. Nothing is staged if any field would leave its range.
func (tx *Tx) ApplyDelta(owner common.Address, collateral, debt Delta) (Vault, error) {
	v, ok := tx.Vault(owner)
	if !ok || !v.Initialized {
		return Vault{}, fmt.Errorf("%w: %s", ErrVaultNotInitialized, owner.Hex())
	}

	newCollateral, err := collateral.apply(v.Collateral, ErrInsufficientCollateral)
	if err != nil {
		return v, err
	}
	newDebt, err := debt.apply(v.Debt, ErrInsufficientDebt)
	if err != nil {
		return v, err
	}
	totalCollateral, err := collateral.apply(tx.state.TotalCollateral, ErrInvariantViolated)
	if err != nil {
		return v, err
	}
	totalDebt, err := debt.apply(tx.state.TotalDebt, ErrInvariantViolated)
	if err != nil {
		return v, err
	}

	v.Collateral = newCollateral
	v.Debt = newDebt
	tx.stage(v)

	tx.state.TotalCollateral = totalCollateral
	tx.state.TotalDebt = totalDebt
	tx.stateDirty = true

	return v, nil
}

// Initialize installs the SystemState singleton. Fails if already set.
func (tx *Tx) Initialize(st SystemState) error {
	if tx.state.Initialized {
		return ErrAlreadyInitialized
	}
	st.Initialized = true
	st.TotalCollateral = tx.state.TotalCollateral
	st.TotalDebt = tx.state.TotalDebt
	tx.state = st
	tx.stateDirty = true
	return nil
}

func (tx *Tx) RecordLiquidation(rec LiquidationRecord) {
	tx.liquidations = append(tx.liquidations, rec)
}

func (tx *Tx) stage(v Vault) {
	if _, ok := tx.staged[v.Owner]; !ok {
		tx.order = append(tx.order, v.Owner)
	}
	tx.staged[v.Owner] = &v
}

func (tx *Tx) changeset() Changeset {
	cs := Changeset{Liquidations: tx.liquidations}
	for _, owner := range tx.order {
		cs.Vaults = append(cs.Vaults, *tx.staged[owner])
	}
	if tx.stateDirty {
		st := tx.state
		cs.State = &st
	}
	return cs
}

// Commit persists the changeset, then publishes it to the cache.
// On a store error nothing is published.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	defer tx.ledger.mu.Unlock()

	cs := tx.changeset()
	if cs.Empty() {
		return nil
	}
	if err := tx.ledger.store.Commit(cs); err != nil {
		return fmt.Errorf("failed to commit ledger changes: %w", err)
	}

	for _, v := range cs.Vaults {
		v := v
		tx.ledger.vaults[v.Owner] = &v
	}
	if cs.State != nil {
		tx.ledger.state = *cs.State
	}
	return nil
}

// Rollback discards staged changes. Safe to call after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.ledger.mu.Unlock()
}
