package vault

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemStore keeps ledger state in memory. Used by tests and ephemeral nodes.
type MemStore struct {
	mu           sync.RWMutex
	state        *SystemState
	vaults       map[common.Address]Vault
	liquidations []LiquidationRecord

	// FailCommit, when set, is returned by the next Commit.
	FailCommit error
}

func NewMemStore() *MemStore {
	return &MemStore{vaults: make(map[common.Address]Vault)}
}

func (s *MemStore) LoadSystemState() (*SystemState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, nil
	}
	st := *s.state
	return &st, nil
}

func (s *MemStore) LoadVault(owner common.Address) (*Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[owner]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *MemStore) LoadVaults() ([]Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		out = append(out, v)
	}
	return out, nil
}

func (s *MemStore) Commit(cs Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailCommit; err != nil {
		s.FailCommit = nil
		return err
	}
	for _, v := range cs.Vaults {
		s.vaults[v.Owner] = v
	}
	if cs.State != nil {
		st := *cs.State
		s.state = &st
	}
	s.liquidations = append(s.liquidations, cs.Liquidations...)
	return nil
}

// LiquidationHistory returns the newest limit records first. limit <= 0 means all.
func (s *MemStore) LiquidationHistory(limit int) ([]LiquidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LiquidationRecord
	for i := len(s.liquidations) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.liquidations[i])
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }
