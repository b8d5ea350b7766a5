package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdai/pkg/app/core/vault"
)

// PebbleStore persists vaults, the system state and liquidation history.
// Thread-safe: writes are serialized by the vault.Ledger lock.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,                  // 32MB memtable
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10, // 512KB
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// LoadSystemState returns nil if the system was never initialized
func (s *PebbleStore) LoadSystemState() (*vault.SystemState, error) {
	var st vault.SystemState
	found, err := s.getJSON([]byte(keySystemState), &st)
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

// LoadVault returns nil if the vault doesn't exist
func (s *PebbleStore) LoadVault(owner common.Address) (*vault.Vault, error) {
	var v vault.Vault
	found, err := s.getJSON(vaultKey(owner), &v)
	if err != nil || !found {
		return nil, err
	}
	return &v, nil
}

func (s *PebbleStore) LoadVaults() ([]vault.Vault, error) {
	prefix := vaultPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vault iterator: %w", err)
	}
	defer iter.Close()

	var out []vault.Vault
	for iter.First(); iter.Valid(); iter.Next() {
		var v vault.Vault
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vault %s: %w", iter.Key(), err)
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

// Commit writes the changeset to Pebble atomically
func (s *PebbleStore) Commit(cs vault.Changeset) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, v := range cs.Vaults {
		if err := setJSON(batch, vaultKey(v.Owner), v); err != nil {
			return fmt.Errorf("failed to stage vault: %w", err)
		}
	}
	if cs.State != nil {
		if err := setJSON(batch, []byte(keySystemState), cs.State); err != nil {
			return fmt.Errorf("failed to stage system state: %w", err)
		}
	}
	for _, rec := range cs.Liquidations {
		if err := setJSON(batch, liquidationKey(rec.Timestamp, rec.ID), rec); err != nil {
			return fmt.Errorf("failed to stage liquidation: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// LiquidationHistory returns the most recent records, newest first.
// limit <= 0 returns all.
func (s *PebbleStore) LiquidationHistory(limit int) ([]vault.LiquidationRecord, error) {
	prefix := liquidationPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open liquidation iterator: %w", err)
	}
	defer iter.Close()

	var out []vault.LiquidationRecord
	for iter.Last(); iter.Valid(); iter.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var rec vault.LiquidationRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

func (s *PebbleStore) getJSON(key []byte, out any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func setJSON(batch *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return batch.Set(key, data, nil)
}

var _ vault.Store = (*PebbleStore)(nil)
