// Package treasury tracks the native-currency fees the exchange holds.
package treasury

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/uhyunpark/hyperbarter/pkg/storage"
)

// Treasury is credited by settlements and emptied by withdrawals.
// Writes are staged into a batch and applied after commit.
type Treasury struct {
	db *storage.Store

	mu      sync.RWMutex
	balance *big.Int
}

func Open(db *storage.Store) (*Treasury, error) {
	t := &Treasury{db: db, balance: new(big.Int)}

	raw, ok, err := db.Get(storage.TreasuryKey())
	if err != nil {
		return nil, fmt.Errorf("failed to load treasury: %w", err)
	}
	if ok {
		if _, ok := t.balance.SetString(string(raw), 10); !ok {
			return nil, fmt.Errorf("failed to parse treasury balance %q", raw)
		}
	}
	return t, nil
}

// Balance returns a copy of the held amount in wei
func (t *Treasury) Balance() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.balance)
}

// StageSet writes the new balance into b
func (t *Treasury) StageSet(b *storage.Batch, balance *big.Int) error {
	if balance.Sign() < 0 {
		return fmt.Errorf("negative treasury balance %s", balance)
	}
	if err := b.Put(storage.TreasuryKey(), []byte(balance.String())); err != nil {
		return fmt.Errorf("failed to stage treasury: %w", err)
	}
	return nil
}

// Apply mirrors a committed StageSet
func (t *Treasury) Apply(balance *big.Int) {
	t.mu.Lock()
	t.balance = new(big.Int).Set(balance)
	t.mu.Unlock()
}
