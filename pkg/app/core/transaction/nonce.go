package transaction

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbarter/pkg/storage"
)

// NonceTracker enforces strictly sequential per-account nonces starting at 0.
// The next expected nonce is persisted so replays stay rejected after restart.
type NonceTracker struct {
	db *storage.Store

	mu   sync.Mutex
	next map[common.Address]uint64
}

func NewNonceTracker(db *storage.Store) *NonceTracker {
	return &NonceTracker{db: db, next: make(map[common.Address]uint64)}
}

// Next returns the nonce the account must sign with next
func (n *NonceTracker) Next(addr common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.load(addr)
}

func (n *NonceTracker) load(addr common.Address) (uint64, error) {
	if v, ok := n.next[addr]; ok {
		return v, nil
	}
	raw, ok, err := n.db.Get(storage.NonceKey(addr))
	if err != nil {
		return 0, fmt.Errorf("failed to load nonce: %w", err)
	}
	var v uint64
	if ok {
		if v, err = strconv.ParseUint(string(raw), 10, 64); err != nil {
			return 0, fmt.Errorf("failed to parse nonce %q: %w", raw, err)
		}
	}
	n.next[addr] = v
	return v, nil
}

// Consume accepts nonce if it is the next expected one and advances the
// account. The nonce stays used even if the request it carried fails.
func (n *NonceTracker) Consume(addr common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	expected, err := n.load(addr)
	if err != nil {
		return err
	}
	if nonce != expected {
		return fmt.Errorf("%w: got %d, expected %d", ErrInvalidNonce, nonce, expected)
	}

	b := n.db.NewBatch()
	defer b.Close()
	if err := b.Put(storage.NonceKey(addr), []byte(strconv.FormatUint(expected+1, 10))); err != nil {
		return fmt.Errorf("failed to stage nonce: %w", err)
	}
	if err := b.Commit(); err != nil {
		return err
	}
	n.next[addr] = expected + 1
	return nil
}
