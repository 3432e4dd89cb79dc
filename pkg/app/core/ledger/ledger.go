// Package ledger is an in-process asset ledger: native balances, ERC-20 style
// balances and allowances, ERC-721 style ownership and approvals. It is the
// devnet implementation of the transfer capabilities the exchange settles
// through, with the same authorization rules as the token standards.
//
// All writes go through a Tx. A Tx stages its writes, the caller adds them to
// a storage batch next to its own records, and publishes them only after the
// batch committed. Only one Tx is open at a time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/storage"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNonexistentToken      = errors.New("nonexistent token")
	ErrNotOwner              = errors.New("transfer from incorrect owner")
	ErrNotApproved           = errors.New("caller is not token owner or approved")
	ErrTokenExists           = errors.New("token already minted")
	ErrKindMismatch          = errors.New("asset kind mismatch")
	ErrInvalidAmount         = errors.New("invalid amount")

	// errNoIntrospection mirrors the revert of a supportsInterface call on a
	// contract without ERC-165.
	errNoIntrospection = errors.New("execution reverted: no supportsInterface")
	errNoContract      = errors.New("execution reverted: no contract code")
)

// MaxAllowance is never decremented by transfers.
var MaxAllowance = new(big.Int).Set(math.MaxBig256)

type Ledger struct {
	store *storage.Store
	log   *zap.SugaredLogger

	writeMu sync.Mutex // held by the open Tx

	mu sync.RWMutex
	kv map[string]string
}

// Open loads every ledger entry from store
func Open(store *storage.Store, log *zap.SugaredLogger) (*Ledger, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	l := &Ledger{
		store: store,
		log:   log,
		kv:    make(map[string]string),
	}

	prefix := storage.LedgerPrefix()
	err := store.Scan(prefix, func(key, value []byte) error {
		l.kv[string(key[len(prefix):])] = string(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	log.Infow("ledger_loaded", "entries", len(l.kv))
	return l, nil
}

func (l *Ledger) read(key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.kv[key]
	return v, ok
}

// Begin opens a Tx, blocking while another one is open.
func (l *Ledger) Begin() *Tx {
	l.writeMu.Lock()
	return &Tx{l: l, writes: make(map[string]*string)}
}

// Update runs fn in a Tx and commits it on its own batch.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	tx := l.Begin()
	defer tx.Discard()

	if err := fn(tx); err != nil {
		return err
	}

	batch := l.store.NewBatch()
	defer batch.Close()
	if err := tx.Stage(batch); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	tx.Publish()
	return nil
}

// view reads committed state only.
func (l *Ledger) view() reader { return reader{get: l.read} }

func (l *Ledger) NativeBalance(holder common.Address) *big.Int {
	return l.view().native(holder)
}

func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	return l.view().balance(token, holder)
}

func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	return l.view().allowance(token, owner, spender)
}

// OwnerOf returns the owner of a unique token, false if it was never minted
func (l *Ledger) OwnerOf(token common.Address, id *big.Int) (common.Address, bool) {
	return l.view().owner(token, id)
}

func (l *Ledger) GetApproved(token common.Address, id *big.Int) common.Address {
	return l.view().approved(token, id)
}

func (l *Ledger) IsApprovedForAll(token, owner, operator common.Address) bool {
	return l.view().operator(token, owner, operator)
}

// TokenKind returns the kind a token was registered with
func (l *Ledger) TokenKind(token common.Address) (asset.Kind, bool) {
	return l.view().kind(token)
}

// SupportsInterface answers ERC-165 probes the way deployed contracts would:
// unique tokens report ERC-165 and ERC-721, fungible tokens revert, unknown
// addresses have no code and revert too.
func (l *Ledger) SupportsInterface(_ context.Context, token common.Address, id asset.InterfaceID) (bool, error) {
	kind, ok := l.TokenKind(token)
	if !ok {
		return false, errNoContract
	}
	if kind != asset.Unique {
		return false, errNoIntrospection
	}
	return id == asset.ERC721InterfaceID || id == asset.ERC165InterfaceID, nil
}

var _ asset.Prober = (*Ledger)(nil)

// reader decodes typed values from a key lookup; shared by Ledger and Tx.
type reader struct {
	get func(string) (string, bool)
}

func (r reader) bigInt(key string) *big.Int {
	v, ok := r.get(key)
	if !ok {
		return new(big.Int)
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func (r reader) address(key string) (common.Address, bool) {
	v, ok := r.get(key)
	if !ok || v == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func (r reader) native(holder common.Address) *big.Int { return r.bigInt(nativeKey(holder)) }

func (r reader) balance(token, holder common.Address) *big.Int {
	return r.bigInt(balanceKey(token, holder))
}

func (r reader) allowance(token, owner, spender common.Address) *big.Int {
	return r.bigInt(allowanceKey(token, owner, spender))
}

func (r reader) owner(token common.Address, id *big.Int) (common.Address, bool) {
	return r.address(ownerKey(token, id))
}

func (r reader) approved(token common.Address, id *big.Int) common.Address {
	a, _ := r.address(approvedKey(token, id))
	return a
}

func (r reader) operator(token, owner, operator common.Address) bool {
	v, ok := r.get(operatorKey(token, owner, operator))
	return ok && v == "1"
}

func (r reader) kind(token common.Address) (asset.Kind, bool) {
	v, ok := r.get(tokenKey(token))
	if !ok {
		return 0, false
	}
	k, err := asset.ParseKind(v)
	if err != nil {
		return 0, false
	}
	return k, true
}

func storageKey(key string) []byte { return storage.LedgerKey(key) }
