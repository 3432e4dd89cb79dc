package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/storage"
)

// Tx is a staged set of ledger writes. Reads see the Tx's own writes.
type Tx struct {
	l      *Ledger
	writes map[string]*string // nil value = delete
	done   bool
}

func (tx *Tx) get(key string) (string, bool) {
	if v, ok := tx.writes[key]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	return tx.l.read(key)
}

func (tx *Tx) set(key, value string) { tx.writes[key] = &value }
func (tx *Tx) del(key string)        { tx.writes[key] = nil }

func (tx *Tx) setBig(key string, v *big.Int) {
	if v.Sign() == 0 {
		tx.del(key)
		return
	}
	tx.set(key, v.String())
}

func (tx *Tx) view() reader { return reader{get: tx.get} }

// Stage adds the Tx's writes to batch.
func (tx *Tx) Stage(b *storage.Batch) error {
	for key, v := range tx.writes {
		var err error
		if v == nil {
			err = b.Delete(storageKey(key))
		} else {
			err = b.Put(storageKey(key), []byte(*v))
		}
		if err != nil {
			return fmt.Errorf("failed to stage ledger entry %s: %w", key, err)
		}
	}
	return nil
}

// Publish makes the writes visible and closes the Tx. Call it only after the
// batch holding the staged writes committed.
func (tx *Tx) Publish() {
	if tx.done {
		return
	}
	tx.l.mu.Lock()
	for key, v := range tx.writes {
		if v == nil {
			delete(tx.l.kv, key)
		} else {
			tx.l.kv[key] = *v
		}
	}
	tx.l.mu.Unlock()
	tx.done = true
	tx.l.writeMu.Unlock()
}

// Discard drops the writes and closes the Tx. No-op after Publish.
func (tx *Tx) Discard() {
	if tx.done {
		return
	}
	tx.writes = nil
	tx.done = true
	tx.l.writeMu.Unlock()
}

// Size is the number of staged writes.
func (tx *Tx) Size() int { return len(tx.writes) }

// ---- reads ----

func (tx *Tx) NativeBalance(holder common.Address) *big.Int { return tx.view().native(holder) }

func (tx *Tx) BalanceOf(token, holder common.Address) *big.Int {
	return tx.view().balance(token, holder)
}

func (tx *Tx) OwnerOf(token common.Address, id *big.Int) (common.Address, bool) {
	return tx.view().owner(token, id)
}

// ---- native ----

// Credit adds amount to a native balance.
func (tx *Tx) Credit(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	bal := tx.view().native(to)
	tx.setBig(nativeKey(to), bal.Add(bal, amount))
	return nil
}

// Debit removes amount from a native balance.
func (tx *Tx) Debit(_ context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	bal := tx.view().native(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
	}
	tx.setBig(nativeKey(from), bal.Sub(bal, amount))
	return nil
}

// ---- registration and minting ----

// RegisterToken declares token's kind. Re-registering with the same kind is
// a no-op.
func (tx *Tx) RegisterToken(token common.Address, kind asset.Kind) error {
	if existing, ok := tx.view().kind(token); ok {
		if existing != kind {
			return fmt.Errorf("%w: %s is %s", ErrKindMismatch, token.Hex(), existing)
		}
		return nil
	}
	tx.set(tokenKey(token), kind.String())
	return nil
}

func (tx *Tx) requireKind(token common.Address, kind asset.Kind) error {
	existing, ok := tx.view().kind(token)
	if !ok {
		return tx.RegisterToken(token, kind)
	}
	if existing != kind {
		return fmt.Errorf("%w: %s is %s", ErrKindMismatch, token.Hex(), existing)
	}
	return nil
}

// MintFungible credits amount of token to holder, registering token as
// fungible on first use.
func (tx *Tx) MintFungible(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := tx.requireKind(token, asset.Fungible); err != nil {
		return err
	}
	bal := tx.view().balance(token, to)
	tx.setBig(balanceKey(token, to), bal.Add(bal, amount))
	return nil
}

// MintUnique creates token id owned by to, registering token as unique on
// first use.
func (tx *Tx) MintUnique(token, to common.Address, id *big.Int) error {
	if id == nil || id.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := tx.requireKind(token, asset.Unique); err != nil {
		return err
	}
	if _, exists := tx.view().owner(token, id); exists {
		return fmt.Errorf("%w: %s #%s", ErrTokenExists, token.Hex(), id)
	}
	tx.set(ownerKey(token, id), to.Hex())
	bal := tx.view().balance(token, to)
	tx.setBig(balanceKey(token, to), bal.Add(bal, big.NewInt(1)))
	return nil
}

// ---- approvals ----

// Approve sets spender's fungible allowance over owner's balance.
func (tx *Tx) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := tx.requireKind(token, asset.Fungible); err != nil {
		return err
	}
	tx.setBig(allowanceKey(token, owner, spender), new(big.Int).Set(amount))
	return nil
}

// ApproveToken lets spender move one unique token. caller must own the token
// or be an approved operator of the owner.
func (tx *Tx) ApproveToken(token, caller, spender common.Address, id *big.Int) error {
	owner, ok := tx.view().owner(token, id)
	if !ok {
		return fmt.Errorf("%w: %s #%s", ErrNonexistentToken, token.Hex(), id)
	}
	if caller != owner && !tx.view().operator(token, owner, caller) {
		return ErrNotApproved
	}
	if spender == (common.Address{}) {
		tx.del(approvedKey(token, id))
		return nil
	}
	tx.set(approvedKey(token, id), spender.Hex())
	return nil
}

// SetApprovalForAll grants or revokes operator rights over all of owner's
// tokens of one collection.
func (tx *Tx) SetApprovalForAll(token, owner, operator common.Address, approved bool) error {
	if err := tx.requireKind(token, asset.Unique); err != nil {
		return err
	}
	if approved {
		tx.set(operatorKey(token, owner, operator), "1")
	} else {
		tx.del(operatorKey(token, owner, operator))
	}
	return nil
}

// ---- transfers ----

// TransferFrom moves amount of a fungible token from `from` to `to` on behalf
// of spender, consuming allowance.
func (tx *Tx) TransferFrom(_ context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	r := tx.view()
	if spender != from {
		allowance := r.allowance(token, from, spender)
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s allows %s, need %s", ErrInsufficientAllowance, from.Hex(), allowance, amount)
		}
		if allowance.Cmp(MaxAllowance) != 0 {
			tx.setBig(allowanceKey(token, from, spender), allowance.Sub(allowance, amount))
		}
	}

	fromBal := r.balance(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	tx.setBig(balanceKey(token, from), fromBal.Sub(fromBal, amount))
	toBal := r.balance(token, to)
	tx.setBig(balanceKey(token, to), toBal.Add(toBal, amount))
	return nil
}

// TransferToken moves unique token id from `from` to `to`. operator must be
// the owner, the token's approved spender, or an approved operator.
func (tx *Tx) TransferToken(_ context.Context, token, operator, from, to common.Address, id *big.Int) error {
	if id == nil {
		return ErrInvalidAmount
	}
	r := tx.view()
	owner, ok := r.owner(token, id)
	if !ok {
		return fmt.Errorf("%w: %s #%s", ErrNonexistentToken, token.Hex(), id)
	}
	if owner != from {
		return fmt.Errorf("%w: %s #%s is owned by %s", ErrNotOwner, token.Hex(), id, owner.Hex())
	}
	if operator != owner && r.approved(token, id) != operator && !r.operator(token, owner, operator) {
		return fmt.Errorf("%w: %s on %s #%s", ErrNotApproved, operator.Hex(), token.Hex(), id)
	}

	tx.del(approvedKey(token, id))
	tx.set(ownerKey(token, id), to.Hex())

	fromBal := r.balance(token, from)
	tx.setBig(balanceKey(token, from), fromBal.Sub(fromBal, big.NewInt(1)))
	toBal := r.balance(token, to)
	tx.setBig(balanceKey(token, to), toBal.Add(toBal, big.NewInt(1)))
	return nil
}
