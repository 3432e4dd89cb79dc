package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperbarter/pkg/storage"
)

// RegisterPriceFeed binds asset to the feed at handle, replacing any earlier
// binding. Owner only.
func (e *Exchange) RegisterPriceFeed(ctx context.Context, caller, a, handle common.Address) (err error) {
	defer func() { e.observe("register_price_feed", err) }()

	if caller != e.cfg.Owner {
		return fmt.Errorf("%w: only the owner can set price feeds", core.ErrUnauthorized)
	}
	if a == (common.Address{}) {
		return fmt.Errorf("%w: price feed for the zero address", core.ErrInvalidAsset)
	}
	feed, err := e.feeds.Bind(handle)
	if err != nil {
		return err
	}

	e.mu.Lock()
	b := e.db.NewBatch()
	defer b.Close()
	if err := b.Put(storage.FeedKey(a), []byte(handle.Hex())); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to stage feed: %w", err)
	}
	ev, err := e.commit(b, Event{
		Type:  EventPriceFeedSet,
		Asset: addr(a),
		Feed:  addr(handle),
	}, func() { e.feeds.Set(a, handle, feed) })
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.log.Infow("price_feed_set", "asset", a.Hex(), "feed", handle.Hex())
	e.publish(ev)
	return nil
}

// Withdraw sweeps the whole treasury to the owner's native balance and
// returns the amount. Owner only.
func (e *Exchange) Withdraw(ctx context.Context, caller common.Address) (amount *big.Int, err error) {
	defer func() { e.observe("withdraw", err) }()

	if caller != e.cfg.Owner {
		return nil, fmt.Errorf("%w: only the owner can withdraw", core.ErrUnauthorized)
	}

	e.mu.Lock()
	amount = e.treasury.Balance()
	if amount.Sign() == 0 {
		e.mu.Unlock()
		return nil, core.ErrNothingToWithdraw
	}

	b := e.db.NewBatch()
	defer b.Close()
	zero := new(big.Int)
	if err := e.treasury.StageSet(b, zero); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	tx := e.ledger.Begin()
	defer tx.Discard()
	if err := tx.Credit(caller, amount); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", core.ErrTransferFailed, err)
	}
	if err := tx.Stage(b); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	ev, err := e.commit(b, Event{
		Type:   EventFeesWithdrawn,
		Owner:  addr(caller),
		Amount: new(big.Int).Set(amount),
	}, func() {
		e.treasury.Apply(zero)
		tx.Publish()
	})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.metrics.SetTreasury(zero)
	e.log.Infow("fees_withdrawn", "owner", caller.Hex(), "amount", settlement.FormatWei(amount))
	e.publish(ev)
	return amount, nil
}
