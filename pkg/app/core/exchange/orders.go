package exchange

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/order"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/settlement"
)

// List creates an order with caller as seller and returns its id.
// A deadline already in the past is accepted; such an order can only be
// cancelled.
func (e *Exchange) List(ctx context.Context, caller common.Address, toSell, toFulfill asset.Ref, deadline int64) (eid uint64, err error) {
	defer func() { e.observe("list", err) }()

	if toSell.IsZeroAsset() || toFulfill.IsZeroAsset() {
		return 0, fmt.Errorf("%w: legs must name an asset", core.ErrInvalidAsset)
	}

	e.mu.Lock()
	o := order.Order{
		EID:       e.orders.NextID(),
		Seller:    caller,
		ToSell:    toSell.Clone(),
		ToFulfill: toFulfill.Clone(),
		Deadline:  deadline,
	}

	b := e.db.NewBatch()
	defer b.Close()
	if err := e.orders.StagePut(b, o); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	ev, err := e.commit(b, Event{
		Type:      EventOrderCreated,
		EID:       o.EID,
		Seller:    addr(caller),
		ToSell:    ref(o.ToSell),
		ToFulfill: ref(o.ToFulfill),
	}, func() { e.orders.ApplyPut(o) })
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}

	e.metrics.SetLastOrderID(o.EID)
	e.log.Infow("order_listed",
		"eid", o.EID,
		"seller", caller.Hex(),
		"to_sell", o.ToSell.String(),
		"to_fulfill", o.ToFulfill.String(),
		"deadline", deadline,
	)
	e.publish(ev)
	return o.EID, nil
}

// Cancel zeroes the order slot. Only the seller may cancel, and only before
// fulfillment. An empty slot reads as seller zero and fails authorization.
func (e *Exchange) Cancel(ctx context.Context, caller common.Address, eid uint64) (err error) {
	defer func() { e.observe("cancel", err) }()

	e.mu.Lock()
	o := e.orders.Get(eid)
	if o.IsZero() || o.Seller != caller {
		e.mu.Unlock()
		return fmt.Errorf("%w: only the seller can cancel order %d", core.ErrUnauthorized, eid)
	}
	if o.Fulfilled {
		e.mu.Unlock()
		return fmt.Errorf("%w: order %d", core.ErrAlreadyFulfilled, eid)
	}

	b := e.db.NewBatch()
	defer b.Close()
	if err := e.orders.StageDelete(b, eid); err != nil {
		e.mu.Unlock()
		return err
	}
	ev, err := e.commit(b, Event{
		Type:   EventOrderCancelled,
		EID:    eid,
		Seller: addr(caller),
	}, func() { e.orders.ApplyDelete(eid) })
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.log.Infow("order_cancelled", "eid", eid, "seller", caller.Hex())
	e.publish(ev)
	return nil
}

// Fulfill settles the order with caller as buyer. payment is the native
// amount attached; it must cover the quoted fee and is kept in full.
func (e *Exchange) Fulfill(ctx context.Context, caller common.Address, eid uint64, payment *big.Int) (rc settlement.Receipt, err error) {
	defer func() { e.observe("fulfill", err) }()
	if payment == nil {
		payment = new(big.Int)
	}

	e.mu.Lock()
	o := e.orders.Get(eid)
	if o.Fulfilled {
		e.mu.Unlock()
		return settlement.Receipt{}, fmt.Errorf("%w: order %d", core.ErrAlreadyFulfilled, eid)
	}
	if now := e.clock.Now().Unix(); o.Expired(now) {
		e.mu.Unlock()
		return settlement.Receipt{}, fmt.Errorf("%w: order %d deadline %d, now %d", core.ErrExpired, eid, o.Deadline, now)
	}

	// Stage the fulfilled order and the treasury credit before any transfer.
	done := o.Clone()
	done.Fulfilled = true
	done.Buyer = caller
	balance := e.treasury.Balance()
	balance.Add(balance, payment)

	b := e.db.NewBatch()
	defer b.Close()
	if err := e.orders.StagePut(b, done); err != nil {
		e.mu.Unlock()
		return settlement.Receipt{}, err
	}
	if err := e.treasury.StageSet(b, balance); err != nil {
		e.mu.Unlock()
		return settlement.Receipt{}, err
	}

	tx := e.ledger.Begin()
	defer tx.Discard()

	start := time.Now()
	rc, err = e.engine.Settle(ctx, tx, o, caller, payment)
	e.metrics.ObserveSettlement(time.Since(start))
	if err != nil {
		e.mu.Unlock()
		e.log.Warnw("order_fulfill_rejected", "eid", eid, "buyer", caller.Hex(), "payment_wei", payment.String(), "err", err)
		return settlement.Receipt{}, err
	}
	if err := tx.Stage(b); err != nil {
		e.mu.Unlock()
		return settlement.Receipt{}, err
	}

	ev, err := e.commit(b, Event{
		Type:    EventOrderFulfilled,
		EID:     eid,
		Seller:  addr(o.Seller),
		Buyer:   addr(caller),
		Fee:     rc.Fee,
		Payment: rc.Payment,
	}, func() {
		e.orders.ApplyPut(done)
		e.treasury.Apply(balance)
		tx.Publish()
	})
	e.mu.Unlock()
	if err != nil {
		return settlement.Receipt{}, err
	}

	e.metrics.AddCollected(payment)
	e.metrics.SetTreasury(balance)
	e.log.Infow("order_fulfilled",
		"eid", eid,
		"seller", o.Seller.Hex(),
		"buyer", caller.Hex(),
		"fee", settlement.FormatWei(rc.Fee),
		"payment", settlement.FormatWei(payment),
	)
	e.publish(ev)
	return rc, nil
}
