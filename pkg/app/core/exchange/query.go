package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/order"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/settlement"
)

// GetOrder returns a copy of the slot; the zero Order when cancelled or
// never created.
func (e *Exchange) GetOrder(eid uint64) order.Order {
	return e.orders.Get(eid)
}

// ListOrders returns page (1-based) of raw order slots, exactly PageSize
// entries, fulfilled and empty slots included.
func (e *Exchange) ListOrders(page int) ([]order.Order, error) {
	return e.orders.Page(page, e.cfg.PageSize)
}

// OpenOrders returns orders that can still be fulfilled now
func (e *Exchange) OpenOrders() []order.Order {
	now := e.clock.Now().Unix()
	active := e.orders.Active()
	out := active[:0]
	for _, o := range active {
		if !o.Expired(now) {
			out = append(out, o)
		}
	}
	return out
}

func (e *Exchange) LastOrderID() uint64 { return e.orders.LastID() }

// Now is the exchange clock in unix seconds, the reference for deadlines
func (e *Exchange) Now() int64 { return e.clock.Now().Unix() }

// QuoteFee prices order eid as Fulfill would right now
func (e *Exchange) QuoteFee(ctx context.Context, eid uint64) (settlement.Quote, error) {
	return e.engine.Quote(ctx, e.orders.Get(eid))
}

// LatestPrice reads the registered feed of an asset
func (e *Exchange) LatestPrice(ctx context.Context, a common.Address) (oracle.Price, error) {
	return e.feeds.LatestPrice(ctx, a)
}

// PriceFeed returns the feed handle registered for an asset
func (e *Exchange) PriceFeed(a common.Address) (common.Address, bool) {
	return e.feeds.Handle(a)
}

func (e *Exchange) PriceFeeds() map[common.Address]common.Address {
	return e.feeds.Handles()
}

// TreasuryBalance is the amount Withdraw would sweep
func (e *Exchange) TreasuryBalance() *big.Int {
	return e.treasury.Balance()
}
