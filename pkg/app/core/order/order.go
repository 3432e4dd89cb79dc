package order

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
)

// DefaultPageSize is the number of slots per ListOrders page
const DefaultPageSize = 25

// Status is derived from an order slot, never stored
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled" // also never-created slots
)

// Order is one barter offer: the seller gives ToSell for ToFulfill.
// The zero Order is what a cancelled or unassigned slot reads as.
type Order struct {
	EID       uint64         `json:"eid"`
	Seller    common.Address `json:"seller"`
	Buyer     common.Address `json:"buyer"`
	ToSell    asset.Ref      `json:"toSell"`
	ToFulfill asset.Ref      `json:"toFulfill"`
	Fulfilled bool           `json:"fulfilled"`
	Deadline  int64          `json:"deadline"` // unix seconds, inclusive
}

// IsZero reports whether o is an empty slot
func (o Order) IsZero() bool { return o.EID == 0 }

// Expired reports whether the deadline passed at now (unix seconds)
func (o Order) Expired(now int64) bool { return now > o.Deadline }

func (o Order) Status(now int64) Status {
	switch {
	case o.IsZero():
		return StatusCancelled
	case o.Fulfilled:
		return StatusFulfilled
	case o.Expired(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

// Clone returns a deep copy; big.Int legs are not shared.
func (o Order) Clone() Order {
	c := o
	if !o.IsZero() {
		c.ToSell = o.ToSell.Clone()
		c.ToFulfill = o.ToFulfill.Clone()
	}
	return c
}
