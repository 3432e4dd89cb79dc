package exchange

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/storage"
)

type EventType string

const (
	EventOrderCreated   EventType = "OrderCreated"
	EventOrderCancelled EventType = "OrderCancelled"
	EventOrderFulfilled EventType = "OrderFulfilled"
	EventFeesWithdrawn  EventType = "FeesWithdrawn"
	EventPriceFeedSet   EventType = "PriceFeedSet"
)

// Event is an entry of the persisted exchange log. Which optional fields are
// set depends on Type.
type Event struct {
	ID   string    `json:"id"`
	Seq  uint64    `json:"seq"`
	Type EventType `json:"type"`
	Time int64     `json:"time"` // unix seconds

	EID       uint64          `json:"eid,omitempty"`
	Seller    *common.Address `json:"seller,omitempty"`
	Buyer     *common.Address `json:"buyer,omitempty"`
	ToSell    *asset.Ref      `json:"toSell,omitempty"`
	ToFulfill *asset.Ref      `json:"toFulfill,omitempty"`

	Owner *common.Address `json:"owner,omitempty"`
	Asset *common.Address `json:"asset,omitempty"`
	Feed  *common.Address `json:"feed,omitempty"`

	// Fee and Payment are set for OrderFulfilled; Amount for FeesWithdrawn.
	Fee     *big.Int `json:"fee,omitempty"`
	Payment *big.Int `json:"payment,omitempty"`
	Amount  *big.Int `json:"amount,omitempty"`
}

// Listener receives committed events in log order. It runs on the goroutine
// that performed the operation, after the exchange lock is released.
type Listener func(Event)

func addr(a common.Address) *common.Address { return &a }

func ref(r asset.Ref) *asset.Ref {
	c := r.Clone()
	return &c
}

// stageEvent stamps ev with the next sequence number and adds it to b.
// Called with e.mu held.
func (e *Exchange) stageEvent(b *storage.Batch, ev Event) (Event, error) {
	ev.ID = uuid.NewString()
	ev.Seq = e.eventSeq + 1
	ev.Time = e.clock.Now().Unix()

	if err := b.PutJSON(storage.EventKey(ev.Seq), ev); err != nil {
		return Event{}, fmt.Errorf("failed to stage event: %w", err)
	}
	if err := b.Put(storage.EventSeqKey(), []byte(strconv.FormatUint(ev.Seq, 10))); err != nil {
		return Event{}, fmt.Errorf("failed to stage event counter: %w", err)
	}
	return ev, nil
}

// Subscribe registers l for every event committed from now on
func (e *Exchange) Subscribe(l Listener) {
	e.lmu.Lock()
	e.listeners = append(e.listeners, l)
	e.lmu.Unlock()
}

func (e *Exchange) publish(ev Event) {
	e.lmu.RLock()
	listeners := e.listeners
	e.lmu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// OrderEvents returns the log entries of one order, oldest first
func (e *Exchange) OrderEvents(eid uint64) ([]Event, error) {
	var out []Event
	err := e.db.Scan(storage.EventPrefix(), func(_, value []byte) error {
		var ev Event
		if err := storage.DecodeJSON(value, &ev); err != nil {
			return err
		}
		if ev.EID == eid {
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return out, nil
}

// RecentEvents returns up to limit log entries, newest first
func (e *Exchange) RecentEvents(limit int) ([]Event, error) {
	out := make([]Event, 0, limit)
	err := e.db.ScanReverse(storage.EventPrefix(), limit, func(_, value []byte) error {
		var ev Event
		if err := storage.DecodeJSON(value, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return out, nil
}
