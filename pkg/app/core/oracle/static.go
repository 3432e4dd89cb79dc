package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StaticBook serves operator-set answers keyed by feed handle. It backs
// devnets and tests where no RPC endpoint is available.
type StaticBook struct {
	mu     sync.RWMutex
	prices map[common.Address]Price
	now    func() time.Time
}

func NewStaticBook() *StaticBook {
	return &StaticBook{
		prices: make(map[common.Address]Price),
		now:    time.Now,
	}
}

// SetPrice records the answer a handle reports from now on.
func (b *StaticBook) SetPrice(handle common.Address, answer *big.Int, decimals uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()

	round := big.NewInt(1)
	if prev, ok := b.prices[handle]; ok && prev.RoundID != nil {
		round.Add(prev.RoundID, round)
	}
	b.prices[handle] = Price{
		Answer:    new(big.Int).Set(answer),
		Decimals:  decimals,
		RoundID:   round,
		UpdatedAt: b.now(),
	}
}

// Feed implements FeedFactory. Unknown handles are accepted and report
// ErrNoAnswer until a price is set.
func (b *StaticBook) Feed(handle common.Address) (Feed, error) {
	return staticFeed{book: b, handle: handle}, nil
}

type staticFeed struct {
	book   *StaticBook
	handle common.Address
}

func (f staticFeed) LatestPrice(context.Context) (Price, error) {
	f.book.mu.RLock()
	defer f.book.mu.RUnlock()

	p, ok := f.book.prices[f.handle]
	if !ok {
		return Price{}, ErrNoAnswer
	}
	p.Answer = new(big.Int).Set(p.Answer)
	p.RoundID = new(big.Int).Set(p.RoundID)
	return p, nil
}
