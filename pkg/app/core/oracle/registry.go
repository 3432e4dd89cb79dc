package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
)

// Registry maps assets to their price feeds in a thread-safe manner.
// Entries are only ever added or replaced, never removed.
type Registry struct {
	mu      sync.RWMutex
	feeds   map[common.Address]binding // asset -> feed
	factory FeedFactory
}

type binding struct {
	handle common.Address
	feed   Feed
}

// NewRegistry creates an empty registry that builds feeds with factory
func NewRegistry(factory FeedFactory) *Registry {
	return &Registry{
		feeds:   make(map[common.Address]binding),
		factory: factory,
	}
}

// Bind validates a handle and builds its feed without registering it.
// Callers that persist the binding first use Bind, then Set after commit.
func (r *Registry) Bind(handle common.Address) (Feed, error) {
	if handle == (common.Address{}) {
		return nil, core.ErrInvalidFeedAddress
	}
	feed, err := r.factory.Feed(handle)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed %s: %w", handle.Hex(), err)
	}
	return feed, nil
}

// Set installs a feed returned by Bind.
func (r *Registry) Set(asset, handle common.Address, feed Feed) {
	r.mu.Lock()
	r.feeds[asset] = binding{handle: handle, feed: feed}
	r.mu.Unlock()
}

// Register binds handle and installs it for asset
func (r *Registry) Register(asset, handle common.Address) error {
	feed, err := r.Bind(handle)
	if err != nil {
		return err
	}
	r.Set(asset, handle, feed)
	return nil
}

// LatestPrice returns the latest answer for asset
func (r *Registry) LatestPrice(ctx context.Context, asset common.Address) (Price, error) {
	r.mu.RLock()
	b, ok := r.feeds[asset]
	r.mu.RUnlock()
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", core.ErrUnknownPriceFeed, asset.Hex())
	}

	price, err := b.feed.LatestPrice(ctx)
	if err != nil {
		return Price{}, fmt.Errorf("feed %s for %s: %w", b.handle.Hex(), asset.Hex(), err)
	}
	if err := validate(price); err != nil {
		return Price{}, fmt.Errorf("feed %s for %s: %w", b.handle.Hex(), asset.Hex(), err)
	}
	return price, nil
}

// Handle returns the feed handle registered for asset
func (r *Registry) Handle(asset common.Address) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.feeds[asset]
	return b.handle, ok
}

// Handles returns a copy of the asset -> handle table
func (r *Registry) Handles() map[common.Address]common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[common.Address]common.Address, len(r.feeds))
	for asset, b := range r.feeds {
		out[asset] = b.handle
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}
