package asset

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Prober answers ERC-165 supportsInterface queries. Assets that do not
// implement introspection return an error, the same way a call to a plain
// ERC-20 contract reverts.
type Prober interface {
	SupportsInterface(ctx context.Context, asset common.Address, id InterfaceID) (bool, error)
}

// Resolver decides the Kind of an asset. Unique must be proven by a
// successful probe; anything else, including a failing probe, is Fungible.
//
// Only definitive answers are cached, so an asset whose probe failed is
// probed again next time.
type Resolver struct {
	prober Prober
	log    *zap.SugaredLogger

	mu    sync.RWMutex
	kinds map[common.Address]Kind
}

func NewResolver(prober Prober, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Resolver{
		prober: prober,
		log:    log,
		kinds:  make(map[common.Address]Kind),
	}
}

// Kind resolves the asset's kind. It never fails.
func (r *Resolver) Kind(ctx context.Context, asset common.Address) Kind {
	r.mu.RLock()
	kind, ok := r.kinds[asset]
	r.mu.RUnlock()
	if ok {
		return kind
	}

	unique, err := r.prober.SupportsInterface(ctx, asset, ERC721InterfaceID)
	if err != nil {
		r.log.Debugw("asset_probe_failed", "asset", asset.Hex(), "err", err)
		return Fungible
	}

	kind = Fungible
	if unique {
		kind = Unique
	}
	r.mu.Lock()
	r.kinds[asset] = kind
	r.mu.Unlock()
	return kind
}

// IsUniqueToken is Kind(asset) == Unique.
func (r *Resolver) IsUniqueToken(ctx context.Context, asset common.Address) bool {
	return r.Kind(ctx, asset) == Unique
}

// Forget drops a cached verdict.
func (r *Resolver) Forget(asset common.Address) {
	r.mu.Lock()
	delete(r.kinds, asset)
	r.mu.Unlock()
}
