// Package exchange is the barter exchange state machine: order lifecycle,
// oracle-priced settlement, fee treasury and price feed administration.
//
// State-changing operations run one at a time. Each builds a single storage
// batch holding every record it touches (order, treasury, ledger entries, log
// event); in-memory state is updated only after that batch commits, so a
// failed operation leaves nothing behind.
package exchange

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/order"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/treasury"
	"github.com/uhyunpark/hyperbarter/pkg/metrics"
	"github.com/uhyunpark/hyperbarter/pkg/storage"
	"github.com/uhyunpark/hyperbarter/pkg/util"
)

// Config is fixed at construction. Owner is the only admin identity.
type Config struct {
	// Owner may register price feeds and withdraw fees.
	Owner common.Address
	// Address is the exchange's own account, the operator that moves assets.
	Address common.Address
	// FeeRate is the share of the priced leg charged as fee; zero is free.
	FeeRate  decimal.Decimal
	PageSize int
}

// Deps are the collaborators of an Exchange. Only Store and Ledger are
// required.
type Deps struct {
	Store   *storage.Store
	Ledger  *ledger.Ledger
	Feeds   oracle.FeedFactory // default: an empty StaticBook
	Prober  asset.Prober       // default: Ledger
	Clock   util.Clock         // default: RealClock
	Metrics *metrics.ExchangeMetrics
	Logger  *zap.SugaredLogger
}

// Exchange runs the order lifecycle, settlement and admin operations
// against one store. State-changing calls are serialized.
type Exchange struct {
	cfg Config

	db       *storage.Store
	ledger   *ledger.Ledger
	orders   *order.Store
	treasury *treasury.Treasury
	feeds    *oracle.Registry
	resolver *asset.Resolver
	engine   *settlement.Engine

	clock   util.Clock
	metrics *metrics.ExchangeMetrics
	log     *zap.SugaredLogger

	mu       sync.Mutex // serializes state-changing operations
	eventSeq uint64

	lmu       sync.RWMutex
	listeners []Listener
}

// New restores an exchange from its store.
func New(cfg Config, deps Deps) (*Exchange, error) {
	if deps.Store == nil || deps.Ledger == nil {
		return nil, errors.New("exchange needs a store and a ledger")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = order.DefaultPageSize
	}
	if deps.Feeds == nil {
		deps.Feeds = oracle.NewStaticBook()
	}
	if deps.Prober == nil {
		deps.Prober = deps.Ledger
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	log := deps.Logger

	fees, err := settlement.NewFeeSchedule(cfg.FeeRate)
	if err != nil {
		return nil, err
	}

	orders, err := order.Open(deps.Store, log)
	if err != nil {
		return nil, err
	}
	tr, err := treasury.Open(deps.Store)
	if err != nil {
		return nil, err
	}

	e := &Exchange{
		cfg:      cfg,
		db:       deps.Store,
		ledger:   deps.Ledger,
		orders:   orders,
		treasury: tr,
		feeds:    oracle.NewRegistry(deps.Feeds),
		resolver: asset.NewResolver(deps.Prober, log),
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		log:      log,
	}
	e.engine = settlement.NewEngine(e.feeds, e.resolver, fees, cfg.Address, log)

	if err := e.loadFeeds(); err != nil {
		return nil, err
	}
	if err := e.loadEventSeq(); err != nil {
		return nil, err
	}

	e.metrics.SetTreasury(tr.Balance())
	e.metrics.SetLastOrderID(orders.LastID())

	log.Infow("exchange_ready",
		"owner", cfg.Owner.Hex(),
		"address", cfg.Address.Hex(),
		"fee_rate", cfg.FeeRate.String(),
		"page_size", cfg.PageSize,
		"orders", orders.LastID(),
		"feeds", e.feeds.Count(),
		"treasury_wei", tr.Balance().String(),
	)
	return e, nil
}

func (e *Exchange) loadFeeds() error {
	return e.db.Scan(storage.FeedPrefix(), func(key, value []byte) error {
		a := common.HexToAddress(string(key[len(storage.FeedPrefix()):]))
		handle := common.HexToAddress(string(value))
		if err := e.feeds.Register(a, handle); err != nil {
			return fmt.Errorf("failed to restore feed for %s: %w", a.Hex(), err)
		}
		return nil
	})
}

func (e *Exchange) loadEventSeq() error {
	raw, ok, err := e.db.Get(storage.EventSeqKey())
	if err != nil {
		return fmt.Errorf("failed to load event counter: %w", err)
	}
	if !ok {
		return nil
	}
	e.eventSeq, err = strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse event counter %q: %w", raw, err)
	}
	return nil
}

func (e *Exchange) Owner() common.Address   { return e.cfg.Owner }
func (e *Exchange) Address() common.Address { return e.cfg.Address }
func (e *Exchange) PageSize() int           { return e.cfg.PageSize }
func (e *Exchange) FeeRate() decimal.Decimal {
	return e.cfg.FeeRate
}

// Ledger exposes the asset ledger for balance queries and approvals
func (e *Exchange) Ledger() *ledger.Ledger { return e.ledger }

// Resolver exposes the asset kind cache
func (e *Exchange) Resolver() *asset.Resolver { return e.resolver }

// commit writes b and, on success, runs apply. The event is returned with
// its final sequence.
func (e *Exchange) commit(b *storage.Batch, ev Event, apply func()) (Event, error) {
	ev, err := e.stageEvent(b, ev)
	if err != nil {
		return Event{}, err
	}
	if err := b.Commit(); err != nil {
		return Event{}, err
	}
	e.eventSeq = ev.Seq
	apply()
	return ev, nil
}

// observe records the outcome of op for metrics
func (e *Exchange) observe(op string, err error) {
	e.metrics.ObserveOperation(op, ResultLabel(err))
}

// ResultLabel names the sentinel behind err for metrics and logs
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrInvalidAsset):
		return "invalid_asset"
	case errors.Is(err, core.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, core.ErrAlreadyFulfilled):
		return "already_fulfilled"
	case errors.Is(err, core.ErrExpired):
		return "expired"
	case errors.Is(err, core.ErrUnknownPriceFeed):
		return "unknown_price_feed"
	case errors.Is(err, core.ErrInsufficientFee):
		return "insufficient_fee"
	case errors.Is(err, core.ErrTransferUnauthorized):
		return "transfer_unauthorized"
	case errors.Is(err, core.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, core.ErrInvalidFeedAddress):
		return "invalid_feed_address"
	case errors.Is(err, core.ErrNothingToWithdraw):
		return "nothing_to_withdraw"
	case errors.Is(err, core.ErrInvalidPage):
		return "invalid_page"
	default:
		return "error"
	}
}
