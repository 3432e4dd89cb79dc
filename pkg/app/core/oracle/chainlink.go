package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// aggregatorV3ABI is the read-only subset of Chainlink's AggregatorV3Interface.
const aggregatorV3ABI = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}
  ],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(aggregatorV3ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid aggregator abi: %v", err))
	}
	return parsed
}

// ContractCaller is the slice of ethclient.Client used for read-only calls.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var (
	// MaxConsecutiveFailures trips a feed's breaker.
	MaxConsecutiveFailures uint32 = 5
	// BreakerOpenTimeout is how long a tripped breaker rejects calls.
	BreakerOpenTimeout = 30 * time.Second
)

type ChainlinkOptions struct {
	// CallTimeout bounds each eth_call. Zero means no extra bound beyond the
	// caller's context.
	CallTimeout time.Duration
	// MaxAge rejects answers older than this. Zero disables the check.
	MaxAge time.Duration
	Logger *zap.SugaredLogger
}

// ChainlinkFactory builds AggregatorV3 feeds that share one RPC client.
type ChainlinkFactory struct {
	caller ContractCaller
	opts   ChainlinkOptions
	now    func() time.Time
}

func NewChainlinkFactory(caller ContractCaller, opts ChainlinkOptions) *ChainlinkFactory {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &ChainlinkFactory{caller: caller, opts: opts, now: time.Now}
}

// Feed implements FeedFactory.
func (f *ChainlinkFactory) Feed(handle common.Address) (Feed, error) {
	log := f.opts.Logger
	return &ChainlinkFeed{
		factory: f,
		handle:  handle,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "oracle:" + handle.Hex(),
			Timeout: BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= MaxConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnw("oracle_breaker_state", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}, nil
}

// ChainlinkFeed reads one on-chain aggregator.
type ChainlinkFeed struct {
	factory *ChainlinkFactory
	handle  common.Address
	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	decimals *uint8
}

// LatestPrice calls latestRoundData (and decimals on first use).
func (f *ChainlinkFeed) LatestPrice(ctx context.Context) (Price, error) {
	if d := f.factory.opts.CallTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	res, err := f.breaker.Execute(func() (interface{}, error) {
		decimals, err := f.loadDecimals(ctx)
		if err != nil {
			return nil, err
		}
		price, err := f.latestRound(ctx)
		if err != nil {
			return nil, err
		}
		price.Decimals = decimals
		return price, nil
	})
	if err != nil {
		return Price{}, err
	}

	price := res.(Price)
	if maxAge := f.factory.opts.MaxAge; maxAge > 0 && f.factory.now().Sub(price.UpdatedAt) > maxAge {
		return Price{}, fmt.Errorf("%w: updated %s", ErrStalePrice, price.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return price, nil
}

func (f *ChainlinkFeed) loadDecimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}

	out, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	f.decimals = &d
	return d, nil
}

func (f *ChainlinkFeed) latestRound(ctx context.Context) (Price, error) {
	out, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return Price{}, err
	}
	if len(out) != 5 {
		return Price{}, fmt.Errorf("latestRoundData returned %d values", len(out))
	}
	roundID, ok1 := out[0].(*big.Int)
	answer, ok2 := out[1].(*big.Int)
	updatedAt, ok3 := out[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return Price{}, fmt.Errorf("unexpected latestRoundData types")
	}
	return Price{
		Answer:    answer,
		RoundID:   roundID,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0),
	}, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	input, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	handle := f.handle
	data, err := f.factory.caller.CallContract(ctx, ethereum.CallMsg{To: &handle, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, handle.Hex(), err)
	}
	out, err := aggregatorABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}
