package oracle

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
)

var (
	usdc      = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	high      = common.HexToAddress("0x71ab77b7dbb4fa7e017bc15090b2163221420282")
	usdcEth   = common.HexToAddress("0x986b5E1e1755e3C2440e960477f25201B0a8bbD4")
	highUsd   = common.HexToAddress("0x5C8D8AaB4ffa4652753Df94f299330Bb4479bF85")
	usdtEth   = common.HexToAddress("0xEe9F2375b4bdF6387aa8265dD4FB8F16512A1d46")
	zeroAddr  = common.Address{}
	usdcPrice = big.NewInt(250_000_000_000_000) // 0.00025 ETH, 18 decimals
)

func TestRegistryRegisterAndPrice(t *testing.T) {
	book := NewStaticBook()
	book.SetPrice(usdcEth, usdcPrice, 18)
	r := NewRegistry(book)

	require.NoError(t, r.Register(usdc, usdcEth))

	price, err := r.LatestPrice(context.Background(), usdc)
	require.NoError(t, err)
	require.Equal(t, usdcPrice.String(), price.Answer.String())
	require.Equal(t, uint8(18), price.Decimals)
	require.Equal(t, "0.00025", price.Value().String())

	handle, ok := r.Handle(usdc)
	require.True(t, ok)
	require.Equal(t, usdcEth, handle)
	require.Equal(t, 1, r.Count())
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry(NewStaticBook())

	err := r.Register(usdc, zeroAddr)
	require.ErrorIs(t, err, core.ErrInvalidFeedAddress)
	require.Equal(t, 0, r.Count())

	_, err = r.LatestPrice(context.Background(), high)
	require.ErrorIs(t, err, core.ErrUnknownPriceFeed)

	// Registered but never answered
	require.NoError(t, r.Register(high, highUsd))
	_, err = r.LatestPrice(context.Background(), high)
	require.ErrorIs(t, err, ErrNoAnswer)
}

func TestRegistryReplacesFeed(t *testing.T) {
	book := NewStaticBook()
	book.SetPrice(usdcEth, usdcPrice, 18)
	book.SetPrice(usdtEth, big.NewInt(1), 0)
	r := NewRegistry(book)

	require.NoError(t, r.Register(usdc, usdcEth))
	require.NoError(t, r.Register(usdc, usdtEth))

	price, err := r.LatestPrice(context.Background(), usdc)
	require.NoError(t, err)
	require.Equal(t, int64(1), price.Answer.Int64())
	require.Equal(t, map[common.Address]common.Address{usdc: usdtEth}, r.Handles())
}

func TestRegistryRejectsNonPositiveAnswers(t *testing.T) {
	book := NewStaticBook()
	book.SetPrice(usdcEth, big.NewInt(0), 18)
	r := NewRegistry(book)
	require.NoError(t, r.Register(usdc, usdcEth))

	_, err := r.LatestPrice(context.Background(), usdc)
	require.ErrorIs(t, err, ErrInvalidAnswer)
}

func TestStaticBookRounds(t *testing.T) {
	book := NewStaticBook()
	book.SetPrice(usdcEth, big.NewInt(10), 8)
	book.SetPrice(usdcEth, big.NewInt(11), 8)

	feed, err := book.Feed(usdcEth)
	require.NoError(t, err)
	p, err := feed.LatestPrice(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), p.RoundID.Int64())
	require.Equal(t, int64(11), p.Answer.Int64())

	// Returned values are copies
	p.Answer.SetInt64(0)
	p2, _ := feed.LatestPrice(context.Background())
	require.Equal(t, int64(11), p2.Answer.Int64())
}

// fakeAggregator answers eth_calls the way an AggregatorV3 contract does.
type fakeAggregator struct {
	decimals  uint8
	answer    *big.Int
	updatedAt int64
	err       error
	calls     map[string]int
}

func (a *fakeAggregator) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	for name, m := range aggregatorABI.Methods {
		if !bytes.Equal(call.Data[:4], m.ID) {
			continue
		}
		a.calls[name]++
		switch name {
		case "decimals":
			return m.Outputs.Pack(a.decimals)
		case "latestRoundData":
			return m.Outputs.Pack(big.NewInt(7), a.answer, big.NewInt(a.updatedAt), big.NewInt(a.updatedAt), big.NewInt(7))
		}
	}
	return nil, errors.New("execution reverted")
}

func newFakeAggregator(answer int64, decimals uint8, updatedAt time.Time) *fakeAggregator {
	return &fakeAggregator{
		decimals:  decimals,
		answer:    big.NewInt(answer),
		updatedAt: updatedAt.Unix(),
		calls:     map[string]int{},
	}
}

func TestChainlinkFeed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := newFakeAggregator(100_000_000, 8, now) // 1.00000000 USD
	factory := NewChainlinkFactory(agg, ChainlinkOptions{CallTimeout: time.Second})
	factory.now = func() time.Time { return now }

	r := NewRegistry(factory)
	require.NoError(t, r.Register(high, highUsd))

	for i := 0; i < 3; i++ {
		price, err := r.LatestPrice(context.Background(), high)
		require.NoError(t, err)
		require.Equal(t, int64(100_000_000), price.Answer.Int64())
		require.Equal(t, uint8(8), price.Decimals)
		require.Equal(t, int64(7), price.RoundID.Int64())
		require.Equal(t, now.Unix(), price.UpdatedAt.Unix())
	}
	// decimals is immutable on-chain and read once
	require.Equal(t, 1, agg.calls["decimals"])
	require.Equal(t, 3, agg.calls["latestRoundData"])
}

func TestChainlinkFeedStale(t *testing.T) {
	updated := time.Unix(1_700_000_000, 0)
	agg := newFakeAggregator(1, 8, updated)
	factory := NewChainlinkFactory(agg, ChainlinkOptions{MaxAge: time.Hour})
	factory.now = func() time.Time { return updated.Add(2 * time.Hour) }

	feed, err := factory.Feed(highUsd)
	require.NoError(t, err)
	_, err = feed.LatestPrice(context.Background())
	require.ErrorIs(t, err, ErrStalePrice)
}

func TestChainlinkBreakerTrips(t *testing.T) {
	agg := newFakeAggregator(1, 8, time.Now())
	agg.err = errors.New("connection refused")
	feed, err := NewChainlinkFactory(agg, ChainlinkOptions{}).Feed(highUsd)
	require.NoError(t, err)

	for i := uint32(0); i < MaxConsecutiveFailures; i++ {
		_, err := feed.LatestPrice(context.Background())
		require.Error(t, err)
		require.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	_, err = feed.LatestPrice(context.Background())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}
