package exchange

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/order"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperbarter/pkg/storage"
	"github.com/uhyunpark/hyperbarter/pkg/util"
)

// Mainnet addresses, used as opaque fixtures.
var (
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	high  = common.HexToAddress("0x71Ab77b7dbB4fa7e017BC15090b2163221420282")
	bayc  = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
	azuki = common.HexToAddress("0xED5AF388653567Af2F388E6224dC7C4b3241C544")

	highFeed  = common.HexToAddress("0x5C8D8AaB4ffa4652753Df94f299330Bb4479bF85")
	azukiFeed = common.HexToAddress("0xA8B9A447C73191744D5B79BcE864F343455E1150")

	owner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	address = common.HexToAddress("0x000000000000000000000000000000000000ba27")
	seller  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	buyer   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	mallory = common.HexToAddress("0x000000000000000000000000000000000000bad0")
)

var start = time.Unix(1_700_000_000, 0)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), settlement.WeiPerEther)
}

type fixture struct {
	ex     *Exchange
	db     *storage.Store
	ledger *ledger.Ledger
	book   *oracle.StaticBook
	clock  *util.ManualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l, err := ledger.Open(db, nil)
	require.NoError(t, err)

	book := oracle.NewStaticBook()
	book.SetPrice(highFeed, big.NewInt(150_000_000), 8)                 // 1.5
	book.SetPrice(azukiFeed, big.NewInt(5_000_000_000_000_000_000), 18) // 5

	f := &fixture{db: db, ledger: l, book: book, clock: util.NewManualClock(start)}
	f.ex = f.open(t)

	ctx := context.Background()
	require.NoError(t, f.ex.RegisterPriceFeed(ctx, owner, high, highFeed))
	require.NoError(t, f.ex.RegisterPriceFeed(ctx, owner, azuki, azukiFeed))

	f.update(t, func(tx *ledger.Tx) error {
		for _, err := range []error{
			tx.Credit(buyer, ether(20)),
			tx.MintFungible(usdc, seller, big.NewInt(100)),
			tx.MintFungible(high, buyer, big.NewInt(10)),
			tx.MintUnique(bayc, seller, big.NewInt(2464)),
			tx.MintUnique(azuki, buyer, big.NewInt(7737)),
		} {
			if err != nil {
				return err
			}
		}
		return nil
	})
	return f
}

func (f *fixture) open(t *testing.T) *Exchange {
	t.Helper()
	ex, err := New(Config{
		Owner:    owner,
		Address:  address,
		FeeRate:  settlement.DefaultFeeRate,
		PageSize: order.DefaultPageSize,
	}, Deps{
		Store:  f.db,
		Ledger: f.ledger,
		Feeds:  f.book,
		Clock:  f.clock,
	})
	require.NoError(t, err)
	return ex
}

func (f *fixture) update(t *testing.T, fn func(tx *ledger.Tx) error) {
	t.Helper()
	require.NoError(t, f.ledger.Update(fn))
}

func (f *fixture) approveERC20Legs(t *testing.T) {
	f.update(t, func(tx *ledger.Tx) error {
		if err := tx.Approve(usdc, seller, address, big.NewInt(100)); err != nil {
			return err
		}
		return tx.Approve(high, buyer, address, big.NewInt(10))
	})
}

func (f *fixture) listERC20(t *testing.T) uint64 {
	t.Helper()
	eid, err := f.ex.List(context.Background(), seller,
		asset.NewRef(usdc, big.NewInt(100)),
		asset.NewRef(high, big.NewInt(10)),
		f.clock.Now().Add(time.Hour).Unix(),
	)
	require.NoError(t, err)
	return eid
}

func (f *fixture) listERC721(t *testing.T) uint64 {
	t.Helper()
	eid, err := f.ex.List(context.Background(), seller,
		asset.NewRef(bayc, big.NewInt(2464)),
		asset.NewRef(azuki, big.NewInt(7737)),
		f.clock.Now().Add(time.Hour).Unix(),
	)
	require.NoError(t, err)
	return eid
}

// snapshot captures every balance a settlement could touch
type snapshot struct {
	buyerNative, treasury        string
	sellerUSDC, buyerUSDC        int64
	sellerHIGH, buyerHIGH        int64
	baycOwner, azukiOwner        common.Address
	allowanceUSDC, allowanceHIGH int64
}

func (f *fixture) snapshot() snapshot {
	baycOwner, _ := f.ledger.OwnerOf(bayc, big.NewInt(2464))
	azukiOwner, _ := f.ledger.OwnerOf(azuki, big.NewInt(7737))
	return snapshot{
		buyerNative:   f.ledger.NativeBalance(buyer).String(),
		treasury:      f.ex.TreasuryBalance().String(),
		sellerUSDC:    f.ledger.BalanceOf(usdc, seller).Int64(),
		buyerUSDC:     f.ledger.BalanceOf(usdc, buyer).Int64(),
		sellerHIGH:    f.ledger.BalanceOf(high, seller).Int64(),
		buyerHIGH:     f.ledger.BalanceOf(high, buyer).Int64(),
		baycOwner:     baycOwner,
		azukiOwner:    azukiOwner,
		allowanceUSDC: f.ledger.Allowance(usdc, seller, address).Int64(),
		allowanceHIGH: f.ledger.Allowance(high, buyer, address).Int64(),
	}
}

func TestListAndGetOrder(t *testing.T) {
	f := newFixture(t)
	eid := f.listERC20(t)
	require.Equal(t, uint64(1), eid)

	o := f.ex.GetOrder(1)
	require.Equal(t, seller, o.Seller)
	require.Equal(t, uint64(1), o.EID)
	require.False(t, o.Fulfilled)
	require.Equal(t, common.Address{}, o.Buyer)
	require.Equal(t, int64(100), o.ToSell.AmountOrTokenID.Int64())

	require.True(t, f.ex.GetOrder(2).IsZero())
	require.Equal(t, uint64(2), f.listERC721(t))
}

func TestListRejectsZeroAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deadline := start.Add(time.Hour).Unix()

	_, err := f.ex.List(ctx, seller, asset.NewRef(common.Address{}, big.NewInt(1)), asset.NewRef(high, big.NewInt(1)), deadline)
	require.ErrorIs(t, err, core.ErrInvalidAsset)
	_, err = f.ex.List(ctx, seller, asset.NewRef(usdc, big.NewInt(1)), asset.NewRef(common.Address{}, big.NewInt(1)), deadline)
	require.ErrorIs(t, err, core.ErrInvalidAsset)

	require.Equal(t, uint64(0), f.ex.LastOrderID())
	require.Equal(t, uint64(1), f.listERC20(t))
}

func TestListAcceptsPastDeadline(t *testing.T) {
	f := newFixture(t)
	eid, err := f.ex.List(context.Background(), seller,
		asset.NewRef(usdc, big.NewInt(1)), asset.NewRef(high, big.NewInt(1)), start.Add(-time.Hour).Unix())
	require.NoError(t, err)

	_, err = f.ex.Fulfill(context.Background(), buyer, eid, ether(11))
	require.ErrorIs(t, err, core.ErrExpired)
	require.NoError(t, f.ex.Cancel(context.Background(), seller, eid))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid := f.listERC20(t)

	err := f.ex.Cancel(ctx, buyer, eid)
	require.ErrorIs(t, err, core.ErrUnauthorized)
	require.Equal(t, seller, f.ex.GetOrder(eid).Seller)

	require.NoError(t, f.ex.Cancel(ctx, seller, eid))
	require.True(t, f.ex.GetOrder(eid).IsZero())
	require.Equal(t, order.Order{}, f.ex.GetOrder(eid))

	// a cancelled slot reads as seller zero: authorization fails again
	require.ErrorIs(t, f.ex.Cancel(ctx, seller, eid), core.ErrUnauthorized)
	require.ErrorIs(t, f.ex.Cancel(ctx, seller, 99), core.ErrUnauthorized)
	require.ErrorIs(t, f.ex.Cancel(ctx, common.Address{}, 99), core.ErrUnauthorized)

	// ids are not reused
	require.Equal(t, uint64(2), f.listERC20(t))
}

func TestFulfillERC20Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid := f.listERC20(t)
	f.approveERC20Legs(t)

	_, err := f.ex.Fulfill(ctx, buyer, eid, big.NewInt(1))
	require.ErrorIs(t, err, core.ErrInsufficientFee)
	require.False(t, f.ex.GetOrder(eid).Fulfilled)

	rc, err := f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.NoError(t, err)
	require.Equal(t, "150000000000000000", rc.Fee.String())

	o := f.ex.GetOrder(eid)
	require.True(t, o.Fulfilled)
	require.Equal(t, buyer, o.Buyer)
	require.Equal(t, int64(100), f.ledger.BalanceOf(usdc, buyer).Int64())
	require.Equal(t, int64(10), f.ledger.BalanceOf(high, seller).Int64())

	// excess over the fee is retained
	require.Equal(t, ether(11).String(), f.ex.TreasuryBalance().String())
	require.Equal(t, ether(9).String(), f.ledger.NativeBalance(buyer).String())

	// fulfilled is terminal
	_, err = f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.ErrorIs(t, err, core.ErrAlreadyFulfilled)
	require.ErrorIs(t, f.ex.Cancel(ctx, seller, eid), core.ErrAlreadyFulfilled)
	require.ErrorIs(t, f.ex.Cancel(ctx, buyer, eid), core.ErrUnauthorized)
}

func TestFeeThresholdIsExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid := f.listERC20(t)
	f.approveERC20Legs(t)

	q, err := f.ex.QuoteFee(ctx, eid)
	require.NoError(t, err)
	// floor(1.5 * 0.01 * 10) ether
	require.Equal(t, "150000000000000000", q.Fee.String())

	below := new(big.Int).Sub(q.Fee, big.NewInt(1))
	_, err = f.ex.Fulfill(ctx, buyer, eid, below)
	require.ErrorIs(t, err, core.ErrInsufficientFee)

	_, err = f.ex.Fulfill(ctx, buyer, eid, q.Fee)
	require.NoError(t, err)
	require.Equal(t, q.Fee.String(), f.ex.TreasuryBalance().String())
}

func TestFulfillExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approveERC20Legs(t)

	eid := f.listERC20(t)
	f.clock.Advance(time.Hour + time.Second)
	_, err := f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.ErrorIs(t, err, core.ErrExpired)
	require.False(t, f.ex.GetOrder(eid).Fulfilled)

	// the deadline itself is still fulfillable
	eid = f.listERC20(t)
	f.clock.Advance(time.Hour)
	_, err = f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.NoError(t, err)
}

func TestFulfillEmptySlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid := f.listERC20(t)
	require.NoError(t, f.ex.Cancel(ctx, seller, eid))

	_, err := f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.ErrorIs(t, err, core.ErrExpired)
	_, err = f.ex.Fulfill(ctx, buyer, 42, ether(11))
	require.ErrorIs(t, err, core.ErrExpired)
	require.True(t, f.ex.GetOrder(42).IsZero())
}

func TestFulfillUnknownPriceFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid, err := f.ex.List(ctx, seller, asset.NewRef(high, big.NewInt(1)), asset.NewRef(usdc, big.NewInt(1)), start.Add(time.Hour).Unix())
	require.NoError(t, err)

	_, err = f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.ErrorIs(t, err, core.ErrUnknownPriceFeed)
	_, err = f.ex.QuoteFee(ctx, eid)
	require.ErrorIs(t, err, core.ErrUnknownPriceFeed)
}

func TestSettlementAtomicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid := f.listERC20(t)

	// seller leg can move, buyer leg cannot
	f.update(t, func(tx *ledger.Tx) error {
		return tx.Approve(usdc, seller, address, big.NewInt(100))
	})

	before := f.snapshot()
	_, err := f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.ErrorIs(t, err, core.ErrTransferFailed)
	require.Equal(t, before, f.snapshot())
	require.False(t, f.ex.GetOrder(eid).Fulfilled)
	require.Equal(t, common.Address{}, f.ex.GetOrder(eid).Buyer)

	// nothing leaked into storage either
	reopened := f.open(t)
	require.False(t, reopened.GetOrder(eid).Fulfilled)
	require.Zero(t, reopened.TreasuryBalance().Sign())
}

func TestFulfillERC721Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid := f.listERC721(t)

	// buyer approved, seller did not approve the exchange
	f.update(t, func(tx *ledger.Tx) error {
		return tx.ApproveToken(azuki, buyer, address, big.NewInt(7737))
	})
	before := f.snapshot()
	_, err := f.ex.Fulfill(ctx, buyer, eid, ether(1))
	require.ErrorIs(t, err, core.ErrTransferUnauthorized)
	require.False(t, f.ex.GetOrder(eid).Fulfilled)
	require.Equal(t, before, f.snapshot())

	f.update(t, func(tx *ledger.Tx) error {
		return tx.SetApprovalForAll(bayc, seller, address, true)
	})
	_, err = f.ex.Fulfill(ctx, buyer, eid, ether(1))
	require.NoError(t, err)

	require.True(t, f.ex.GetOrder(eid).Fulfilled)
	baycOwner, _ := f.ledger.OwnerOf(bayc, big.NewInt(2464))
	azukiOwner, _ := f.ledger.OwnerOf(azuki, big.NewInt(7737))
	require.Equal(t, buyer, baycOwner)
	require.Equal(t, seller, azukiOwner)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ex.Withdraw(ctx, mallory)
	require.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = f.ex.Withdraw(ctx, owner)
	require.ErrorIs(t, err, core.ErrNothingToWithdraw)

	eid := f.listERC20(t)
	f.approveERC20Legs(t)
	_, err = f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.NoError(t, err)

	_, err = f.ex.Withdraw(ctx, mallory)
	require.ErrorIs(t, err, core.ErrUnauthorized)
	require.Equal(t, ether(11).String(), f.ex.TreasuryBalance().String())

	ownerBefore := f.ledger.NativeBalance(owner)
	amount, err := f.ex.Withdraw(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, ether(11).String(), amount.String())
	require.Zero(t, f.ex.TreasuryBalance().Sign())
	require.Equal(t, new(big.Int).Add(ownerBefore, ether(11)).String(), f.ledger.NativeBalance(owner).String())

	_, err = f.ex.Withdraw(ctx, owner)
	require.ErrorIs(t, err, core.ErrNothingToWithdraw)
}

func TestRegisterPriceFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.ex.RegisterPriceFeed(ctx, mallory, usdc, highFeed)
	require.ErrorIs(t, err, core.ErrUnauthorized)
	err = f.ex.RegisterPriceFeed(ctx, owner, usdc, common.Address{})
	require.ErrorIs(t, err, core.ErrInvalidFeedAddress)

	_, err = f.ex.LatestPrice(ctx, usdc)
	require.ErrorIs(t, err, core.ErrUnknownPriceFeed)

	usdcFeed := common.HexToAddress("0x986b5E1e1755e3C2440e960477f25201B0a8bbD4")
	f.book.SetPrice(usdcFeed, big.NewInt(250_000_000_000_000), 18)
	require.NoError(t, f.ex.RegisterPriceFeed(ctx, owner, usdc, usdcFeed))

	p, err := f.ex.LatestPrice(ctx, usdc)
	require.NoError(t, err)
	require.Equal(t, "0.00025", p.Value().String())

	handle, ok := f.ex.PriceFeed(usdc)
	require.True(t, ok)
	require.Equal(t, usdcFeed, handle)
	require.Len(t, f.ex.PriceFeeds(), 3)
}

func TestListOrdersPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approveERC20Legs(t)

	for i := 0; i < 30; i++ {
		f.listERC20(t)
	}
	require.NoError(t, f.ex.Cancel(ctx, seller, 3))
	_, err := f.ex.Fulfill(ctx, buyer, 26, ether(1))
	require.NoError(t, err)

	page1, err := f.ex.ListOrders(1)
	require.NoError(t, err)
	require.Len(t, page1, 25)
	require.Equal(t, uint64(1), page1[0].EID)
	require.True(t, page1[2].IsZero(), "cancelled slot stays in the page")

	page2, err := f.ex.ListOrders(2)
	require.NoError(t, err)
	require.Len(t, page2, 25)
	require.Equal(t, uint64(26), page2[0].EID)
	require.True(t, page2[0].Fulfilled, "fulfilled orders are listed")
	require.True(t, page2[5].IsZero(), "slots past the last id are empty")

	_, err = f.ex.ListOrders(0)
	require.ErrorIs(t, err, core.ErrInvalidPage)

	require.Len(t, f.ex.OpenOrders(), 28)
	f.clock.Advance(2 * time.Hour)
	require.Empty(t, f.ex.OpenOrders())
}

func TestReloadRestoresState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid := f.listERC20(t)
	f.approveERC20Legs(t)
	_, err := f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.NoError(t, err)
	f.listERC721(t)
	require.NoError(t, f.ex.Cancel(ctx, seller, 2))

	l, err := ledger.Open(f.db, nil)
	require.NoError(t, err)
	f.ledger = l
	ex := f.open(t)

	require.True(t, ex.GetOrder(1).Fulfilled)
	require.Equal(t, buyer, ex.GetOrder(1).Buyer)
	require.True(t, ex.GetOrder(2).IsZero())
	require.Equal(t, ether(11).String(), ex.TreasuryBalance().String())
	require.Len(t, ex.PriceFeeds(), 2)
	require.Equal(t, int64(100), l.BalanceOf(usdc, buyer).Int64())

	p, err := ex.LatestPrice(ctx, high)
	require.NoError(t, err)
	require.Equal(t, "1.5", p.Value().String())

	eid, err = ex.List(ctx, seller, asset.NewRef(usdc, big.NewInt(1)), asset.NewRef(high, big.NewInt(1)), start.Add(time.Hour).Unix())
	require.NoError(t, err)
	require.Equal(t, uint64(3), eid)

	events, err := ex.RecentEvents(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventOrderCreated, events[0].Type)
	// 2 feeds, created, fulfilled, created, cancelled, created
	require.Equal(t, uint64(7), events[0].Seq)
}

func TestEventsAndListeners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var got []Event
	f.ex.Subscribe(func(ev Event) { got = append(got, ev) })

	eid := f.listERC20(t)
	f.approveERC20Legs(t)
	_, err := f.ex.Fulfill(ctx, buyer, eid, big.NewInt(1))
	require.Error(t, err)
	_, err = f.ex.Fulfill(ctx, buyer, eid, ether(11))
	require.NoError(t, err)
	_, err = f.ex.Withdraw(ctx, owner)
	require.NoError(t, err)

	require.Len(t, got, 3, "rejected operations emit nothing")
	require.Equal(t, EventOrderCreated, got[0].Type)
	require.Equal(t, seller, *got[0].Seller)
	require.Equal(t, usdc, got[0].ToSell.Asset)
	require.Equal(t, EventOrderFulfilled, got[1].Type)
	require.Equal(t, buyer, *got[1].Buyer)
	require.Equal(t, ether(11).String(), got[1].Payment.String())
	require.Equal(t, EventFeesWithdrawn, got[2].Type)
	require.Equal(t, ether(11).String(), got[2].Amount.String())
	require.NotEmpty(t, got[0].ID)
	require.Less(t, got[0].Seq, got[1].Seq)

	events, err := f.ex.OrderEvents(eid)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, got[0].ID, events[0].ID)
	require.Equal(t, got[1].ID, events[1].ID)
}

func TestResultLabel(t *testing.T) {
	require.Equal(t, "ok", ResultLabel(nil))
	_, err := newFixture(t).ex.Withdraw(context.Background(), owner)
	require.Equal(t, "nothing_to_withdraw", ResultLabel(err))
}
