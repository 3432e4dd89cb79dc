package order

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbarter/pkg/app/core"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/storage"
)

var (
	seller = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	usdc   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	high   = common.HexToAddress("0x71Ab77b7dbB4fa7e017BC15090b2163221420282")
)

func testOrder(eid uint64) Order {
	return Order{
		EID:       eid,
		Seller:    seller,
		ToSell:    asset.NewRef(usdc, big.NewInt(100)),
		ToFulfill: asset.NewRef(high, big.NewInt(10)),
		Deadline:  1_700_000_000,
	}
}

func commit(t *testing.T, db *storage.Store, fn func(b *storage.Batch) error) {
	t.Helper()
	b := db.NewBatch()
	defer b.Close()
	require.NoError(t, fn(b))
	require.NoError(t, b.Commit())
}

func TestStorePutGetReload(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	s, err := Open(db, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.NextID())

	o := testOrder(s.NextID())
	commit(t, db, func(b *storage.Batch) error { return s.StagePut(b, o) })
	require.True(t, s.Get(1).IsZero(), "staged writes are not visible before apply")
	s.ApplyPut(o)

	got := s.Get(1)
	require.Equal(t, o, got)
	require.Equal(t, uint64(2), s.NextID())

	// returned orders are copies
	got.ToSell.AmountOrTokenID.SetInt64(1)
	require.Equal(t, int64(100), s.Get(1).ToSell.AmountOrTokenID.Int64())

	reloaded, err := Open(db, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), reloaded.LastID())
	require.Equal(t, o.ToFulfill.AmountOrTokenID.String(), reloaded.Get(1).ToFulfill.AmountOrTokenID.String())
	require.Equal(t, o.Seller, reloaded.Get(1).Seller)
}

func TestStoreDeleteKeepsCounter(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	s, err := Open(db, nil)
	require.NoError(t, err)

	for eid := uint64(1); eid <= 2; eid++ {
		o := testOrder(eid)
		commit(t, db, func(b *storage.Batch) error { return s.StagePut(b, o) })
		s.ApplyPut(o)
	}
	commit(t, db, func(b *storage.Batch) error { return s.StageDelete(b, 2) })
	s.ApplyDelete(2)

	require.True(t, s.Get(2).IsZero())
	require.Equal(t, uint64(3), s.NextID(), "ids are never reused")

	reloaded, err := Open(db, nil)
	require.NoError(t, err)
	require.True(t, reloaded.Get(2).IsZero())
	require.Equal(t, uint64(3), reloaded.NextID())
}

func TestStorePage(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	s, err := Open(db, nil)
	require.NoError(t, err)

	for eid := uint64(1); eid <= 30; eid++ {
		o := testOrder(eid)
		if eid == 26 {
			o.Fulfilled = true
		}
		s.ApplyPut(o)
	}
	s.ApplyDelete(3)

	page1, err := s.Page(1, DefaultPageSize)
	require.NoError(t, err)
	require.Len(t, page1, DefaultPageSize)
	require.Equal(t, uint64(1), page1[0].EID)
	require.True(t, page1[2].IsZero())
	require.Equal(t, uint64(25), page1[24].EID)

	page2, err := s.Page(2, DefaultPageSize)
	require.NoError(t, err)
	require.Len(t, page2, DefaultPageSize)
	require.Equal(t, uint64(26), page2[0].EID)
	require.True(t, page2[0].Fulfilled)
	require.Equal(t, uint64(30), page2[4].EID)
	require.True(t, page2[5].IsZero())

	page9, err := s.Page(9, DefaultPageSize)
	require.NoError(t, err)
	for _, o := range page9 {
		require.True(t, o.IsZero())
	}

	_, err = s.Page(0, DefaultPageSize)
	require.ErrorIs(t, err, core.ErrInvalidPage)

	active := s.Active()
	require.Len(t, active, 28)
}

func TestOrderStatus(t *testing.T) {
	o := testOrder(1)
	require.Equal(t, StatusActive, o.Status(o.Deadline))
	require.Equal(t, StatusExpired, o.Status(o.Deadline+1))
	o.Fulfilled = true
	require.Equal(t, StatusFulfilled, o.Status(o.Deadline+1))
	require.Equal(t, StatusCancelled, Order{}.Status(0))
}
