package p2p

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/asset"
	"github.com/uhyunpark/hyperbarter/pkg/app/core/exchange"
)

func TestEventWireRoundTrip(t *testing.T) {
	seller := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	sell := asset.NewRef(common.HexToAddress("0x01"), big.NewInt(100))
	ev := exchange.Event{ID: "e1", Seq: 3, Type: exchange.EventOrderCreated, EID: 9, Seller: &seller, ToSell: &sell}

	data, err := encodeEvent("peer-a", ev)
	require.NoError(t, err)

	w, got, err := decodeEvent(data)
	require.NoError(t, err)
	require.Equal(t, "peer-a", w.Origin)
	require.Equal(t, ev.Seq, got.Seq)
	require.Equal(t, ev.EID, got.EID)
	require.Equal(t, seller, *got.Seller)
	require.Equal(t, "100", got.ToSell.AmountOrTokenID.String())

	_, _, err = decodeEvent([]byte("garbage"))
	require.Error(t, err)
}

func TestGossipBetweenNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a, err := NewLibp2pNet(ctx, Libp2pConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)
	defer a.Close()

	b, err := NewLibp2pNet(ctx, Libp2pConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0", Bootstrap: a.Addrs()})
	require.NoError(t, err)
	defer b.Close()

	got := make(chan exchange.Event, 16)
	b.SetHandlers(Handlers{OnEvent: func(_ context.Context, from peer.ID, ev exchange.Event) {
		if from == a.Host().ID() {
			got <- ev
		}
	}})

	// the mesh forms asynchronously; republish until b hears it
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		a.Gossip(exchange.Event{Seq: 1, Type: exchange.EventOrderCancelled, EID: 5})
		select {
		case ev := <-got:
			require.Equal(t, exchange.EventOrderCancelled, ev.Type)
			require.Equal(t, uint64(5), ev.EID)
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("event not received")
		}
	}
}
