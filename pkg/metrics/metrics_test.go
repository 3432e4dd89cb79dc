package metrics

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestExchangeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewExchangeMetrics(reg)

	m.ObserveOperation("fulfill", "ok")
	m.ObserveOperation("fulfill", "ok")
	m.ObserveOperation("fulfill", "insufficient_fee")
	m.AddCollected(big.NewInt(1_500_000_000_000_000_000))
	m.SetTreasury(big.NewInt(2_000_000_000_000_000_000))
	m.SetLastOrderID(7)
	m.ObserveSettlement(10 * time.Millisecond)
	m.ObserveRequest("/api/v1/orders", "200")

	require.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("fulfill", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("fulfill", "insufficient_fee")))
	require.Equal(t, 1.5, testutil.ToFloat64(m.fees))
	require.Equal(t, 2.0, testutil.ToFloat64(m.treasury))
	require.Equal(t, 7.0, testutil.ToFloat64(m.orders))
	require.Equal(t, 1, testutil.CollectAndCount(m.settlement))
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *ExchangeMetrics
	m.ObserveOperation("list", "ok")
	m.AddCollected(big.NewInt(1))
	m.SetTreasury(big.NewInt(1))
	m.SetLastOrderID(1)
	m.ObserveSettlement(time.Second)
	m.ObserveRequest("/", "200")
}
