// Package metrics holds the Prometheus instruments of the exchange node.
package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// ExchangeMetrics captures operation outcomes, settlement latency and fee
// totals. A nil *ExchangeMetrics is valid and records nothing.
type ExchangeMetrics struct {
	operations *prometheus.CounterVec
	settlement prometheus.Histogram
	fees       prometheus.Counter
	treasury   prometheus.Gauge
	orders     prometheus.Gauge
	requests   *prometheus.CounterVec
}

// NewExchangeMetrics registers the instruments on reg, the default registerer
// when nil.
func NewExchangeMetrics(reg prometheus.Registerer) *ExchangeMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &ExchangeMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hyperbarter",
				Subsystem: "exchange",
				Name:      "operations_total",
				Help:      "Exchange operations by kind and result.",
			},
			[]string{"op", "result"},
		),
		settlement: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "hyperbarter",
				Subsystem: "exchange",
				Name:      "settlement_seconds",
				Help:      "Time spent pricing and settling a fulfillment.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		fees: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hyperbarter",
				Subsystem: "treasury",
				Name:      "collected_ether_total",
				Help:      "Native currency collected by settlements, in ether.",
			},
		),
		treasury: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hyperbarter",
				Subsystem: "treasury",
				Name:      "balance_ether",
				Help:      "Native currency held by the exchange, in ether.",
			},
		),
		orders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hyperbarter",
				Subsystem: "exchange",
				Name:      "last_order_id",
				Help:      "Highest order id assigned.",
			},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hyperbarter",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status code.",
			},
			[]string{"route", "code"},
		),
	}
	reg.MustRegister(m.operations, m.settlement, m.fees, m.treasury, m.orders, m.requests)
	return m
}

// ObserveOperation counts one exchange operation outcome
func (m *ExchangeMetrics) ObserveOperation(op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *ExchangeMetrics) ObserveSettlement(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.settlement.Observe(d.Seconds())
}

// AddCollected adds a settled payment in wei
func (m *ExchangeMetrics) AddCollected(wei *big.Int) {
	if m == nil || wei == nil || wei.Sign() <= 0 {
		return
	}
	m.fees.Add(toEther(wei))
}

// SetTreasury records the treasury balance in wei
func (m *ExchangeMetrics) SetTreasury(wei *big.Int) {
	if m == nil || wei == nil {
		return
	}
	m.treasury.Set(toEther(wei))
}

func (m *ExchangeMetrics) SetLastOrderID(eid uint64) {
	if m == nil {
		return
	}
	m.orders.Set(float64(eid))
}

// ObserveRequest counts one HTTP response
func (m *ExchangeMetrics) ObserveRequest(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}

func toEther(wei *big.Int) float64 {
	f, _ := decimal.NewFromBigInt(wei, -18).Float64()
	return f
}
