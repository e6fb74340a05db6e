package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	operations      *prometheus.CounterVec
	interestAccrued *prometheus.CounterVec
	liquidations    *prometheus.CounterVec
	marketDeposits  *prometheus.GaugeVec
	marketBorrows   *prometheus.GaugeVec
	activeMarkets   prometheus.Gauge
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_total",
				Help: "Count of committed ledger operations by type and asset.",
			}, []string{"operation", "asset"}),
			interestAccrued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_interest_accrued_total",
				Help: "Cumulative pooled interest credited per asset.",
			}, []string{"asset"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_liquidations_total",
				Help: "Count of liquidations by debt and collateral asset.",
			}, []string{"debt_asset", "collateral_asset"}),
			marketDeposits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_deposited",
				Help: "Current pooled deposits per asset.",
			}, []string{"asset"}),
			marketBorrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_borrowed",
				Help: "Current pooled borrows per asset.",
			}, []string{"asset"}),
			activeMarkets: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lending_active_markets",
				Help: "Number of markets currently accepting user operations.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.interestAccrued,
			lendingRegistry.liquidations,
			lendingRegistry.marketDeposits,
			lendingRegistry.marketBorrows,
			lendingRegistry.activeMarkets,
		)
	})
	return lendingRegistry
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func (m *LendingMetrics) ObserveOperation(operation, asset string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(asset)).Inc()
}

func (m *LendingMetrics) AddInterest(asset string, amount float64) {
	if m == nil || amount < 0 {
		return
	}
	m.interestAccrued.WithLabelValues(normalizeLabel(asset)).Add(amount)
}

func (m *LendingMetrics) ObserveLiquidation(debtAsset, collateralAsset string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(normalizeLabel(debtAsset), normalizeLabel(collateralAsset)).Inc()
}

func (m *LendingMetrics) SetMarketTotals(asset string, deposited, borrowed float64) {
	if m == nil {
		return
	}
	label := normalizeLabel(asset)
	m.marketDeposits.WithLabelValues(label).Set(deposited)
	m.marketBorrows.WithLabelValues(label).Set(borrowed)
}

func (m *LendingMetrics) SetActiveMarkets(count int) {
	if m == nil {
		return
	}
	m.activeMarkets.Set(float64(count))
}

func (m *LendingMetrics) InitAsset(asset string) {
	if m == nil {
		return
	}
	label := normalizeLabel(asset)
	m.interestAccrued.WithLabelValues(label).Add(0)
	m.marketDeposits.WithLabelValues(label).Set(0)
	m.marketBorrows.WithLabelValues(label).Set(0)
}
