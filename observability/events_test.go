package observability

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"openlend/lending"
)

func metricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	value, ok := findMetric(t, name, labels)
	if !ok {
		t.Fatalf("metric %s%v not found", name, labels)
	}
	return value
}

func findMetric(t *testing.T, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !labelsMatch(metric, labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue(), true
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue(), true
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount()), true
			}
		}
	}
	return 0, false
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	found := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		found[pair.GetName()] = pair.GetValue()
	}
	if len(found) != len(labels) {
		return false
	}
	for name, value := range labels {
		if found[name] != value {
			return false
		}
	}
	return true
}

func TestCollectorCountsOperations(t *testing.T) {
	collector := NewCollector()
	collector.Emit(lending.Deposited{Asset: "OLT", Amount: big.NewInt(100)})
	collector.Emit(lending.Borrowed{Asset: "OUSD", Amount: big.NewInt(40)})
	collector.Emit(lending.Repaid{Asset: "OUSD", Amount: big.NewInt(15)})
	collector.Emit(lending.Withdrawn{Asset: "OLT", Amount: big.NewInt(25)})
	collector.Emit(lending.MarketStatus{Asset: "OLT", Active: false})

	cases := map[string]string{
		"deposit":           "OLT",
		"borrow":            "OUSD",
		"repay":             "OUSD",
		"withdraw":          "OLT",
		"set_market_active": "OLT",
	}
	for operation, asset := range cases {
		labels := map[string]string{"operation": operation, "asset": asset}
		if got := metricValue(t, "lending_operations_total", labels); got != 1 {
			t.Fatalf("%s count = %v, want 1", operation, got)
		}
	}
}

func TestCollectorTracksLiquidationsAndInterest(t *testing.T) {
	collector := NewCollector()
	collector.Emit(lending.Liquidated{
		DebtAsset:       "OGLD",
		CollateralAsset: "OSLV",
		Repaid:          big.NewInt(70),
		Seized:          big.NewInt(75),
	})
	collector.Emit(lending.InterestAccrued{Asset: "OGLD", Interest: big.NewInt(37), Timestamp: 1_700_000_000})
	collector.Emit(lending.InterestAccrued{Asset: "OGLD", Timestamp: 1_700_000_100})

	liquidations := metricValue(t, "lending_liquidations_total", map[string]string{
		"debt_asset":       "OGLD",
		"collateral_asset": "OSLV",
	})
	if liquidations != 1 {
		t.Fatalf("liquidation count = %v, want 1", liquidations)
	}
	operations := metricValue(t, "lending_operations_total", map[string]string{
		"operation": "liquidate",
		"asset":     "OGLD",
	})
	if operations != 1 {
		t.Fatalf("liquidate operation count = %v, want 1", operations)
	}
	interest := metricValue(t, "lending_interest_accrued_total", map[string]string{"asset": "OGLD"})
	if interest != 37 {
		t.Fatalf("interest total = %v, want 37", interest)
	}
}

func TestCollectorSyncMarkets(t *testing.T) {
	collector := NewCollector()
	collector.Emit(lending.MarketCreated{Asset: "ODOT", CollateralFactorBps: 7_000, BorrowRateBps: 500})
	if _, ok := findMetric(t, "lending_interest_accrued_total", map[string]string{"asset": "ODOT"}); !ok {
		t.Fatal("expected interest series primed on market creation")
	}

	collector.SyncMarkets([]*lending.Market{
		{Asset: "ODOT", TotalDeposited: big.NewInt(1_500), TotalBorrowed: big.NewInt(400), Active: true},
		{Asset: "OKSM", Active: false},
		nil,
	})

	if got := metricValue(t, "lending_market_deposited", map[string]string{"asset": "ODOT"}); got != 1_500 {
		t.Fatalf("deposited gauge = %v, want 1500", got)
	}
	if got := metricValue(t, "lending_market_borrowed", map[string]string{"asset": "ODOT"}); got != 400 {
		t.Fatalf("borrowed gauge = %v, want 400", got)
	}
	if got := metricValue(t, "lending_market_deposited", map[string]string{"asset": "OKSM"}); got != 0 {
		t.Fatalf("inactive deposited gauge = %v, want 0", got)
	}
	if got := metricValue(t, "lending_active_markets", nil); got != 1 {
		t.Fatalf("active markets = %v, want 1", got)
	}
}

func TestCollectorNilSafety(t *testing.T) {
	var collector *Collector
	collector.Emit(lending.Deposited{Asset: "OLT"})
	collector.SyncMarkets(nil)

	NewCollector().Emit(nil)
}
