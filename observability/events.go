package observability

import (
	"math/big"

	"openlend/lending"
	"openlend/observability/metrics"
)

// Collector feeds engine events into the Prometheus registry. It sits on the
// engine's emitter fan-out next to the journal, so every committed operation
// is counted exactly once.
type Collector struct {
	lending *metrics.LendingMetrics
}

var _ lending.Emitter = (*Collector)(nil)

// NewCollector returns a collector bound to the process-wide registry.
func NewCollector() *Collector {
	return &Collector{lending: metrics.Lending()}
}

// Emit satisfies the engine emitter contract.
func (c *Collector) Emit(event lending.Event) {
	if c == nil || event == nil {
		return
	}
	switch evt := event.(type) {
	case lending.Deposited:
		c.lending.ObserveOperation("deposit", evt.Asset)
	case lending.Borrowed:
		c.lending.ObserveOperation("borrow", evt.Asset)
	case lending.Repaid:
		c.lending.ObserveOperation("repay", evt.Asset)
	case lending.Withdrawn:
		c.lending.ObserveOperation("withdraw", evt.Asset)
	case lending.Liquidated:
		c.lending.ObserveOperation("liquidate", evt.DebtAsset)
		c.lending.ObserveLiquidation(evt.DebtAsset, evt.CollateralAsset)
	case lending.InterestAccrued:
		c.lending.AddInterest(evt.Asset, bigFloat(evt.Interest))
	case lending.MarketCreated:
		c.lending.ObserveOperation("create_market", evt.Asset)
		c.lending.InitAsset(evt.Asset)
	case lending.MarketStatus:
		c.lending.ObserveOperation("set_market_active", evt.Asset)
	}
}

// SyncMarkets refreshes the pool level gauges from the current market set.
// The node calls this after checkpoints so the gauges track committed state.
func (c *Collector) SyncMarkets(markets []*lending.Market) {
	if c == nil {
		return
	}
	active := 0
	for _, market := range markets {
		if market == nil {
			continue
		}
		if market.Active {
			active++
		}
		c.lending.SetMarketTotals(market.Asset, bigFloat(market.TotalDeposited), bigFloat(market.TotalBorrowed))
	}
	c.lending.SetActiveMarkets(active)
}

func bigFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
