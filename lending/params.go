package lending

import "fmt"

// Default risk limits applied when the operator configuration does not
// override them.
const (
	DefaultLiquidationThresholdBps = 8_000
	DefaultLiquidationBonusBps     = 500
	DefaultMinHealthFactorBps      = 10_000
)

// RiskParameters groups the protocol-wide safety limits governing borrowing
// capacity and liquidation.
type RiskParameters struct {
	// LiquidationThresholdBps scales collateral value into borrowing power,
	// expressed in basis points.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the premium awarded to liquidators on top of the
	// repaid debt value, expressed in basis points.
	LiquidationBonusBps uint64
	// MinHealthFactorBps is the health factor below which a position becomes
	// liquidatable. 10_000 represents 100%.
	MinHealthFactorBps uint64
}

// DefaultRiskParameters returns the limits used when none are configured.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		LiquidationThresholdBps: DefaultLiquidationThresholdBps,
		LiquidationBonusBps:     DefaultLiquidationBonusBps,
		MinHealthFactorBps:      DefaultMinHealthFactorBps,
	}
}

// Validate rejects parameter combinations the risk engine cannot operate with.
func (p RiskParameters) Validate() error {
	if p.LiquidationThresholdBps == 0 || p.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("lending: liquidation threshold must be within (0, 10000] basis points, got %d", p.LiquidationThresholdBps)
	}
	if p.LiquidationBonusBps > 10_000 {
		return fmt.Errorf("lending: liquidation bonus must not exceed 10000 basis points, got %d", p.LiquidationBonusBps)
	}
	if p.MinHealthFactorBps == 0 {
		return fmt.Errorf("lending: minimum health factor must be positive")
	}
	return nil
}

// MarketParams describes the onboarding inputs for a new market.
type MarketParams struct {
	// CollateralFactorBps is recorded per market for reporting.
	CollateralFactorBps uint64
	// BorrowRateBps is the annualized simple-interest borrow rate.
	BorrowRateBps uint64
	// SupplyRateBps is the annualized rate advertised to suppliers.
	SupplyRateBps uint64
}

// Validate rejects market parameters outside protocol bounds.
func (p MarketParams) Validate() error {
	if p.CollateralFactorBps > 10_000 {
		return fmt.Errorf("lending: collateral factor must not exceed 10000 basis points, got %d", p.CollateralFactorBps)
	}
	return nil
}
