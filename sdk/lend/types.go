package lend

// Market mirrors the pooled market state reported by the node.
type Market struct {
	Asset               string `json:"asset"`
	TotalDeposited      string `json:"totalDeposited"`
	TotalBorrowed       string `json:"totalBorrowed"`
	CollateralFactorBps uint64 `json:"collateralFactorBps"`
	BorrowRateBps       uint64 `json:"borrowRateBps"`
	SupplyRateBps       uint64 `json:"supplyRateBps"`
	LastAccrualTime     int64  `json:"lastAccrualTime"`
	Active              bool   `json:"active"`
}

// Account is a user balance inside a single market.
type Account struct {
	User             string `json:"user"`
	Asset            string `json:"asset"`
	Deposited        string `json:"deposited"`
	Borrowed         string `json:"borrowed"`
	LastInterestTime int64  `json:"lastInterestTime"`
}

// Position augments an account with the interest view as of the node clock.
type Position struct {
	Account         Account `json:"account"`
	SettledInterest string  `json:"settledInterest"`
	Owed            string  `json:"owed"`
}

// RiskParameters reports the ledger wide liquidation configuration.
type RiskParameters struct {
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
	MinHealthFactorBps      uint64 `json:"minHealthFactorBps"`
}

// MarketList couples the onboarded markets with the risk configuration.
type MarketList struct {
	Markets        []Market       `json:"markets"`
	RiskParameters RiskParameters `json:"riskParameters"`
}

// RepayReceipt reports the effective amount settled by a repayment.
type RepayReceipt struct {
	Repaid   string   `json:"repaid"`
	Position Position `json:"position"`
}

// LiquidationReceipt reports the debt covered and collateral seized.
type LiquidationReceipt struct {
	Repaid string `json:"repaid"`
	Seized string `json:"seized"`
}

// HealthReport is the cross-market solvency view for a user. Infinite is set
// when the user carries no debt, in which case HealthFactorBps is empty.
type HealthReport struct {
	User            string `json:"user"`
	HealthFactorBps string `json:"healthFactorBps,omitempty"`
	Infinite        bool   `json:"infinite"`
	Liquidatable    bool   `json:"liquidatable"`
	CollateralValue string `json:"collateralValue"`
	BorrowValue     string `json:"borrowValue"`
	MaxBorrowValue  string `json:"maxBorrowValue"`
}

// AccrualReceipt reports pooled interest minted by a manual accrual.
type AccrualReceipt struct {
	Asset    string `json:"asset"`
	Interest string `json:"interest"`
}

// CheckpointReceipt identifies a persisted ledger snapshot.
type CheckpointReceipt struct {
	Digest    string `json:"digest"`
	Timestamp int64  `json:"timestamp"`
}

// FaucetReceipt reports the balance after a dev-mode mint.
type FaucetReceipt struct {
	User    string `json:"user"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// AmountParams addresses a user balance mutation. Amount is a base-10
// integer string; Repay treats an empty amount as repay-everything.
type AmountParams struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount,omitempty"`
}

type accountParams struct {
	User  string `json:"user"`
	Asset string `json:"asset"`
}

// LiquidationParams describes a liquidation bid against an unhealthy borrower.
type LiquidationParams struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Amount          string `json:"amount"`
}

// CreateMarketParams onboards a new asset market.
type CreateMarketParams struct {
	Asset               string `json:"asset"`
	CollateralFactorBps uint64 `json:"collateralFactorBps"`
	BorrowRateBps       uint64 `json:"borrowRateBps"`
	SupplyRateBps       uint64 `json:"supplyRateBps"`
}

type setMarketActiveParams struct {
	Asset  string `json:"asset"`
	Active bool   `json:"active"`
}
