package lending

import (
	"math/big"
	"strings"

	"openlend/crypto"
)

// Market captures the pooled accounting state for one supported asset.
// Quantities are denominated in asset-native units and expressed as big
// integers to match ledger precision.
type Market struct {
	// Asset is the registry identifier for the underlying asset.
	Asset string
	// TotalDeposited is the aggregate quantity supplied by depositors plus
	// pooled interest credited on accrual.
	TotalDeposited *big.Int
	// TotalBorrowed tracks the outstanding borrowed quantity across all
	// accounts, including pooled accrued interest.
	TotalBorrowed *big.Int
	// CollateralFactorBps records the per-asset collateral factor in basis
	// points. It is reported but borrowing capacity is governed by the global
	// liquidation threshold.
	CollateralFactorBps uint64
	// BorrowRateBps is the annualized simple-interest borrow rate in basis
	// points.
	BorrowRateBps uint64
	// SupplyRateBps is the annualized rate advertised to suppliers.
	SupplyRateBps uint64
	// LastAccrualTime records the unix time pooled interest was last applied.
	LastAccrualTime int64
	// Active gates deposit, borrow, repay and withdraw. Inactive markets keep
	// their balances and remain liquidatable.
	Active bool
}

// Clone returns a deep copy of the market record.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	return &Market{
		Asset:               m.Asset,
		TotalDeposited:      cloneBig(m.TotalDeposited),
		TotalBorrowed:       cloneBig(m.TotalBorrowed),
		CollateralFactorBps: m.CollateralFactorBps,
		BorrowRateBps:       m.BorrowRateBps,
		SupplyRateBps:       m.SupplyRateBps,
		LastAccrualTime:     m.LastAccrualTime,
		Active:              m.Active,
	}
}

// AccountRecord maintains one user's position in one asset. Records are
// created implicitly on first use and never deleted, even when both balances
// return to zero.
type AccountRecord struct {
	// User identifies the account owner.
	User crypto.Address
	// Asset is the market identifier the balances refer to.
	Asset string
	// Deposited is the quantity supplied by the user.
	Deposited *big.Int
	// Borrowed is the outstanding principal borrowed by the user.
	Borrowed *big.Int
	// LastInterestTime is the unix time the account's own interest was last
	// settled.
	LastInterestTime int64
}

// Clone returns a deep copy of the account record.
func (r *AccountRecord) Clone() *AccountRecord {
	if r == nil {
		return nil
	}
	return &AccountRecord{
		User:             r.User,
		Asset:            r.Asset,
		Deposited:        cloneBig(r.Deposited),
		Borrowed:         cloneBig(r.Borrowed),
		LastInterestTime: r.LastInterestTime,
	}
}

// Position pairs an account record with its interest estimate for the read
// surface.
type Position struct {
	Account         *AccountRecord
	SettledInterest *big.Int
	Owed            *big.Int
}

// UserAggregate pairs a user with their cached value aggregates.
type UserAggregate struct {
	User       crypto.Address
	Collateral *big.Int
	Borrowed   *big.Int
}

// NormalizeAsset canonicalizes an asset identifier for registry lookups.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
