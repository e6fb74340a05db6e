package lending

import "math/big"

// accrueMarket folds pooled simple interest into the market when time has
// passed since the last application. Interest is credited to both the
// borrowed and deposited totals so available liquidity is unchanged and
// totalBorrowed never exceeds totalDeposited through accrual alone. The
// returned flag reports whether the record was mutated at all; the timestamp
// advances whenever elapsed time is positive even if no interest was due.
func accrueMarket(market *Market, now int64) (*big.Int, bool) {
	interest := big.NewInt(0)
	if market == nil {
		return interest, false
	}
	elapsed := now - market.LastAccrualTime
	if elapsed <= 0 {
		return interest, false
	}
	if market.TotalBorrowed != nil && market.TotalBorrowed.Sign() > 0 {
		interest = simpleInterest(market.TotalBorrowed, market.BorrowRateBps, elapsed)
	}
	if interest.Sign() > 0 {
		market.TotalBorrowed = new(big.Int).Add(market.TotalBorrowed, interest)
		market.TotalDeposited = new(big.Int).Add(market.TotalDeposited, interest)
	}
	market.LastAccrualTime = now
	return interest, true
}

// settledInterest estimates the interest owed on the account's own borrowed
// quantity since its last settlement, at the market's current borrow rate. It
// never mutates and is consulted only when sizing a repayment; it is not
// reconciled against the pooled accrual.
func settledInterest(rec *AccountRecord, market *Market, now int64) *big.Int {
	if rec == nil || market == nil {
		return big.NewInt(0)
	}
	if rec.Borrowed == nil || rec.Borrowed.Sign() == 0 {
		return big.NewInt(0)
	}
	return simpleInterest(rec.Borrowed, market.BorrowRateBps, now-rec.LastInterestTime)
}
