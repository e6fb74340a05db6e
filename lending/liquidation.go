package lending

import (
	"errors"
	"math/big"

	"openlend/crypto"
)

// Liquidate lets the liquidator repay part of an unhealthy borrower's debt
// and seize discounted collateral in return. It returns the repaid quantity
// and the seized collateral quantity. The repayment is collected first; if
// the collateral payout then fails the repayment is refunded so the
// liquidator is never out of pocket on a failed call.
func (e *Engine) Liquidate(liquidator, borrower crypto.Address, debtAsset, collateralAsset string, repayQty *big.Int) (*big.Int, *big.Int, error) {
	if err := e.requireCollaborators(); err != nil {
		return nil, nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, nil, err
	}
	defer release()

	if liquidator.Equal(borrower) {
		return nil, nil, ErrSelfLiquidation
	}
	if repayQty == nil || repayQty.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	debtMarket, err := e.state.Market(debtAsset)
	if err != nil {
		return nil, nil, err
	}
	collateralMarket, err := e.state.Market(collateralAsset)
	if err != nil {
		return nil, nil, err
	}
	sameMarket := debtMarket.Asset == collateralMarket.Asset
	if sameMarket {
		collateralMarket = debtMarket
	}

	now := e.now()
	interest, accrued := accrueMarket(debtMarket, now)

	if !e.liquidatable(borrower) {
		return nil, nil, ErrPositionHealthy
	}

	debtRecord := e.state.Account(borrower, debtMarket.Asset)
	if debtRecord.Borrowed.Cmp(repayQty) < 0 {
		return nil, nil, ErrInsufficientBalance
	}
	collateralRecord := debtRecord
	if !sameMarket {
		collateralRecord = e.state.Account(borrower, collateralMarket.Asset)
	}
	if collateralRecord.Deposited.Sign() == 0 {
		return nil, nil, ErrNoCollateralToSeize
	}

	debtValue, err := e.valueOf(debtMarket.Asset, repayQty)
	if err != nil {
		return nil, nil, err
	}
	bonus := mulBps(debtValue, e.params.LiquidationBonusBps)
	seizeValue := new(big.Int).Add(debtValue, bonus)
	seizeQty, err := e.oracle.QuantityOf(collateralMarket.Asset, seizeValue)
	if err != nil {
		return nil, nil, err
	}
	if seizeQty == nil {
		seizeQty = big.NewInt(0)
	}
	if seizeQty.Cmp(collateralRecord.Deposited) > 0 {
		seizeQty = new(big.Int).Set(collateralRecord.Deposited)
	}
	seizedValue, err := e.valueOf(collateralMarket.Asset, seizeQty)
	if err != nil {
		return nil, nil, err
	}

	if err := e.transfer.TransferIn(debtMarket.Asset, liquidator, repayQty); err != nil {
		return nil, nil, transferFailed(err)
	}

	debtRecord.Borrowed = new(big.Int).Sub(debtRecord.Borrowed, repayQty)
	debtRecord.LastInterestTime = now
	debtMarket.TotalBorrowed = subClamped(debtMarket.TotalBorrowed, repayQty)
	collateralRecord.Deposited = new(big.Int).Sub(collateralRecord.Deposited, seizeQty)
	collateralMarket.TotalDeposited = subClamped(collateralMarket.TotalDeposited, seizeQty)

	if err := e.transfer.TransferOut(collateralMarket.Asset, liquidator, seizeQty); err != nil {
		payout := transferFailed(err)
		if refundErr := e.transfer.TransferOut(debtMarket.Asset, liquidator, repayQty); refundErr != nil {
			return nil, nil, errors.Join(payout, transferFailed(refundErr))
		}
		return nil, nil, payout
	}

	e.state.putMarket(debtMarket)
	if !sameMarket {
		e.state.putMarket(collateralMarket)
	}
	e.state.putAccount(debtRecord)
	if !sameMarket {
		e.state.putAccount(collateralRecord)
	}
	e.state.setBorrowed(borrower, subClamped(e.state.BorrowValue(borrower), debtValue))
	e.state.setCollateral(borrower, subClamped(e.state.CollateralValue(borrower), seizedValue))

	e.emitAccrual(debtMarket.Asset, interest, accrued, now)
	e.emit(Liquidated{
		Liquidator:      liquidator,
		Borrower:        borrower,
		DebtAsset:       debtMarket.Asset,
		CollateralAsset: collateralMarket.Asset,
		Repaid:          cloneBig(repayQty),
		Seized:          cloneBig(seizeQty),
	})
	return cloneBig(repayQty), cloneBig(seizeQty), nil
}
